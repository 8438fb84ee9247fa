package model

import "encoding/json"

// Action is a click-through button attached to a push message.
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Message is the content delivered to every endpoint of a send.
type Message struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon,omitempty"`
	Image   string   `json:"image,omitempty"`
	URL     string   `json:"url,omitempty"`
	Actions []Action `json:"actions,omitempty"`
}

// ActionsJSON serializes the action list for transports that only carry
// string values. A missing list encodes as "[]".
func (m Message) ActionsJSON() string {
	if len(m.Actions) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(m.Actions)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

// NotificationRequest is a one-shot message plus its audience.
type NotificationRequest struct {
	Message
	Target  string   `json:"target"`
	UserID  string   `json:"userId,omitempty"`
	UserIDs []string `json:"userIds,omitempty"`
}
