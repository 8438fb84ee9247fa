package model

import "time"

// UserProfile is the subset of a user record the scheduler reads.
type UserProfile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	PushToken  string    `json:"pushToken,omitempty"`
	PushTokens []string  `json:"pushTokens,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Endpoints returns every endpoint field present on the profile, in field
// order. Empty values are skipped; duplicates are left to the caller.
func (u *UserProfile) Endpoints() []string {
	out := make([]string, 0, len(u.PushTokens)+1)
	if u.PushToken != "" {
		out = append(out, u.PushToken)
	}
	for _, token := range u.PushTokens {
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

// UserView hides endpoint values when returning profiles to clients.
type UserView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Endpoints []string `json:"endpoints"`
}
