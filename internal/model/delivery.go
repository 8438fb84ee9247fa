package model

import "time"

// EndpointOutcome is the push API verdict for one endpoint.
type EndpointOutcome struct {
	Endpoint string `json:"endpoint"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// DeliveryResult summarises one multicast dispatch.
type DeliveryResult struct {
	SuccessCount int               `json:"successCount"`
	FailureCount int               `json:"failureCount"`
	Responses    []EndpointOutcome `json:"responses,omitempty"`
}

// Delivery log statuses.
const (
	DeliverySuccess = "SUCCESS"
	DeliveryFailed  = "FAILED"
)

// DeliveryLog tracks each per-recipient send.
type DeliveryLog struct {
	ID             uint64    `json:"id"`
	NotificationID string    `json:"notificationId,omitempty"`
	JourneyID      string    `json:"journeyId,omitempty"`
	UserID         string    `json:"userId"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	SuccessCount   int       `json:"successCount"`
	FailureCount   int       `json:"failureCount"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// DeliveryLogFilter describes query parameters for log searching.
type DeliveryLogFilter struct {
	NotificationID string
	JourneyID      string
	UserID         string
	Status         string
	BeginTime      *time.Time
	EndTime        *time.Time
	Page           int
	PageSize       int
}
