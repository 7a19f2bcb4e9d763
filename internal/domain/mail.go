package domain

import "time"

// EmailTemplate is the wire shape of one outbound email, also used as the
// payload element of EMAIL and FAILED_TEMPLATES jobs.
type EmailTemplate struct {
	Recipient      string `json:"recipient"`
	Subject        string `json:"subject"`
	MessageBody    string `json:"messageBody"`
	IsHTML         bool   `json:"html"`
	AttachmentPath string `json:"attachmentPath,omitempty"`
}

// FailedTemplate pairs a template with the reason its send was rejected.
type FailedTemplate struct {
	Template EmailTemplate `json:"template"`
	Cause    string        `json:"cause"`
}

// ViewBookings is the client view a booking notification links to.
const ViewBookings = "BOOKINGS"

type Notification struct {
	UserPID     string
	Message     string
	View        string
	ReferenceID string
	CreatedAt   time.Time
}

// Instance is one scheduler process in the registry.
type Instance struct {
	Identity      string
	Hostname      string
	StartedAt     time.Time
	LastHeartbeat time.Time
}
