package domain

// EmailMessage is an outbound message handed to the email dispatcher.
type EmailMessage struct {
	TenantID string `json:"tenant_id"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}
