package model

// Recipient is a notifiable user.
type Recipient struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}
