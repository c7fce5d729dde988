package models

import "time"

// Account mirrors the identity provider's subject plus the push registration
// this service owns. Rows are created lazily on first device registration.
type Account struct {
	SubjectID string    `json:"subject_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	PushToken *string   `json:"push_token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
