package model

import "time"

type Notification struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	UserType      UserType         `json:"user_type"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	Type          NotificationType `json:"type"`
	AppointmentID string           `json:"appointment_id,omitempty"`
	IsRead        bool             `json:"is_read"`
	CreatedAt     time.Time        `json:"created_at"`
}
