package models

import "time"

// Notice is an asynchronous message for a chat session, delivered outside the
// request/reply cycle of a command.
type Notice struct {
	Type    string    `json:"type"`
	Session string    `json:"session"`
	GroupID string    `json:"group_id"`
	UserID  string    `json:"user_id"`
	Text    string    `json:"text"`
	SentAt  time.Time `json:"sent_at"`
}

// NoticeConfirmationExpired is sent when an advanced-enable request times out.
const NoticeConfirmationExpired = "confirmation_expired"
