package store

import "time"

// Notification is one inbox row. Group deliveries produce one row per
// role member.
type Notification struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipientId"`
	SenderID    int64     `json:"senderId"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	LinkedType  string    `json:"linkedType"`
	LinkedID    int64     `json:"linkedId"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}
