package domain

import "time"

// Notification types sent by the backend.
const (
	NotifLowStock        = "low_stock"
	NotifNewOrder        = "new_order"
	NotifPaymentReceived = "payment_received"
	NotifDebtReminder    = "debt_reminder"
	NotifSystem          = "system"
)

// Notification represents a single notification addressed to the signed-in user.
type Notification struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
