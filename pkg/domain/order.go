package domain

import "time"

// Order is the result of a completed checkout.
type Order struct {
	ID            int64     `json:"id"`
	OrderNumber   string    `json:"order_number"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	Total         Money     `json:"total"`
	CreatedAt     time.Time `json:"created_at"`
}
