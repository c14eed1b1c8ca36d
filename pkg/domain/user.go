package domain

import "strings"

// User is the authenticated staff member behind a session.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Email       string `json:"email,omitempty"`
	IsStaff     bool   `json:"is_staff,omitempty"`
}

// Name returns the best human-readable name for the user.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	return u.Username
}
