package model

import "time"

// User is a directory entry plus presence. Created and updated only from
// server snapshots, never locally.
type User struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
