package db

import (
	"time"
)

// User represents a portal user that can sign in and manage configs and
// usage logs. The bootstrap admin user (from env) is created as a row in
// this table on startup.
type User struct {
	ID uint `gorm:"primaryKey" json:"id"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Email        string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name         string `gorm:"size:128" json:"name"`
	PasswordHash string `gorm:"size:255;not null" json:"-"`

	// IsAdmin marks users that can manage other users. The bootstrap admin
	// has IsAdmin=true.
	IsAdmin bool `gorm:"default:false" json:"isAdmin"`
}
