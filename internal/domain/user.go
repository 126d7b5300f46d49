package domain

import (
	"strings"
	"time"
)

// User is a resolved identity as kept by the identity store.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Klasse    *string   `json:"klasse,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Placeholder is set when the identity could not be resolved.
	Placeholder bool `json:"placeholder,omitempty"`
}

// Complete reports whether the record can be shown without a directory refresh.
func (u User) Complete() bool {
	return u.ID != 0 && u.Name != ""
}

// DirectoryUser is a directory entry after attribute normalization.
type DirectoryUser struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Klasse      string `json:"klasse"`
}

// User converts the entry into an unsaved identity record.
func (d DirectoryUser) User() User {
	klasse := d.Klasse
	return User{
		Email:  NormalizeEmail(d.Email),
		Name:   d.DisplayName,
		Klasse: &klasse,
	}
}

// NormalizeEmail is applied before every email key lookup or write.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PlaceholderUser marks a registration whose identity could not be resolved.
func PlaceholderUser(id int64, name string) *User {
	return &User{ID: id, Name: name, Placeholder: true}
}
