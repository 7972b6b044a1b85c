// Package domain contains core concepts of the chat session.
// This file defines the authenticated user and the credential that backs it.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// User is the profile returned by the auth endpoints.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	FullName  string     `json:"fullName"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Credential is the short-lived access credential.
// It is replaced wholesale, never mutated.
type Credential struct {
	AccessToken string
	// ExpiresAt is informational; the server remains the judge of validity.
	ExpiresAt time.Time
}

func (c Credential) IsZero() bool {
	return c.AccessToken == ""
}
