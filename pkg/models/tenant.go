package models

import (
	"time"
)

// Tenant is an isolation boundary. Every agent, workflow, and run belongs to
// exactly one tenant, resolved from the authenticated user's email domain.
type Tenant struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Domain    string    `json:"domain" db:"domain"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}