package shared

import (
	"github.com/google/uuid"
)

// User represents an authenticated user in the system
type User struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	IsAdmin bool      `json:"is_admin"`
}
