package domain

import (
	"github.com/google/uuid"
	"time"
)

type DeveloperProfile struct {
	ID          uuid.UUID `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
