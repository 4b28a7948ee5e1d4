package domain

import (
	"github.com/google/uuid"
	"time"
)

// AppFile - основной пакет версии. Path - ключ объекта внутри зоны,
// меняется только после успешного перемещения объекта.
type AppFile struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Path      string    `json:"path" db:"path"`
	SizeBytes int64     `json:"size_bytes" db:"size_bytes"`
	Checksum  string    `json:"checksum" db:"checksum"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
