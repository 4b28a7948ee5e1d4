package domain

import (
	"github.com/google/uuid"
	"strings"
	"time"
)

type ScreenshotStatus string

const (
	ScreenshotPendingValidation ScreenshotStatus = "PendingValidation"
	ScreenshotProcessed         ScreenshotStatus = "Processed"
	ScreenshotRejected          ScreenshotStatus = "Rejected"
)

type AppScreenshot struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	AppID         uuid.UUID        `json:"app_id" db:"app_id"`
	AppVersionID  uuid.UUID        `json:"app_version_id" db:"app_version_id"`
	Path          string           `json:"path" db:"path"`
	ThumbnailPath *string          `json:"thumbnail_path,omitempty" db:"thumbnail_path"`
	Status        ScreenshotStatus `json:"status" db:"status"`
	StatusReason  *string          `json:"status_reason,omitempty" db:"status_reason"`
	SizeBytes     int64            `json:"size_bytes" db:"size_bytes"`
	Checksum      string           `json:"checksum" db:"checksum"`
	IsDeleted     bool             `json:"is_deleted" db:"is_deleted"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// Zone: обработанный скриншот остаётся в карантине до публикации версии
func (s AppScreenshot) Zone() Zone {
	switch s.Status {
	case ScreenshotRejected:
		return ZoneRejected
	case ScreenshotProcessed:
		if s.Published() {
			return ZonePublished
		}
	}
	return ZoneQuarantine
}

// Published: ключи опубликованных скриншотов лежат под "{developerId}/{slug}/screenshots/"
func (s AppScreenshot) Published() bool {
	return s.Status == ScreenshotProcessed && isScreenshotKey(s.Path)
}

func isScreenshotKey(key string) bool {
	parts := strings.Split(key, "/")
	return len(parts) == 4 && parts[2] == "screenshots"
}
