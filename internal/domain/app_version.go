package domain

import (
	"github.com/google/uuid"
	"time"
)

type VersionStatus string

const (
	VersionDraft             VersionStatus = "Draft"
	VersionPendingValidation VersionStatus = "PendingValidation"
	VersionPendingApproval   VersionStatus = "PendingApproval"
	VersionPublished         VersionStatus = "Published"
	VersionRejected          VersionStatus = "Rejected"
	VersionSuperseded        VersionStatus = "Superseded"
	VersionArchived          VersionStatus = "Archived"
	VersionBanned            VersionStatus = "Banned"
)

type AppVersion struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	AppID        uuid.UUID     `json:"app_id" db:"app_id"`
	SubmissionID uuid.UUID     `json:"submission_id" db:"submission_id"`
	Version      string        `json:"version" db:"version"`
	Changelog    string        `json:"changelog" db:"changelog"`
	Status       VersionStatus `json:"status" db:"status"`
	StatusReason *string       `json:"status_reason,omitempty" db:"status_reason"`
	AppFileID    uuid.UUID     `json:"app_file_id" db:"app_file_id"`
	IsDeleted    bool          `json:"is_deleted" db:"is_deleted"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// Допустимые переходы. Только вперёд: Rejected и Banned не воскрешаются.
var versionTransitions = map[VersionStatus][]VersionStatus{
	VersionDraft:             {VersionPendingValidation},
	VersionPendingValidation: {VersionPendingApproval, VersionRejected},
	VersionPendingApproval:   {VersionPublished, VersionRejected, VersionArchived},
	VersionPublished:         {VersionSuperseded, VersionBanned, VersionArchived},
	VersionSuperseded:        {VersionPublished, VersionArchived, VersionBanned},
}

// CanTransition сообщает, разрешён ли переход from -> to
func CanTransition(from, to VersionStatus) bool {
	for _, next := range versionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ZoneForStatus возвращает зону, в которой лежит основной файл версии с данным статусом
func ZoneForStatus(status VersionStatus) (Zone, bool) {
	switch status {
	case VersionDraft, VersionPendingValidation:
		return ZoneQuarantine, true
	case VersionPendingApproval:
		return ZoneValidated, true
	case VersionPublished, VersionSuperseded:
		return ZonePublished, true
	case VersionRejected:
		return ZoneRejected, true
	case VersionArchived:
		return ZoneArchived, true
	}
	return "", false
}
