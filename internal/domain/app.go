package domain

import (
	"github.com/google/uuid"
	"regexp"
	"strings"
	"time"
)

type AppStatus string

const (
	AppStatusActive   AppStatus = "Active"
	AppStatusDelisted AppStatus = "Delisted"
)

type App struct {
	ID          uuid.UUID `json:"id" db:"id"`
	DeveloperID uuid.UUID `json:"developer_id" db:"developer_id"`
	Name        string    `json:"name" db:"name"`
	// Slug - SanitizeAppName(Name) на момент создания, уникален у разработчика
	Slug        string    `json:"slug" db:"slug"`
	Description string    `json:"description" db:"description"`
	Category    string    `json:"category" db:"category"`
	Platform    string    `json:"platform" db:"platform"`
	Price       float64   `json:"price" db:"price"`
	// AppStatus производный: меняется только через агрегатор статуса
	AppStatus AppStatus `json:"app_status" db:"app_status"`
	IsDeleted bool      `json:"is_deleted" db:"is_deleted"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DeriveAppStatus: Active тогда и только тогда, когда есть опубликованная версия и цена больше нуля
func DeriveAppStatus(publishedVersions int, price float64) AppStatus {
	if publishedVersions > 0 && price > 0 {
		return AppStatusActive
	}
	return AppStatusDelisted
}

var (
	slugInvalid    = regexp.MustCompile(`[^a-z0-9]+`)
	segmentInvalid = regexp.MustCompile(`[^A-Za-z0-9._+-]+`)
)

// SanitizeAppName приводит имя приложения к виду, пригодному для ключа объекта
func SanitizeAppName(name string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "app"
	}
	return slug
}

// SameVersion сравнивает строки версий так, как они попадут в ключ объекта
func SameVersion(a, b string) bool {
	return SanitizeSegment(a) == SanitizeSegment(b)
}

// SanitizeSegment очищает произвольный сегмент пути (версию, имя файла)
func SanitizeSegment(s string) string {
	s = segmentInvalid.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return "_"
	}
	return s
}

// PublishedKey строит ключ {developerId}/{sanitized-app-name}/{version}/{filename}
func PublishedKey(developerID uuid.UUID, appSlug, version, filename string) string {
	return strings.Join([]string{
		developerID.String(),
		SanitizeAppName(appSlug),
		SanitizeSegment(version),
		SanitizeSegment(filename),
	}, "/")
}

// ScreenshotKey - ключ скриншота в зоне публикации
func ScreenshotKey(developerID uuid.UUID, appName, filename string) string {
	return strings.Join([]string{
		developerID.String(),
		SanitizeAppName(appName),
		"screenshots",
		SanitizeSegment(filename),
	}, "/")
}

// StagingKey - ключ загруженного клиентом объекта в карантине
func StagingKey(submissionID uuid.UUID, name string) string {
	return submissionID.String() + "/" + name
}

// ValidObjectName проверяет имя, заявленное клиентом для загруженного объекта
func ValidObjectName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	return !strings.ContainsAny(name, "/\\") && name != "." && name != ".."
}

// BaseName возвращает последний сегмент ключа объекта
func BaseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
