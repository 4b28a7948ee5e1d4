// Package events описывает сообщения шины: задания на проверку, события-исходы
// проверки и доменные события приложений. Все сообщения - плоский JSON с полем "type".
package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Топики шины
const (
	TopicFileValidation       = "pipeline.file-validation"
	TopicScreenshotValidation = "pipeline.screenshot-validation"
	TopicValidationOutcomes   = "pipeline.validation-outcomes"
	TopicApps                 = "apps.events"
)

// Типы сообщений
const (
	TypeFileValidationJob       = "FileValidationRequested"
	TypeScreenshotValidationJob = "ScreenshotValidationRequested"
	TypeValidationSucceeded     = "ValidationSucceeded"
	TypeValidationFailed        = "ValidationFailed"
	TypeScreenshotProcessed     = "ScreenshotProcessed"
	TypeAppVersionSubmitted     = "AppVersionSubmitted"
	TypeAppVersionApproved      = "AppVersionApproved"
	TypeAppVersionUnpublished   = "AppVersionUnpublished"
)

// Event - любое сообщение, которое можно положить в шину
type Event interface {
	EventType() string
}

// FileValidationJob несёт только идентификатор объекта в карантине
type FileValidationJob struct {
	ObjectKey string `json:"objectKey"`
}

type ScreenshotValidationJob struct {
	ObjectKey string `json:"objectKey"`
}

func (FileValidationJob) EventType() string       { return TypeFileValidationJob }
func (ScreenshotValidationJob) EventType() string { return TypeScreenshotValidationJob }

// Outcome - закрытое объединение исходов проверки:
// ValidationSucceeded | ValidationFailed | ScreenshotProcessed
type Outcome interface {
	Event
	outcome()
}

type ValidationSucceeded struct {
	AppID     uuid.UUID `json:"appId"`
	AppFileID uuid.UUID `json:"appFileId"`
	Path      string    `json:"path"`
}

// ValidationFailed относится либо к основному файлу (AppFileID), либо к скриншоту (ScreenshotID)
type ValidationFailed struct {
	AppID        uuid.UUID  `json:"appId"`
	AppFileID    *uuid.UUID `json:"appFileId,omitempty"`
	ScreenshotID *uuid.UUID `json:"screenshotId,omitempty"`
	Reason       string     `json:"reason"`
	Path         string     `json:"path"`
}

type ScreenshotProcessed struct {
	AppID         uuid.UUID `json:"appId"`
	ScreenshotID  uuid.UUID `json:"screenshotId"`
	Checksum      string    `json:"checksum"`
	ThumbnailPath string    `json:"thumbnailPath,omitempty"`
}

func (ValidationSucceeded) EventType() string { return TypeValidationSucceeded }
func (ValidationFailed) EventType() string    { return TypeValidationFailed }
func (ScreenshotProcessed) EventType() string { return TypeScreenshotProcessed }

func (ValidationSucceeded) outcome() {}
func (ValidationFailed) outcome()    {}
func (ScreenshotProcessed) outcome() {}

type AppVersionSubmitted struct {
	AppID       uuid.UUID `json:"appId"`
	VersionID   uuid.UUID `json:"versionId"`
	DeveloperID uuid.UUID `json:"developerId"`
	Version     string    `json:"version"`
}

type AppVersionApproved struct {
	AppID               uuid.UUID  `json:"appId"`
	VersionID           uuid.UUID  `json:"versionId"`
	SupersededVersionID *uuid.UUID `json:"supersededVersionId,omitempty"`
	Path                string     `json:"path"`
	AppStatus           string     `json:"appStatus"`
}

type AppVersionUnpublished struct {
	AppID                uuid.UUID  `json:"appId"`
	VersionID            uuid.UUID  `json:"versionId"`
	RepublishedVersionID *uuid.UUID `json:"republishedVersionId,omitempty"`
	AppStatus            string     `json:"appStatus"`
}

func (AppVersionSubmitted) EventType() string   { return TypeAppVersionSubmitted }
func (AppVersionApproved) EventType() string    { return TypeAppVersionApproved }
func (AppVersionUnpublished) EventType() string { return TypeAppVersionUnpublished }

// Encode сериализует событие в плоский JSON, добавляя поле "type"
func Encode(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", e.EventType(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("event %s is not a JSON object", e.EventType())
	}

	typeField, _ := json.Marshal(e.EventType())
	out := make([]byte, 0, len(body)+len(typeField)+10)
	out = append(out, `{"type":`...)
	out = append(out, typeField...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}

// TypeOf читает дискриминатор без полного разбора
func TypeOf(payload []byte) string {
	return gjson.GetBytes(payload, "type").String()
}

// ErrUnknownType возвращается для сообщений с незнакомым дискриминатором
type ErrUnknownType struct {
	Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

// DecodeOutcome разбирает сообщение топика исходов. Неизвестные поля игнорируются.
func DecodeOutcome(payload []byte) (Outcome, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("malformed outcome payload")
	}

	switch t := TypeOf(payload); t {
	case TypeValidationSucceeded:
		var e ValidationSucceeded
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", t, err)
		}
		return e, nil
	case TypeValidationFailed:
		var e ValidationFailed
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", t, err)
		}
		return e, nil
	case TypeScreenshotProcessed:
		var e ScreenshotProcessed
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", t, err)
		}
		return e, nil
	default:
		return nil, &ErrUnknownType{Type: t}
	}
}

// DecodeJob разбирает задание на проверку (файла или скриншота) и возвращает ключ объекта
func DecodeJob(payload []byte) (string, error) {
	key := gjson.GetBytes(payload, "objectKey")
	if !key.Exists() || key.String() == "" {
		return "", fmt.Errorf("job payload has no objectKey")
	}
	return key.String(), nil
}
