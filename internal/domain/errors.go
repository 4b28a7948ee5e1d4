package domain

import "errors"

// Классы ошибок конвейера. Конкретные причины оборачиваются через %w.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrValidation        = errors.New("validation failed")
	ErrPartialSubmission = errors.New("submission partially completed, retry")
	// ErrInconsistency: запись в БД зафиксирована, а парное перемещение объекта нет.
	// Исправляется сверкой, не откатом.
	ErrInconsistency = errors.New("record committed but object move failed")
)
