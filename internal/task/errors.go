package task

import "errors"

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrIllegalState     = errors.New("illegal task status for operation")
	ErrInvalidConfig    = errors.New("invalid ocr config")
	ErrNoFiles          = errors.New("no files provided")
)
