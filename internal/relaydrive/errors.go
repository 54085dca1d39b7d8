package relaydrive

import (
	"errors"
	"fmt"
)

var (
	ErrTopicNotFound = errors.New("topic not found")
	ErrTopicExists   = errors.New("topic already exists")
	ErrNoDestination = errors.New("no destination configured")
	ErrInvalidInput  = errors.New("invalid input")
)

// SizeExceededError reports a payload larger than the configured limit.
type SizeExceededError struct {
	Size  int64
	Limit int64
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("file size %d exceeds maximum %d bytes", e.Size, e.Limit)
}

// MimeRejectedError reports a MIME type absent from the allow-list.
type MimeRejectedError struct {
	MimeType string
}

func (e *MimeRejectedError) Error() string {
	return fmt.Sprintf("mime type not allowed: %s", e.MimeType)
}
