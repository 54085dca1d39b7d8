package relaydrive

import "context"

// Topic maps a user-selectable name to an archive destination and an
// optional hashtag label.
type Topic struct {
	Name          string `json:"name"`
	DestinationID string `json:"destinationId"`
	Hashtag       string `json:"hashtag,omitempty"`
	Description   string `json:"description,omitempty"`
}

// MessageRef addresses one chat message for feedback signaling.
type MessageRef struct {
	ChatID    int64 `json:"chatId"`
	MessageID int64 `json:"messageId"`
}

// AttachmentRef is one downloaded attachment ready for upload. A nil or
// empty payload means the source had nothing extractable; such members are
// skipped when their group flushes.
type AttachmentRef struct {
	Filename string
	Payload  []byte
	MimeType string
	Message  MessageRef
}

// BatchItem is one file of a batch upload.
type BatchItem struct {
	Filename string
	Payload  []byte
	MimeType string
}

// UploadBatchResult reports the destination that received a batch and how
// many items landed in it. On a partial failure ItemsUploaded counts the
// items uploaded before the failure; they are not rolled back.
type UploadBatchResult struct {
	DestinationID string
	ItemsUploaded int
}

type FeedbackState string

const (
	FeedbackProcessing FeedbackState = "processing"
	FeedbackSuccess    FeedbackState = "success"
	FeedbackError      FeedbackState = "error"
)

// Notifier delivers feedback signals back to the chat transport. Signal is
// best-effort; implementations must not block on a failing transport.
type Notifier interface {
	Signal(ctx context.Context, msg MessageRef, state FeedbackState)
}
