package relaydrive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentworkforce/relaydrive/internal/storage"
)

const (
	defaultMaxFileSize = 20 * 1024 * 1024

	mimeTypePlainText    = "text/plain"
	mimeTypeRichDocument = "application/vnd.google-apps.document"

	albumTimestampLayout = "20060102_150405"
)

type UploaderOptions struct {
	Client           storage.Client
	MaxFileSize      int64
	AllowedMimeTypes []string
	TextFormat       string
	Logger           *logrus.Logger
	Now              func() time.Time
}

// Uploader validates payloads and forwards them to the archive backend.
// Batch uploads are sequential and not transactional: a failing item aborts
// the rest of the batch but already-uploaded items stay put.
type Uploader struct {
	client      storage.Client
	maxFileSize int64
	allowedMime map[string]struct{}
	textFormat  string
	now         func() time.Time
	log         *logrus.Entry
}

func NewUploader(opts UploaderOptions) *Uploader {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxFileSize
	}
	var allowedMime map[string]struct{}
	for _, mimeType := range opts.AllowedMimeTypes {
		mimeType = strings.TrimSpace(mimeType)
		if mimeType == "" {
			continue
		}
		if allowedMime == nil {
			allowedMime = map[string]struct{}{}
		}
		allowedMime[mimeType] = struct{}{}
	}
	textFormat := strings.ToLower(strings.TrimSpace(opts.TextFormat))
	if textFormat != "txt" && textFormat != "doc" {
		textFormat = "txt"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Uploader{
		client:      opts.Client,
		maxFileSize: maxFileSize,
		allowedMime: allowedMime,
		textFormat:  textFormat,
		now:         now,
		log:         logger.WithField("component", "uploader"),
	}
}

// Validate checks size unconditionally and MIME only when an allow-list is
// configured. An empty MIME type always passes: unknown but permitted.
func (u *Uploader) Validate(size int64, mimeType string) error {
	if size > u.maxFileSize {
		return &SizeExceededError{Size: size, Limit: u.maxFileSize}
	}
	if u.allowedMime == nil || mimeType == "" {
		return nil
	}
	if _, ok := u.allowedMime[mimeType]; !ok {
		return &MimeRejectedError{MimeType: mimeType}
	}
	return nil
}

// UploadSingle validates and uploads one file into the destination. No
// retries; a failure surfaces to the caller.
func (u *Uploader) UploadSingle(ctx context.Context, destinationID, filename string, payload []byte, mimeType string) (string, error) {
	if err := u.Validate(int64(len(payload)), mimeType); err != nil {
		return "", err
	}
	itemID, err := u.client.CreateFile(ctx, destinationID, filename, payload, mimeType)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	u.log.WithFields(logrus.Fields{"filename": filename, "itemId": itemID}).Info("uploaded file")
	return itemID, nil
}

// UploadBatch creates a timestamped album under the destination and uploads
// the items into it in order. The first validation or transport failure
// aborts the remainder; the returned result reports what landed.
func (u *Uploader) UploadBatch(ctx context.Context, destinationID string, items []BatchItem) (UploadBatchResult, error) {
	albumName := "Album_" + u.now().Format(albumTimestampLayout)
	folderID, err := u.client.CreateFolder(ctx, destinationID, albumName)
	if err != nil {
		return UploadBatchResult{}, fmt.Errorf("create album %s: %w", albumName, err)
	}
	result := UploadBatchResult{DestinationID: folderID}
	for _, item := range items {
		if err := u.Validate(int64(len(item.Payload)), item.MimeType); err != nil {
			return result, err
		}
		if _, err := u.client.CreateFile(ctx, folderID, item.Filename, item.Payload, item.MimeType); err != nil {
			return result, fmt.Errorf("upload %s: %w", item.Filename, err)
		}
		result.ItemsUploaded++
	}
	u.log.WithFields(logrus.Fields{"album": albumName, "items": result.ItemsUploaded}).Info("uploaded batch")
	return result, nil
}

// UploadText archives text content as a plain file or a rich document.
// Unrecognized formats fall back to plain text.
func (u *Uploader) UploadText(ctx context.Context, destinationID, content, baseName, format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = u.textFormat
	}
	if format != "txt" && format != "doc" {
		format = "txt"
	}
	payload := []byte(content)
	name := baseName + ".txt"
	mimeType := mimeTypePlainText
	if format == "doc" {
		name = baseName
		mimeType = mimeTypeRichDocument
	}
	itemID, err := u.client.CreateFile(ctx, destinationID, name, payload, mimeType)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	u.log.WithFields(logrus.Fields{"filename": name, "itemId": itemID}).Info("uploaded text")
	return itemID, nil
}
