package relaydrive

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/agentworkforce/relaydrive/internal/storage/memory"
)

func fixedClock(t *testing.T) func() time.Time {
	t.Helper()
	at := time.Date(2024, 3, 15, 9, 30, 45, 0, time.UTC)
	return func() time.Time { return at }
}

func TestValidateSizeLimit(t *testing.T) {
	uploader := NewUploader(UploaderOptions{MaxFileSize: 10})
	if err := uploader.Validate(10, ""); err != nil {
		t.Fatalf("expected payload at limit to pass: %v", err)
	}
	err := uploader.Validate(11, "")
	var sizeErr *SizeExceededError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("expected SizeExceededError, got %v", err)
	}
	if sizeErr.Size != 11 || sizeErr.Limit != 10 {
		t.Fatalf("unexpected size error fields: %+v", sizeErr)
	}
}

func TestValidateMimeAllowList(t *testing.T) {
	uploader := NewUploader(UploaderOptions{AllowedMimeTypes: []string{"image/jpeg", "application/pdf"}})
	if err := uploader.Validate(1, "image/jpeg"); err != nil {
		t.Fatalf("expected listed mime to pass: %v", err)
	}
	if err := uploader.Validate(1, ""); err != nil {
		t.Fatalf("expected empty mime to pass: %v", err)
	}
	err := uploader.Validate(1, "video/mp4")
	var mimeErr *MimeRejectedError
	if !errors.As(err, &mimeErr) {
		t.Fatalf("expected MimeRejectedError, got %v", err)
	}

	open := NewUploader(UploaderOptions{})
	if err := open.Validate(1, "anything/at-all"); err != nil {
		t.Fatalf("expected all mimes to pass without allow-list: %v", err)
	}
}

func TestUploadSingle(t *testing.T) {
	client := memory.NewClient()
	uploader := NewUploader(UploaderOptions{Client: client})

	itemID, err := uploader.UploadSingle(context.Background(), "dest-1", "photo.jpg", []byte("jpeg-bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("UploadSingle: %v", err)
	}
	if itemID == "" {
		t.Fatal("expected non-empty item id")
	}
	files := client.FilesIn("dest-1")
	if len(files) != 1 || files[0].Name != "photo.jpg" || files[0].MimeType != "image/jpeg" {
		t.Fatalf("unexpected stored files: %+v", files)
	}
}

func TestUploadSingleRejectsOversizedPayload(t *testing.T) {
	client := memory.NewClient()
	uploader := NewUploader(UploaderOptions{Client: client, MaxFileSize: 4})

	if _, err := uploader.UploadSingle(context.Background(), "dest-1", "big.bin", []byte("too large"), ""); err == nil {
		t.Fatal("expected size validation failure")
	}
	if got := len(client.Files()); got != 0 {
		t.Fatalf("expected nothing stored after rejection, got %d files", got)
	}
}

func TestUploadBatchCreatesTimestampedAlbum(t *testing.T) {
	client := memory.NewClient()
	uploader := NewUploader(UploaderOptions{Client: client, Now: fixedClock(t)})

	items := []BatchItem{
		{Filename: "a.jpg", Payload: []byte("a"), MimeType: "image/jpeg"},
		{Filename: "b.jpg", Payload: []byte("b"), MimeType: "image/jpeg"},
	}
	result, err := uploader.UploadBatch(context.Background(), "dest-1", items)
	if err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}
	if result.ItemsUploaded != 2 {
		t.Fatalf("expected 2 items uploaded, got %d", result.ItemsUploaded)
	}
	folder, ok := client.Folder(result.DestinationID)
	if !ok {
		t.Fatal("expected album folder to exist")
	}
	if folder.Name != "Album_20240315_093045" {
		t.Fatalf("unexpected album name %q", folder.Name)
	}
	if folder.ParentID != "dest-1" {
		t.Fatalf("expected album under dest-1, got %q", folder.ParentID)
	}
	if got := len(client.FilesIn(result.DestinationID)); got != 2 {
		t.Fatalf("expected 2 files in album, got %d", got)
	}
}

func TestUploadBatchAbortsOnFailureKeepingEarlierItems(t *testing.T) {
	client := &failingClient{inner: memory.NewClient(), failAfter: 1}
	uploader := NewUploader(UploaderOptions{Client: client, Now: fixedClock(t)})

	items := []BatchItem{
		{Filename: "ok.jpg", Payload: []byte("a")},
		{Filename: "boom.jpg", Payload: []byte("b")},
		{Filename: "never.jpg", Payload: []byte("c")},
	}
	result, err := uploader.UploadBatch(context.Background(), "dest-1", items)
	if err == nil {
		t.Fatal("expected batch failure")
	}
	if result.ItemsUploaded != 1 {
		t.Fatalf("expected 1 item uploaded before failure, got %d", result.ItemsUploaded)
	}
	if got := len(client.inner.FilesIn(result.DestinationID)); got != 1 {
		t.Fatalf("expected earlier item to stay put, got %d files", got)
	}
}

func TestUploadBatchValidationFailureAborts(t *testing.T) {
	client := memory.NewClient()
	uploader := NewUploader(UploaderOptions{Client: client, MaxFileSize: 2, Now: fixedClock(t)})

	items := []BatchItem{
		{Filename: "ok.jpg", Payload: []byte("a")},
		{Filename: "big.jpg", Payload: []byte("oversized")},
	}
	result, err := uploader.UploadBatch(context.Background(), "dest-1", items)
	var sizeErr *SizeExceededError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("expected SizeExceededError, got %v", err)
	}
	if result.ItemsUploaded != 1 {
		t.Fatalf("expected 1 item before validation failure, got %d", result.ItemsUploaded)
	}
}

func TestUploadTextFormats(t *testing.T) {
	client := memory.NewClient()
	uploader := NewUploader(UploaderOptions{Client: client})

	if _, err := uploader.UploadText(context.Background(), "dest-1", "note body", "Note_20240315_093045", "txt"); err != nil {
		t.Fatalf("UploadText txt: %v", err)
	}
	if _, err := uploader.UploadText(context.Background(), "dest-1", "doc body", "Note_20240315_093046", "doc"); err != nil {
		t.Fatalf("UploadText doc: %v", err)
	}
	if _, err := uploader.UploadText(context.Background(), "dest-1", "odd body", "Note_20240315_093047", "pdf"); err != nil {
		t.Fatalf("UploadText unknown format: %v", err)
	}

	files := client.FilesIn("dest-1")
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	if files[0].Name != "Note_20240315_093045.txt" || files[0].MimeType != "text/plain" {
		t.Fatalf("unexpected txt file: %+v", files[0])
	}
	if files[1].Name != "Note_20240315_093046" || files[1].MimeType != "application/vnd.google-apps.document" {
		t.Fatalf("unexpected doc file: %+v", files[1])
	}
	if files[2].Name != "Note_20240315_093047.txt" {
		t.Fatalf("expected unknown format to fall back to txt: %+v", files[2])
	}
}

func TestUploadTextSkipsAllowListValidation(t *testing.T) {
	client := memory.NewClient()
	uploader := NewUploader(UploaderOptions{Client: client, AllowedMimeTypes: []string{"image/jpeg"}})

	if _, err := uploader.UploadText(context.Background(), "dest-1", "still archived", "Note_x", "txt"); err != nil {
		t.Fatalf("expected text upload to bypass the allow-list: %v", err)
	}
}

// failingClient fails CreateFile after failAfter successful calls.
type failingClient struct {
	inner     *memory.Client
	failAfter int
	calls     int
}

func (c *failingClient) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	return c.inner.CreateFolder(ctx, parentID, name)
}

func (c *failingClient) CreateFile(ctx context.Context, parentID, name string, content []byte, mimeType string) (string, error) {
	if c.calls >= c.failAfter {
		return "", fmt.Errorf("simulated transport failure")
	}
	c.calls++
	return c.inner.CreateFile(ctx, parentID, name, content, mimeType)
}
