package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentworkforce/relaydrive/internal/relaydrive"
	"github.com/agentworkforce/relaydrive/internal/storage/memory"
)

type fakeTransport struct {
	mu          sync.Mutex
	replies     []string
	reactions   []relaydrive.FeedbackState
	payloads    map[string][]byte
	downloadErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{payloads: map[string][]byte{}}
}

func (f *fakeTransport) Reply(ctx context.Context, chatID, messageID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeTransport) React(ctx context.Context, chatID, messageID int64, state relaydrive.FeedbackState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, state)
	return nil
}

func (f *fakeTransport) Download(ctx context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	payload, ok := f.payloads[fileID]
	if !ok {
		return nil, errors.New("unknown file id")
	}
	return payload, nil
}

func (f *fakeTransport) lastReply(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		t.Fatal("expected a reply")
	}
	return f.replies[len(f.replies)-1]
}

func (f *fakeTransport) recordedReactions() []relaydrive.FeedbackState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]relaydrive.FeedbackState(nil), f.reactions...)
}

type manualTimer struct{ stopped bool }

func (t *manualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type manualScheduler struct {
	mu    sync.Mutex
	fires []func()
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) relaydrive.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fires = append(s.fires, f)
	return &manualTimer{}
}

func (s *manualScheduler) fire(t *testing.T, index int) {
	t.Helper()
	s.mu.Lock()
	if index >= len(s.fires) {
		s.mu.Unlock()
		t.Fatalf("no scheduled flush at index %d", index)
	}
	fn := s.fires[index]
	s.mu.Unlock()
	fn()
}

type fixture struct {
	dispatcher *Dispatcher
	transport  *fakeTransport
	store      *relaydrive.TopicStore
	client     *memory.Client
	scheduler  *manualScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	transport := newFakeTransport()
	client := memory.NewClient()
	scheduler := &manualScheduler{}
	store := relaydrive.NewTopicStore(relaydrive.TopicStoreOptions{DefaultDestination: "dest-default"})
	uploader := relaydrive.NewUploader(relaydrive.UploaderOptions{Client: client})
	aggregator := relaydrive.NewAggregator(relaydrive.AggregatorOptions{
		Store:     store,
		Uploader:  uploader,
		Notifier:  ReactionNotifier{Transport: transport},
		Scheduler: scheduler,
	})
	dispatcher := NewDispatcher(DispatcherOptions{
		Transport:  transport,
		Store:      store,
		Uploader:   uploader,
		Aggregator: aggregator,
		Now: func() time.Time {
			return time.Date(2024, 3, 15, 9, 30, 45, 0, time.UTC)
		},
	})
	return &fixture{
		dispatcher: dispatcher,
		transport:  transport,
		store:      store,
		client:     client,
		scheduler:  scheduler,
	}
}

func TestStartCommandReplies(t *testing.T) {
	fx := newFixture(t)
	fx.dispatcher.Handle(context.Background(), Event{ChatID: 1, MessageID: 1, SenderID: 7, Command: "start"})
	if reply := fx.transport.lastReply(t); !strings.Contains(reply, "/topic") {
		t.Fatalf("expected usage hint in start reply, got %q", reply)
	}
}

func TestTopicsCommandListsCatalog(t *testing.T) {
	fx := newFixture(t)
	fx.dispatcher.Handle(context.Background(), Event{SenderID: 7, Command: "topics"})
	if reply := fx.transport.lastReply(t); !strings.Contains(reply, "No topics") {
		t.Fatalf("expected empty-catalog reply, got %q", reply)
	}

	if _, err := fx.store.AddTopic("invoices", "dest-1", "", ""); err != nil {
		t.Fatalf("AddTopic: %v", err)
	}
	if _, err := fx.store.AddTopic("media", "dest-2", "", ""); err != nil {
		t.Fatalf("AddTopic: %v", err)
	}
	fx.dispatcher.Handle(context.Background(), Event{SenderID: 7, Command: "topics"})
	reply := fx.transport.lastReply(t)
	if !strings.Contains(reply, "invoices") || !strings.Contains(reply, "media") {
		t.Fatalf("expected both topics listed, got %q", reply)
	}
}

func TestTopicCommandSelectsAndRejects(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.store.AddTopic("invoices", "dest-1", "", ""); err != nil {
		t.Fatalf("AddTopic: %v", err)
	}

	fx.dispatcher.Handle(context.Background(), Event{SenderID: 7, Command: "topic", Args: []string{"invoices"}})
	if got := fx.store.GetUserTopic(7); got != "invoices" {
		t.Fatalf("expected selection recorded, got %q", got)
	}

	fx.dispatcher.Handle(context.Background(), Event{SenderID: 7, Command: "topic", Args: []string{"ghost"}})
	if reply := fx.transport.lastReply(t); !strings.Contains(reply, "Unknown topic") {
		t.Fatalf("expected rejection reply, got %q", reply)
	}
	if got := fx.store.GetUserTopic(7); got != "invoices" {
		t.Fatalf("expected selection unchanged after rejection, got %q", got)
	}

	fx.dispatcher.Handle(context.Background(), Event{SenderID: 7, Command: "topic"})
	if reply := fx.transport.lastReply(t); !strings.Contains(reply, "Usage") {
		t.Fatalf("expected usage reply, got %q", reply)
	}
}

func TestTopicNameActsAsCommand(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.store.AddTopic("receipts", "dest-r", "", ""); err != nil {
		t.Fatalf("AddTopic: %v", err)
	}
	fx.dispatcher.Handle(context.Background(), Event{SenderID: 7, Command: "receipts"})
	if got := fx.store.GetUserTopic(7); got != "receipts" {
		t.Fatalf("expected dynamic command to select topic, got %q", got)
	}

	fx.dispatcher.Handle(context.Background(), Event{SenderID: 7, Command: "bogus"})
	if reply := fx.transport.lastReply(t); !strings.Contains(reply, "Unknown command") {
		t.Fatalf("expected unknown command reply, got %q", reply)
	}
}

func TestCurrentCommand(t *testing.T) {
	fx := newFixture(t)
	fx.dispatcher.Handle(context.Background(), Event{SenderID: 7, Command: "current"})
	if reply := fx.transport.lastReply(t); !strings.Contains(reply, "No topic selected") {
		t.Fatalf("expected no-selection reply, got %q", reply)
	}

	if _, err := fx.store.AddTopic("invoices", "dest-1", "", ""); err != nil {
		t.Fatalf("AddTopic: %v", err)
	}
	if err := fx.store.SetUserTopic(7, "invoices"); err != nil {
		t.Fatalf("SetUserTopic: %v", err)
	}
	fx.dispatcher.Handle(context.Background(), Event{SenderID: 7, Command: "current"})
	if reply := fx.transport.lastReply(t); !strings.Contains(reply, "invoices") {
		t.Fatalf("expected current topic in reply, got %q", reply)
	}
}

func TestTextNoteArchivedWithHashtagAndUsername(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.store.AddTopic("travel", "dest-t", "#trips", ""); err != nil {
		t.Fatalf("AddTopic: %v", err)
	}
	if err := fx.store.SetUserTopic(7, "travel"); err != nil {
		t.Fatalf("SetUserTopic: %v", err)
	}

	fx.dispatcher.Handle(context.Background(), Event{
		ChatID: 1, MessageID: 5, SenderID: 7,
		Username: "traveler",
		Text:     "landed in Lisbon",
	})

	files := fx.client.FilesIn("dest-t")
	if len(files) != 1 {
		t.Fatalf("expected 1 archived note, got %d", len(files))
	}
	if files[0].Name != "Note_20240315_093045.txt" {
		t.Fatalf("unexpected note name %q", files[0].Name)
	}
	content := string(files[0].Content)
	want := "#trips\n@traveler\n\nlanded in Lisbon"
	if content != want {
		t.Fatalf("unexpected note content %q, want %q", content, want)
	}

	reactions := fx.transport.recordedReactions()
	if len(reactions) != 2 || reactions[0] != relaydrive.FeedbackProcessing || reactions[1] != relaydrive.FeedbackSuccess {
		t.Fatalf("unexpected reactions %v", reactions)
	}
}

func TestTextNoteWithoutTopicUsesDefaultDestination(t *testing.T) {
	fx := newFixture(t)
	fx.dispatcher.Handle(context.Background(), Event{SenderID: 9, Text: "plain note"})

	files := fx.client.FilesIn("dest-default")
	if len(files) != 1 {
		t.Fatalf("expected note in default destination, got %d files", len(files))
	}
	if string(files[0].Content) != "plain note" {
		t.Fatalf("expected bare content without prefix, got %q", files[0].Content)
	}
}

func TestSingleAttachmentUploadedWithKindDefaults(t *testing.T) {
	fx := newFixture(t)
	fx.transport.payloads["file-1"] = []byte("jpeg-bytes")

	fx.dispatcher.Handle(context.Background(), Event{
		ChatID: 1, MessageID: 9, SenderID: 7,
		Attachment: &Attachment{Kind: AttachmentPhoto, FileID: "file-1"},
	})

	files := fx.client.FilesIn("dest-default")
	if len(files) != 1 {
		t.Fatalf("expected 1 uploaded file, got %d", len(files))
	}
	if files[0].Name != "photo_20240315_093045.jpg" || files[0].MimeType != "image/jpeg" {
		t.Fatalf("unexpected photo defaults: %+v", files[0])
	}

	reactions := fx.transport.recordedReactions()
	if len(reactions) != 2 || reactions[1] != relaydrive.FeedbackSuccess {
		t.Fatalf("unexpected reactions %v", reactions)
	}
}

func TestAttachmentKindDefaults(t *testing.T) {
	cases := []struct {
		kind     AttachmentKind
		filename string
		mime     string
		wantName string
		wantMime string
	}{
		{AttachmentPhoto, "ignored.png", "image/png", "photo_20240315_093045.jpg", "image/jpeg"},
		{AttachmentVideo, "", "", "video_20240315_093045.mp4", "video/mp4"},
		{AttachmentVideo, "clip.mov", "video/quicktime", "clip.mov", "video/quicktime"},
		{AttachmentVoice, "ignored.bin", "audio/weird", "voice_20240315_093045.ogg", "audio/ogg"},
		{AttachmentAudio, "", "", "audio_20240315_093045.mp3", "audio/mpeg"},
		{AttachmentAudio, "song.flac", "audio/flac", "song.flac", "audio/flac"},
		{AttachmentDocument, "", "", "file_20240315_093045", "application/octet-stream"},
		{AttachmentDocument, "report.pdf", "application/pdf", "report.pdf", "application/pdf"},
	}
	for _, tc := range cases {
		fx := newFixture(t)
		fx.transport.payloads["f"] = []byte("data")
		fx.dispatcher.Handle(context.Background(), Event{
			SenderID:   7,
			Attachment: &Attachment{Kind: tc.kind, FileID: "f", Filename: tc.filename, MimeType: tc.mime},
		})
		files := fx.client.FilesIn("dest-default")
		if len(files) != 1 {
			t.Fatalf("%s: expected 1 file, got %d", tc.kind, len(files))
		}
		if files[0].Name != tc.wantName || files[0].MimeType != tc.wantMime {
			t.Fatalf("%s: got %q/%q, want %q/%q", tc.kind, files[0].Name, files[0].MimeType, tc.wantName, tc.wantMime)
		}
	}
}

func TestSingleAttachmentDownloadFailure(t *testing.T) {
	fx := newFixture(t)
	fx.transport.downloadErr = errors.New("backend down")

	fx.dispatcher.Handle(context.Background(), Event{
		SenderID:   7,
		Attachment: &Attachment{Kind: AttachmentDocument, FileID: "file-1"},
	})

	if got := len(fx.client.Files()); got != 0 {
		t.Fatalf("expected nothing uploaded, got %d files", got)
	}
	reactions := fx.transport.recordedReactions()
	if len(reactions) != 1 || reactions[0] != relaydrive.FeedbackError {
		t.Fatalf("expected single error reaction, got %v", reactions)
	}
}

func TestGroupedAttachmentsFlushAsAlbum(t *testing.T) {
	fx := newFixture(t)
	fx.transport.payloads["f1"] = []byte("a")
	fx.transport.payloads["f2"] = []byte("b")

	fx.dispatcher.Handle(context.Background(), Event{
		ChatID: 1, MessageID: 10, SenderID: 7, GroupKey: "g1",
		Attachment: &Attachment{Kind: AttachmentPhoto, FileID: "f1"},
	})
	fx.dispatcher.Handle(context.Background(), Event{
		ChatID: 1, MessageID: 11, SenderID: 7, GroupKey: "g1",
		Attachment: &Attachment{Kind: AttachmentPhoto, FileID: "f2"},
	})

	if got := len(fx.client.Files()); got != 0 {
		t.Fatalf("expected no uploads before the group flushes, got %d", got)
	}
	if got := len(fx.transport.recordedReactions()); got != 0 {
		t.Fatalf("expected no reactions at intake for grouped members, got %d", got)
	}

	fx.scheduler.fire(t, 0)

	files := fx.client.Files()
	if len(files) != 2 {
		t.Fatalf("expected 2 files after flush, got %d", len(files))
	}
	if files[0].ParentID != files[1].ParentID {
		t.Fatal("expected both files in the same album")
	}
	reactions := fx.transport.recordedReactions()
	if len(reactions) != 2 || reactions[0] != relaydrive.FeedbackProcessing || reactions[1] != relaydrive.FeedbackSuccess {
		t.Fatalf("unexpected reactions %v", reactions)
	}
}

func TestGroupedDownloadFailureStillJoinsGroup(t *testing.T) {
	fx := newFixture(t)
	fx.transport.payloads["good"] = []byte("a")

	fx.dispatcher.Handle(context.Background(), Event{
		ChatID: 1, MessageID: 10, SenderID: 7, GroupKey: "g1",
		Attachment: &Attachment{Kind: AttachmentPhoto, FileID: "good"},
	})
	fx.dispatcher.Handle(context.Background(), Event{
		ChatID: 1, MessageID: 11, SenderID: 7, GroupKey: "g1",
		Attachment: &Attachment{Kind: AttachmentPhoto, FileID: "missing"},
	})
	fx.scheduler.fire(t, 0)

	files := fx.client.Files()
	if len(files) != 1 {
		t.Fatalf("expected only the downloadable member uploaded, got %d", len(files))
	}
}

func TestDetailedErrorsIncludeCause(t *testing.T) {
	transport := newFakeTransport()
	transport.downloadErr = errors.New("backend down")
	client := memory.NewClient()
	store := relaydrive.NewTopicStore(relaydrive.TopicStoreOptions{DefaultDestination: "dest-default"})
	dispatcher := NewDispatcher(DispatcherOptions{
		Transport:          transport,
		Store:              store,
		Uploader:           relaydrive.NewUploader(relaydrive.UploaderOptions{Client: client}),
		SendDetailedErrors: true,
	})

	dispatcher.Handle(context.Background(), Event{
		SenderID:   7,
		Attachment: &Attachment{Kind: AttachmentDocument, FileID: "f"},
	})
	if reply := transport.lastReply(t); !strings.Contains(reply, "backend down") {
		t.Fatalf("expected cause in detailed error reply, got %q", reply)
	}
}
