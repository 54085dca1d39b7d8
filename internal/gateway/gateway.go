// Package gateway connects a chat transport to the relay pipeline. It
// routes commands, text notes and attachments coming from a chat backend
// into the topic store, uploader and aggregator.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentworkforce/relaydrive/internal/relaydrive"
)

type AttachmentKind string

const (
	AttachmentPhoto    AttachmentKind = "photo"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentVoice    AttachmentKind = "voice"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentDocument AttachmentKind = "document"
)

const fileTimestampLayout = "20060102_150405"

type Attachment struct {
	Kind     AttachmentKind
	FileID   string
	Filename string
	MimeType string
	Size     int64
}

// Event is one inbound chat message, already decoded from the wire.
type Event struct {
	ChatID    int64
	MessageID int64
	SenderID  int64
	Username  string
	Text      string
	Command   string
	Args      []string
	// GroupKey ties members of an attachment burst together. Empty means
	// the attachment stands alone.
	GroupKey   string
	Attachment *Attachment
}

// Transport is the chat backend the dispatcher talks back through.
type Transport interface {
	Reply(ctx context.Context, chatID, messageID int64, text string) error
	React(ctx context.Context, chatID, messageID int64, state relaydrive.FeedbackState) error
	Download(ctx context.Context, fileID string) ([]byte, error)
}

type DispatcherOptions struct {
	Transport          Transport
	Store              *relaydrive.TopicStore
	Uploader           *relaydrive.Uploader
	Aggregator         *relaydrive.Aggregator
	SendDetailedErrors bool
	Logger             *logrus.Logger
	Now                func() time.Time
}

type Dispatcher struct {
	transport  Transport
	store      *relaydrive.TopicStore
	uploader   *relaydrive.Uploader
	aggregator *relaydrive.Aggregator
	detailed   bool
	log        *logrus.Entry
	now        func() time.Time
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		transport:  opts.Transport,
		store:      opts.Store,
		uploader:   opts.Uploader,
		aggregator: opts.Aggregator,
		detailed:   opts.SendDetailedErrors,
		log:        logger.WithField("component", "gateway"),
		now:        now,
	}
}

// Handle routes one inbound event. It is safe to call concurrently; the
// transport invokes it from a goroutine per event.
func (d *Dispatcher) Handle(ctx context.Context, event Event) {
	switch {
	case event.Command != "":
		d.handleCommand(ctx, event)
	case event.Attachment != nil:
		d.handleAttachment(ctx, event)
	case strings.TrimSpace(event.Text) != "":
		d.handleText(ctx, event)
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, event Event) {
	switch event.Command {
	case "start":
		d.reply(ctx, event, "Send me files or notes and I will archive them. Use /topic <name> to pick where they go, /topics to list destinations.")
	case "topics":
		names := d.store.TopicNames()
		if len(names) == 0 {
			d.reply(ctx, event, "No topics configured yet.")
			return
		}
		d.reply(ctx, event, "Available topics:\n"+strings.Join(names, "\n"))
	case "topic":
		if len(event.Args) == 0 {
			d.reply(ctx, event, "Usage: /topic <name>")
			return
		}
		d.selectTopic(ctx, event, event.Args[0])
	case "current":
		name := d.store.GetUserTopic(event.SenderID)
		if name == "" {
			d.reply(ctx, event, "No topic selected. Use /topic <name>.")
			return
		}
		d.reply(ctx, event, "Current topic: "+name)
	default:
		// Topic names double as commands, /invoices selects "invoices".
		if _, err := d.store.GetTopic(event.Command); err == nil {
			d.selectTopic(ctx, event, event.Command)
			return
		}
		d.reply(ctx, event, "Unknown command: /"+event.Command)
	}
}

func (d *Dispatcher) selectTopic(ctx context.Context, event Event, name string) {
	if err := d.store.SetUserTopic(event.SenderID, name); err != nil {
		d.log.WithError(err).WithField("topic", name).Warn("topic selection rejected")
		d.reply(ctx, event, d.errorText("Unknown topic: "+name, err))
		return
	}
	d.reply(ctx, event, "Topic set to "+name+". New uploads will land there.")
}

func (d *Dispatcher) handleText(ctx context.Context, event Event) {
	d.react(ctx, event, relaydrive.FeedbackProcessing)

	hashtag := d.store.ResolveHashtag(event.SenderID)
	var b strings.Builder
	if hashtag != "" {
		b.WriteString(hashtag)
		b.WriteString("\n")
	}
	if event.Username != "" {
		b.WriteString("@" + event.Username)
		b.WriteString("\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(event.Text)

	destinationID, err := d.store.ResolveDestination(event.SenderID)
	if err != nil {
		d.failEvent(ctx, event, "No destination configured.", err)
		return
	}
	name := "Note_" + d.now().UTC().Format(fileTimestampLayout)
	if _, err := d.uploader.UploadText(ctx, destinationID, b.String(), name, ""); err != nil {
		d.failEvent(ctx, event, "Could not archive the note.", err)
		return
	}
	d.react(ctx, event, relaydrive.FeedbackSuccess)
}

func (d *Dispatcher) handleAttachment(ctx context.Context, event Event) {
	ref, err := d.resolveAttachment(ctx, event)
	if err != nil {
		d.log.WithError(err).WithField("fileId", event.Attachment.FileID).Warn("attachment download failed")
		// Grouped members still join their group so the burst resolves as
		// one unit even when a download fails.
		if event.GroupKey == "" {
			d.failEvent(ctx, event, "Could not fetch the attachment.", err)
			return
		}
		ref.Payload = nil
	}

	if event.GroupKey != "" {
		d.aggregator.Add(event.GroupKey, event.SenderID, ref)
		return
	}

	d.react(ctx, event, relaydrive.FeedbackProcessing)
	destinationID, err := d.store.ResolveDestination(event.SenderID)
	if err != nil {
		d.failEvent(ctx, event, "No destination configured.", err)
		return
	}
	if _, err := d.uploader.UploadSingle(ctx, destinationID, ref.Filename, ref.Payload, ref.MimeType); err != nil {
		d.failEvent(ctx, event, "Could not archive the file.", err)
		return
	}
	d.react(ctx, event, relaydrive.FeedbackSuccess)
}

// resolveAttachment downloads the payload and fills per-kind filename and
// MIME defaults. A download error still returns a usable ref so grouped
// members keep their slot.
func (d *Dispatcher) resolveAttachment(ctx context.Context, event Event) (relaydrive.AttachmentRef, error) {
	att := event.Attachment
	stamp := d.now().UTC().Format(fileTimestampLayout)
	filename := att.Filename
	mimeType := att.MimeType
	switch att.Kind {
	case AttachmentPhoto:
		filename = "photo_" + stamp + ".jpg"
		mimeType = "image/jpeg"
	case AttachmentVideo:
		if filename == "" {
			filename = "video_" + stamp + ".mp4"
		}
		if mimeType == "" {
			mimeType = "video/mp4"
		}
	case AttachmentVoice:
		filename = "voice_" + stamp + ".ogg"
		mimeType = "audio/ogg"
	case AttachmentAudio:
		if filename == "" {
			filename = "audio_" + stamp + ".mp3"
		}
		if mimeType == "" {
			mimeType = "audio/mpeg"
		}
	default:
		if filename == "" {
			filename = "file_" + stamp
		}
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
	}
	ref := relaydrive.AttachmentRef{
		Filename: filename,
		MimeType: mimeType,
		Message:  relaydrive.MessageRef{ChatID: event.ChatID, MessageID: event.MessageID},
	}
	payload, err := d.transport.Download(ctx, att.FileID)
	if err != nil {
		return ref, fmt.Errorf("downloading %s: %w", att.FileID, err)
	}
	ref.Payload = payload
	return ref, nil
}

func (d *Dispatcher) failEvent(ctx context.Context, event Event, message string, err error) {
	d.log.WithError(err).WithFields(logrus.Fields{"chatId": event.ChatID, "messageId": event.MessageID}).Error("event failed")
	d.react(ctx, event, relaydrive.FeedbackError)
	d.reply(ctx, event, d.errorText(message, err))
}

func (d *Dispatcher) errorText(message string, err error) string {
	if d.detailed && err != nil {
		return message + " (" + err.Error() + ")"
	}
	return message
}

func (d *Dispatcher) reply(ctx context.Context, event Event, text string) {
	if err := d.transport.Reply(ctx, event.ChatID, event.MessageID, text); err != nil {
		d.log.WithError(err).Warn("sending reply")
	}
}

func (d *Dispatcher) react(ctx context.Context, event Event, state relaydrive.FeedbackState) {
	if err := d.transport.React(ctx, event.ChatID, event.MessageID, state); err != nil {
		d.log.WithError(err).Warn("sending reaction")
	}
}

// ReactionNotifier forwards aggregator feedback through the chat transport
// as message reactions.
type ReactionNotifier struct {
	Transport Transport
	Log       *logrus.Entry
}

func (n ReactionNotifier) Signal(ctx context.Context, msg relaydrive.MessageRef, state relaydrive.FeedbackState) {
	if err := n.Transport.React(ctx, msg.ChatID, msg.MessageID, state); err != nil && n.Log != nil {
		n.Log.WithError(err).Warn("sending reaction")
	}
}
