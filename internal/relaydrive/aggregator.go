package relaydrive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultDebounceWindow = 1500 * time.Millisecond

// Scheduler creates one-shot timers. The seam exists so debounce behavior
// is testable without wall-clock sleeps.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type wallClockScheduler struct{}

func (wallClockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return wallClockTimer{timer: time.AfterFunc(d, f)}
}

type wallClockTimer struct {
	timer *time.Timer
}

func (t wallClockTimer) Stop() bool {
	return t.timer.Stop()
}

type pendingGroup struct {
	key      string
	senderID int64
	anchor   MessageRef
	members  []AttachmentRef
	timer    Timer
}

type AggregatorOptions struct {
	Store     *TopicStore
	Uploader  *Uploader
	Notifier  Notifier
	Window    time.Duration
	Scheduler Scheduler
	Logger    *logrus.Logger
}

// Aggregator collects attachment bursts sharing a group key and uploads
// each group as one batch after a fixed quiet window. The window is
// anchored at the first member's arrival and never slides; once the flush
// fires, the key is free and later arrivals open a fresh group.
type Aggregator struct {
	mu     sync.Mutex
	groups map[string]*pendingGroup

	window    time.Duration
	scheduler Scheduler
	store     *TopicStore
	uploader  *Uploader
	notifier  Notifier
	log       *logrus.Entry

	accepted uint64
	flushed  uint64
	failed   uint64
}

type AggregatorStats struct {
	LiveGroups    int    `json:"liveGroups"`
	AcceptedTotal uint64 `json:"acceptedTotal"`
	FlushedTotal  uint64 `json:"flushedTotal"`
	FailedTotal   uint64 `json:"failedTotal"`
}

func NewAggregator(opts AggregatorOptions) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	window := opts.Window
	if window <= 0 {
		window = defaultDebounceWindow
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = wallClockScheduler{}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = logNotifier{log: logger.WithField("component", "aggregator")}
	}
	return &Aggregator{
		groups:    map[string]*pendingGroup{},
		window:    window,
		scheduler: scheduler,
		store:     opts.Store,
		uploader:  opts.Uploader,
		notifier:  notifier,
		log:       logger.WithField("component", "aggregator"),
	}
}

// Add appends one attachment to the group for key, opening the group and
// scheduling its flush when this is the first member. Add never blocks on
// network I/O.
func (a *Aggregator) Add(key string, senderID int64, ref AttachmentRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	group, ok := a.groups[key]
	if !ok {
		group = &pendingGroup{
			key:      key,
			senderID: senderID,
			anchor:   ref.Message,
		}
		group.timer = a.scheduler.AfterFunc(a.window, func() { a.flush(key) })
		a.groups[key] = group
	}
	group.members = append(group.members, ref)
	atomic.AddUint64(&a.accepted, 1)
}

// flush consumes the group exactly once. Removal from the live set happens
// under the same lock as Add, so a late append can never resurrect a group
// that already flushed.
func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	group, ok := a.groups[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.groups, key)
	a.mu.Unlock()

	ctx := context.Background()
	log := a.log.WithFields(logrus.Fields{"groupKey": key, "members": len(group.members)})
	a.notifier.Signal(ctx, group.anchor, FeedbackProcessing)

	items := make([]BatchItem, 0, len(group.members))
	for _, member := range group.members {
		if len(member.Payload) == 0 {
			continue
		}
		items = append(items, BatchItem{
			Filename: member.Filename,
			Payload:  member.Payload,
			MimeType: member.MimeType,
		})
	}
	if len(items) == 0 {
		log.Warn("group had no uploadable payloads, dropping")
		a.notifier.Signal(ctx, group.anchor, FeedbackError)
		atomic.AddUint64(&a.failed, 1)
		return
	}

	destinationID, err := a.store.ResolveDestination(group.senderID)
	if err != nil {
		log.WithError(err).Error("resolving group destination")
		a.notifier.Signal(ctx, group.anchor, FeedbackError)
		atomic.AddUint64(&a.failed, 1)
		return
	}
	result, err := a.uploader.UploadBatch(ctx, destinationID, items)
	if err != nil {
		log.WithError(err).WithField("uploaded", result.ItemsUploaded).Error("group upload failed")
		a.notifier.Signal(ctx, group.anchor, FeedbackError)
		atomic.AddUint64(&a.failed, 1)
		return
	}
	log.WithFields(logrus.Fields{"destinationId": result.DestinationID, "items": result.ItemsUploaded}).Info("group uploaded")
	a.notifier.Signal(ctx, group.anchor, FeedbackSuccess)
	atomic.AddUint64(&a.flushed, 1)
}

func (a *Aggregator) Stats() AggregatorStats {
	a.mu.Lock()
	liveGroups := len(a.groups)
	a.mu.Unlock()
	return AggregatorStats{
		LiveGroups:    liveGroups,
		AcceptedTotal: atomic.LoadUint64(&a.accepted),
		FlushedTotal:  atomic.LoadUint64(&a.flushed),
		FailedTotal:   atomic.LoadUint64(&a.failed),
	}
}

type logNotifier struct {
	log *logrus.Entry
}

func (n logNotifier) Signal(ctx context.Context, msg MessageRef, state FeedbackState) {
	n.log.WithFields(logrus.Fields{"chatId": msg.ChatID, "messageId": msg.MessageID, "state": state}).Debug("feedback signal")
}
