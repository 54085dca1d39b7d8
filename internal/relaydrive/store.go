package relaydrive

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// UserSelection is one row of the persisted selection table.
type UserSelection struct {
	UserID    int64  `json:"userId"`
	TopicName string `json:"topic"`
}

type TopicStoreOptions struct {
	Catalog            CatalogBackend
	Selections         SelectionBackend
	DefaultDestination string
	Logger             *logrus.Logger
}

// TopicStore owns the topic catalog and the per-user topic selection. Both
// mappings are guarded by their own mutex and persisted synchronously on
// every mutation. A failed persist keeps the in-memory mutation and is only
// logged; on startup a missing or unreadable document degrades to empty
// state and an empty document is written back.
type TopicStore struct {
	catalogMu sync.Mutex
	topics    map[string]Topic
	order     []string
	catalog   CatalogBackend

	selectionMu sync.Mutex
	selections  map[int64]string
	selBackend  SelectionBackend

	defaultDestination string
	log                *logrus.Entry
}

func NewTopicStore(opts TopicStoreOptions) *TopicStore {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = NewMemoryCatalogBackend()
	}
	selections := opts.Selections
	if selections == nil {
		selections = NewMemorySelectionBackend()
	}
	s := &TopicStore{
		topics:             map[string]Topic{},
		order:              []string{},
		catalog:            catalog,
		selections:         map[int64]string{},
		selBackend:         selections,
		defaultDestination: strings.TrimSpace(opts.DefaultDestination),
		log:                logger.WithField("component", "topicstore"),
	}
	s.loadCatalog()
	s.loadSelections()
	return s
}

func (s *TopicStore) loadCatalog() {
	topics, err := s.catalog.Load()
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	switch {
	case err != nil:
		s.log.WithError(err).Error("loading topic catalog, starting empty")
		s.resetCatalogLocked()
		s.saveCatalogLocked()
	case topics == nil:
		s.log.Info("topic catalog not found, creating empty catalog")
		s.resetCatalogLocked()
		s.saveCatalogLocked()
	default:
		s.resetCatalogLocked()
		for _, topic := range topics {
			if _, exists := s.topics[topic.Name]; exists {
				continue
			}
			s.topics[topic.Name] = topic
			s.order = append(s.order, topic.Name)
		}
		s.log.WithField("topics", len(s.order)).Info("loaded topic catalog")
	}
}

func (s *TopicStore) loadSelections() {
	selections, err := s.selBackend.Load()
	s.selectionMu.Lock()
	defer s.selectionMu.Unlock()
	switch {
	case err != nil:
		s.log.WithError(err).Error("loading user selections, starting empty")
		s.selections = map[int64]string{}
		s.saveSelectionsLocked()
	case selections == nil:
		s.log.Info("user selection table not found, creating empty table")
		s.selections = map[int64]string{}
		s.saveSelectionsLocked()
	default:
		s.selections = selections
		s.log.WithField("users", len(selections)).Info("loaded user selections")
	}
}

func (s *TopicStore) resetCatalogLocked() {
	s.topics = map[string]Topic{}
	s.order = []string{}
}

func (s *TopicStore) saveCatalogLocked() {
	topics := make([]Topic, 0, len(s.order))
	for _, name := range s.order {
		topics = append(topics, s.topics[name])
	}
	if err := s.catalog.Save(topics); err != nil {
		s.log.WithError(err).Error("persisting topic catalog")
	}
}

func (s *TopicStore) saveSelectionsLocked() {
	if err := s.selBackend.Save(s.selections); err != nil {
		s.log.WithError(err).Error("persisting user selections")
	}
}

// GetTopic returns the topic with the given name.
func (s *TopicStore) GetTopic(name string) (Topic, error) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	topic, ok := s.topics[name]
	if !ok {
		return Topic{}, ErrTopicNotFound
	}
	return topic, nil
}

// ListTopics returns a snapshot of the catalog in insertion order.
func (s *TopicStore) ListTopics() []Topic {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	topics := make([]Topic, 0, len(s.order))
	for _, name := range s.order {
		topics = append(topics, s.topics[name])
	}
	return topics
}

// TopicNames returns the catalog names in insertion order.
func (s *TopicStore) TopicNames() []string {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	return append([]string(nil), s.order...)
}

// AddTopic registers a new topic and persists the catalog. Hashtag and
// description default the way the catalog file documents them.
func (s *TopicStore) AddTopic(name, destinationID, hashtag, description string) (Topic, error) {
	name = strings.TrimSpace(name)
	destinationID = strings.TrimSpace(destinationID)
	if name == "" || destinationID == "" {
		return Topic{}, ErrInvalidInput
	}
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	if _, exists := s.topics[name]; exists {
		return Topic{}, fmt.Errorf("%w: %s", ErrTopicExists, name)
	}
	if hashtag == "" {
		hashtag = "#" + name
	}
	if description == "" {
		description = name + " related content"
	}
	topic := Topic{
		Name:          name,
		DestinationID: destinationID,
		Hashtag:       hashtag,
		Description:   description,
	}
	s.topics[name] = topic
	s.order = append(s.order, name)
	s.saveCatalogLocked()
	s.log.WithField("topic", name).Info("added topic")
	return topic, nil
}

// SetUserTopic validates the topic against the catalog, then updates and
// persists the user's selection.
func (s *TopicStore) SetUserTopic(userID int64, name string) error {
	if _, err := s.GetTopic(name); err != nil {
		return err
	}
	s.selectionMu.Lock()
	defer s.selectionMu.Unlock()
	s.selections[userID] = name
	s.saveSelectionsLocked()
	s.log.WithFields(logrus.Fields{"userId": userID, "topic": name}).Info("user topic set")
	return nil
}

// GetUserTopic returns the user's current topic name, or "" when none is
// selected.
func (s *TopicStore) GetUserTopic(userID int64) string {
	s.selectionMu.Lock()
	defer s.selectionMu.Unlock()
	return s.selections[userID]
}

// ClearUserTopic removes the user's selection and persists the table.
func (s *TopicStore) ClearUserTopic(userID int64) {
	s.selectionMu.Lock()
	defer s.selectionMu.Unlock()
	if _, ok := s.selections[userID]; !ok {
		return
	}
	delete(s.selections, userID)
	s.saveSelectionsLocked()
	s.log.WithField("userId", userID).Info("user topic cleared")
}

// ListSelections returns the selection table ordered by user id.
func (s *TopicStore) ListSelections() []UserSelection {
	s.selectionMu.Lock()
	defer s.selectionMu.Unlock()
	out := make([]UserSelection, 0, len(s.selections))
	for _, userID := range sortedUserIDs(s.selections) {
		out = append(out, UserSelection{UserID: userID, TopicName: s.selections[userID]})
	}
	return out
}

// ResolveDestination returns the destination for the user's selected topic,
// falling back to the configured default. ErrNoDestination when neither
// exists.
func (s *TopicStore) ResolveDestination(userID int64) (string, error) {
	if name := s.GetUserTopic(userID); name != "" {
		if topic, err := s.GetTopic(name); err == nil && topic.DestinationID != "" {
			return topic.DestinationID, nil
		}
	}
	if s.defaultDestination != "" {
		return s.defaultDestination, nil
	}
	return "", ErrNoDestination
}

// ResolveHashtag returns the hashtag of the user's selected topic, or ""
// when the user has no topic or the topic carries no hashtag.
func (s *TopicStore) ResolveHashtag(userID int64) string {
	name := s.GetUserTopic(userID)
	if name == "" {
		return ""
	}
	topic, err := s.GetTopic(name)
	if err != nil {
		return ""
	}
	return topic.Hashtag
}

// ReloadCatalog re-reads the catalog document and swaps it in. Unlike the
// startup load, a failing reload keeps the current in-memory catalog.
func (s *TopicStore) ReloadCatalog() error {
	topics, err := s.catalog.Load()
	if err != nil {
		s.log.WithError(err).Error("reloading topic catalog, keeping current catalog")
		return err
	}
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.resetCatalogLocked()
	for _, topic := range topics {
		if _, exists := s.topics[topic.Name]; exists {
			continue
		}
		s.topics[topic.Name] = topic
		s.order = append(s.order, topic.Name)
	}
	s.log.WithField("topics", len(s.order)).Info("reloaded topic catalog")
	return nil
}

// WatchCatalog reloads the catalog whenever the backing file changes on
// disk. It blocks until the context is canceled and is only meaningful when
// the catalog lives in a file.
func (s *TopicStore) WatchCatalog(ctx context.Context, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return ErrInvalidInput
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			_ = s.ReloadCatalog()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.WithError(err).Warn("catalog watcher")
		}
	}
}

// CloseBackends closes any backend holding external resources.
func (s *TopicStore) CloseBackends() {
	if closer, ok := s.catalog.(backendCloser); ok {
		_ = closer.Close()
	}
	if closer, ok := s.selBackend.(backendCloser); ok {
		_ = closer.Close()
	}
}
