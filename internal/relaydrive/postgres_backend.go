package relaydrive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresStateTableName   = "relaydrive_state"
	postgresCatalogKey       = "topics"
	postgresSelectionKey     = "user_topics"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// postgresDocumentStore persists whole documents in a single snapshot table
// keyed by document name.
type postgresDocumentStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func newPostgresDocumentStore(dsn string) (*postgresDocumentStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &postgresDocumentStore{
		dsn:       dsn,
		tableName: postgresStateTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *postgresDocumentStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				state_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *postgresDocumentStore) loadDocument(key string) (string, bool, error) {
	if err := s.ensureReady(); err != nil {
		return "", false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT snapshot FROM %s WHERE state_key = $1", postgresQuoteIdentifier(s.tableName))
	var payload string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}

func (s *postgresDocumentStore) saveDocument(key, payload string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (state_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`, postgresQuoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query, key, payload)
	return err
}

func (s *postgresDocumentStore) close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type PostgresCatalogBackend struct {
	core *postgresDocumentStore
}

func NewPostgresCatalogBackend(dsn string) (*PostgresCatalogBackend, error) {
	core, err := newPostgresDocumentStore(dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresCatalogBackend{core: core}, nil
}

func (b *PostgresCatalogBackend) Load() ([]Topic, error) {
	if b == nil || b.core == nil {
		return nil, nil
	}
	payload, found, err := b.core.loadDocument(postgresCatalogKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var topics []Topic
	if err := json.Unmarshal([]byte(payload), &topics); err != nil {
		return nil, err
	}
	if topics == nil {
		topics = []Topic{}
	}
	return topics, nil
}

func (b *PostgresCatalogBackend) Save(topics []Topic) error {
	if b == nil || b.core == nil {
		return nil
	}
	if topics == nil {
		topics = []Topic{}
	}
	payload, err := json.Marshal(topics)
	if err != nil {
		return err
	}
	return b.core.saveDocument(postgresCatalogKey, string(payload))
}

func (b *PostgresCatalogBackend) Close() error {
	if b == nil {
		return nil
	}
	return b.core.close()
}

type PostgresSelectionBackend struct {
	core *postgresDocumentStore
}

func NewPostgresSelectionBackend(dsn string) (*PostgresSelectionBackend, error) {
	core, err := newPostgresDocumentStore(dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresSelectionBackend{core: core}, nil
}

func (b *PostgresSelectionBackend) Load() (map[int64]string, error) {
	if b == nil || b.core == nil {
		return nil, nil
	}
	payload, found, err := b.core.loadDocument(postgresSelectionKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var raw map[string]string
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, err
	}
	selections := make(map[int64]string, len(raw))
	for key, topicName := range raw {
		userID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse user id %q: %w", key, err)
		}
		selections[userID] = topicName
	}
	return selections, nil
}

func (b *PostgresSelectionBackend) Save(selections map[int64]string) error {
	if b == nil || b.core == nil {
		return nil
	}
	raw := make(map[string]string, len(selections))
	for userID, topicName := range selections {
		raw[strconv.FormatInt(userID, 10)] = topicName
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return b.core.saveDocument(postgresSelectionKey, string(payload))
}

func (b *PostgresSelectionBackend) Close() error {
	if b == nil {
		return nil
	}
	return b.core.close()
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
