package relaydrive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CatalogBackend persists the topic catalog as one document. Load returns
// (nil, nil) when no document exists yet.
type CatalogBackend interface {
	Load() ([]Topic, error)
	Save(topics []Topic) error
}

// SelectionBackend persists the user-id to topic-name table as one document.
// Load returns (nil, nil) when no document exists yet.
type SelectionBackend interface {
	Load() (map[int64]string, error)
	Save(selections map[int64]string) error
}

type backendCloser interface {
	Close() error
}

const catalogSchemaText = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["name", "destinationId"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"destinationId": {"type": "string", "minLength": 1},
			"hashtag": {"type": "string"},
			"description": {"type": "string"}
		}
	}
}`

var (
	catalogSchemaOnce sync.Once
	catalogSchema     *jsonschema.Schema
	catalogSchemaErr  error
)

func compiledCatalogSchema() (*jsonschema.Schema, error) {
	catalogSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(catalogSchemaText))
		if err != nil {
			catalogSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("catalog.schema.json", doc); err != nil {
			catalogSchemaErr = err
			return
		}
		catalogSchema, catalogSchemaErr = compiler.Compile("catalog.schema.json")
	})
	return catalogSchema, catalogSchemaErr
}

func validateCatalogDocument(data []byte) error {
	schema, err := compiledCatalogSchema()
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return schema.Validate(instance)
}

// JSONCatalogBackend stores the catalog as a JSON array on disk. The
// catalog file is meant to be hand-editable, so documents are validated
// against a schema on load and written indented.
type JSONCatalogBackend struct {
	Path string
}

func NewJSONCatalogBackend(path string) *JSONCatalogBackend {
	return &JSONCatalogBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONCatalogBackend) Load() ([]Topic, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if err := validateCatalogDocument(data); err != nil {
		return nil, fmt.Errorf("catalog schema: %w", err)
	}
	var topics []Topic
	if err := json.Unmarshal(data, &topics); err != nil {
		return nil, err
	}
	if topics == nil {
		topics = []Topic{}
	}
	return topics, nil
}

func (b *JSONCatalogBackend) Save(topics []Topic) error {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil
	}
	if topics == nil {
		topics = []Topic{}
	}
	data, err := json.MarshalIndent(topics, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(b.Path, data)
}

// JSONSelectionBackend stores the selection table as a JSON object mapping
// stringified user id to topic name.
type JSONSelectionBackend struct {
	Path string
}

func NewJSONSelectionBackend(path string) *JSONSelectionBackend {
	return &JSONSelectionBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONSelectionBackend) Load() (map[int64]string, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
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

func (b *JSONSelectionBackend) Save(selections map[int64]string) error {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil
	}
	raw := make(map[string]string, len(selections))
	for userID, topicName := range selections {
		raw[strconv.FormatInt(userID, 10)] = topicName
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(b.Path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// MemoryCatalogBackend keeps the catalog document in memory.
type MemoryCatalogBackend struct {
	mu     sync.Mutex
	topics []Topic
	saved  bool
}

func NewMemoryCatalogBackend() *MemoryCatalogBackend {
	return &MemoryCatalogBackend{}
}

func (b *MemoryCatalogBackend) Load() ([]Topic, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.saved {
		return nil, nil
	}
	topics := make([]Topic, len(b.topics))
	copy(topics, b.topics)
	return topics, nil
}

func (b *MemoryCatalogBackend) Save(topics []Topic) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append([]Topic(nil), topics...)
	b.saved = true
	return nil
}

// MemorySelectionBackend keeps the selection document in memory.
type MemorySelectionBackend struct {
	mu         sync.Mutex
	selections map[int64]string
	saved      bool
}

func NewMemorySelectionBackend() *MemorySelectionBackend {
	return &MemorySelectionBackend{}
}

func (b *MemorySelectionBackend) Load() (map[int64]string, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.saved {
		return nil, nil
	}
	return copySelections(b.selections), nil
}

func (b *MemorySelectionBackend) Save(selections map[int64]string) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selections = copySelections(selections)
	b.saved = true
	return nil
}

func copySelections(selections map[int64]string) map[int64]string {
	out := make(map[int64]string, len(selections))
	for userID, topicName := range selections {
		out[userID] = topicName
	}
	return out
}

func sortedUserIDs(selections map[int64]string) []int64 {
	ids := make([]int64, 0, len(selections))
	for userID := range selections {
		ids = append(ids, userID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
