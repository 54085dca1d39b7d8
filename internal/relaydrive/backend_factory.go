package relaydrive

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type CatalogBackendFactory func(dsn string) (CatalogBackend, error)
type SelectionBackendFactory func(dsn string) (SelectionBackend, error)

var backendFactoryRegistry = struct {
	mu                 sync.RWMutex
	catalogFactories   map[string]CatalogBackendFactory
	selectionFactories map[string]SelectionBackendFactory
}{
	catalogFactories:   map[string]CatalogBackendFactory{},
	selectionFactories: map[string]SelectionBackendFactory{},
}

func RegisterCatalogBackendFactory(scheme string, factory CatalogBackendFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.catalogFactories[scheme] = factory
}

func RegisterSelectionBackendFactory(scheme string, factory SelectionBackendFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.selectionFactories[scheme] = factory
}

func lookupCatalogBackendFactory(scheme string) (CatalogBackendFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.catalogFactories[scheme]
	return factory, ok
}

func lookupSelectionBackendFactory(scheme string) (SelectionBackendFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.selectionFactories[scheme]
	return factory, ok
}

// BuildCatalogBackendFromDSN resolves a catalog backend from a DSN. A bare
// path or file:// DSN selects the JSON file backend, memory:// the in-memory
// one, postgres:// the snapshot table. Empty DSN returns (nil, nil).
func BuildCatalogBackendFromDSN(dsn string) (CatalogBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupCatalogBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONCatalogBackend(path), nil
	case "memory", "mem", "inmem":
		return NewMemoryCatalogBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresCatalogBackend(dsn)
	default:
		return nil, fmt.Errorf("unsupported catalog backend scheme: %s", scheme)
	}
}

// BuildSelectionBackendFromDSN resolves a selection backend from a DSN with
// the same scheme rules as BuildCatalogBackendFromDSN.
func BuildSelectionBackendFromDSN(dsn string) (SelectionBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupSelectionBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONSelectionBackend(path), nil
	case "memory", "mem", "inmem":
		return NewMemorySelectionBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresSelectionBackend(dsn)
	default:
		return nil, fmt.Errorf("unsupported selection backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
