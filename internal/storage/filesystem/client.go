// Package filesystem archives files into a local directory tree.
// Destination ids are slash-separated paths relative to the base directory.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Client struct {
	basePath string
}

func NewClient(basePath string) *Client {
	return &Client{basePath: basePath}
}

func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	rel, err := joinRelative(parentID, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(c.basePath, filepath.FromSlash(rel)), 0o755); err != nil {
		return "", fmt.Errorf("create folder %s: %w", rel, err)
	}
	return rel, nil
}

func (c *Client) CreateFile(ctx context.Context, parentID, name string, content []byte, mimeType string) (string, error) {
	rel, err := joinRelative(parentID, name)
	if err != nil {
		return "", err
	}
	full := filepath.Join(c.basePath, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", rel, err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	return rel, nil
}

func joinRelative(parentID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("empty name")
	}
	rel := name
	parent := strings.Trim(strings.TrimSpace(parentID), "/")
	if parent != "" {
		rel = parent + "/" + name
	}
	cleaned := filepath.ToSlash(filepath.Clean(rel))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "/") {
		return "", fmt.Errorf("path escapes archive root: %s", rel)
	}
	return cleaned, nil
}
