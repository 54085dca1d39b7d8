// Package memory is an in-process archive client used as the default
// backend and as the test double across the repo.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

type File struct {
	ParentID string
	Name     string
	MimeType string
	Content  []byte
}

type Folder struct {
	ParentID string
	Name     string
}

type Client struct {
	mu      sync.Mutex
	files   map[string]File
	folders map[string]Folder
	order   []string
}

func NewClient() *Client {
	return &Client{
		files:   map[string]File{},
		folders: map[string]Folder{},
	}
}

func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := ulid.Make().String()
	c.folders[id] = Folder{ParentID: parentID, Name: name}
	return id, nil
}

func (c *Client) CreateFile(ctx context.Context, parentID, name string, content []byte, mimeType string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := ulid.Make().String()
	c.files[id] = File{
		ParentID: parentID,
		Name:     name,
		MimeType: mimeType,
		Content:  append([]byte(nil), content...),
	}
	c.order = append(c.order, id)
	return id, nil
}

// Folder returns a created folder by id.
func (c *Client) Folder(id string) (Folder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	folder, ok := c.folders[id]
	return folder, ok
}

// FilesIn returns files under the given parent in creation order.
func (c *Client) FilesIn(parentID string) []File {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []File{}
	for _, id := range c.order {
		if file := c.files[id]; file.ParentID == parentID {
			out = append(out, file)
		}
	}
	return out
}

// Files returns all files in creation order.
func (c *Client) Files() []File {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]File, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.files[id])
	}
	return out
}
