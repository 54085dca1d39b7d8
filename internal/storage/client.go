// Package storage defines the archive backend contract and selects an
// implementation from configuration.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/agentworkforce/relaydrive/internal/storage/drive"
	"github.com/agentworkforce/relaydrive/internal/storage/filesystem"
	"github.com/agentworkforce/relaydrive/internal/storage/memory"
	"github.com/agentworkforce/relaydrive/internal/storage/s3"
)

// Client is the minimal folder-based archive surface the core calls.
// Destination ids are opaque handles owned by the implementation.
type Client interface {
	CreateFile(ctx context.Context, parentID, name string, content []byte, mimeType string) (string, error)
	CreateFolder(ctx context.Context, parentID, name string) (string, error)
}

type Config struct {
	Type         string
	DriveBaseURL string
	DriveToken   string
	S3Bucket     string
	LocalPath    string
}

// NewClient builds the archive client named by cfg.Type. Unset type falls
// back to the in-memory client.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	clientType := strings.ToLower(strings.TrimSpace(cfg.Type))
	fields := logrus.Fields{"storageType": clientType}

	var client Client
	switch clientType {
	case "drive":
		if strings.TrimSpace(cfg.DriveBaseURL) == "" {
			return nil, fmt.Errorf("drive storage requires a base URL")
		}
		fields["baseUrl"] = cfg.DriveBaseURL
		client = drive.NewClient(drive.Options{
			BaseURL: cfg.DriveBaseURL,
			Token:   cfg.DriveToken,
		})
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("s3 storage requires a bucket name")
		}
		fields["bucket"] = cfg.S3Bucket
		s3Client, err := s3.NewClient(ctx, cfg.S3Bucket)
		if err != nil {
			return nil, err
		}
		client = s3Client
	case "filesystem":
		basePath := strings.TrimSpace(cfg.LocalPath)
		if basePath == "" {
			basePath = "./archive"
		}
		fields["basePath"] = basePath
		client = filesystem.NewClient(basePath)
	case "", "memory":
		fields["storageType"] = "in-memory"
		client = memory.NewClient()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", clientType)
	}
	logrus.WithFields(fields).Info("Use archive storage")
	return client, nil
}
