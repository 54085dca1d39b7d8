// Package s3 archives files into an S3 bucket, modeling folders as key
// prefixes.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
)

type Client struct {
	api    *awss3.Client
	bucket string
}

func NewClient(ctx context.Context, bucketName string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{
		api:    awss3.NewFromConfig(cfg),
		bucket: bucketName,
	}, nil
}

// NewClientWithAPI is for tests and custom endpoints.
func NewClientWithAPI(api *awss3.Client, bucketName string) *Client {
	return &Client{api: api, bucket: bucketName}
}

// CreateFolder writes a zero-byte marker object and returns the new prefix.
// The ulid suffix keeps same-named folders distinct the way a real folder
// create does.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	prefix := joinPrefix(parentID, name+"_"+ulid.Make().String()) + "/"
	_, err := c.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(prefix),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return "", fmt.Errorf("create folder %s: %w", prefix, err)
	}
	return prefix, nil
}

func (c *Client) CreateFile(ctx context.Context, parentID, name string, content []byte, mimeType string) (string, error) {
	key := joinPrefix(parentID, name)
	input := &awss3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

func joinPrefix(parentID, name string) string {
	parent := strings.Trim(strings.TrimSpace(parentID), "/")
	name = strings.Trim(strings.TrimSpace(name), "/")
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
