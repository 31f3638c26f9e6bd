package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig configures the S3-compatible object store backend.
type ObjectConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"`
}

// ObjectBackend persists the document as one JSON object in an S3-compatible
// store, so learned statistics survive process restarts and redeployments.
type ObjectBackend struct {
	client *minio.Client
	bucket string
	key    string
}

// NewObjectBackend creates a backend against the configured object store.
func NewObjectBackend(cfg ObjectConfig) (*ObjectBackend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object backend requires a bucket")
	}
	key := cfg.Key
	if key == "" {
		key = "bandit_state.json"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &ObjectBackend{client: client, bucket: cfg.Bucket, key: key}, nil
}

// Load fetches and decodes the state object. A missing object is an empty
// document.
func (b *ObjectBackend) Load(ctx context.Context) (Document, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.key, minio.GetObjectOptions{})
	if err != nil {
		return NewDocument(), fmt.Errorf("failed to fetch state object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return NewDocument(), nil
		}
		return NewDocument(), fmt.Errorf("failed to read state object: %w", err)
	}
	doc := NewDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		return NewDocument(), fmt.Errorf("failed to decode state object: %w", err)
	}
	if doc.Runners == nil {
		doc.Runners = map[string]ArmRecord{}
	}
	return doc, nil
}

// Save uploads the document, replacing the previous object.
func (b *ObjectBackend) Save(ctx context.Context, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state document: %w", err)
	}
	_, err = b.client.PutObject(ctx, b.bucket, b.key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to upload state object: %w", err)
	}
	return nil
}
