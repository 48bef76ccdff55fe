// Package artifact turns a generated image into the transport-safe form stored on a job result.
package artifact

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"path"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/domain"
)

// Sink attaches the artifact for jobID to result
type Sink interface {
	Attach(ctx context.Context, jobID string, img image.Image, result *domain.Result) error
}

// EncodePNG encodes img as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// InlineSink stores the PNG as base64 on the result
type InlineSink struct{}

func (InlineSink) Attach(ctx context.Context, jobID string, img image.Image, result *domain.Result) error {
	data, err := EncodePNG(img)
	if err != nil {
		return err
	}
	result.Image = base64.StdEncoding.EncodeToString(data)
	return nil
}

// ObjectStore is the subset of an object storage client used by ObjectSink
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ObjectSink uploads the PNG and stores the object key and a presigned URL on the result
type ObjectSink struct {
	store         ObjectStore
	prefix        string
	presignExpiry time.Duration
}

// NewObjectSink creates an ObjectSink. A zero presignExpiry skips URL signing.
func NewObjectSink(store ObjectStore, prefix string, presignExpiry time.Duration) *ObjectSink {
	return &ObjectSink{store: store, prefix: prefix, presignExpiry: presignExpiry}
}

func (s *ObjectSink) Attach(ctx context.Context, jobID string, img image.Image, result *domain.Result) error {
	data, err := EncodePNG(img)
	if err != nil {
		return err
	}

	key := path.Join(s.prefix, jobID+".png")
	if err := s.store.PutObject(ctx, key, data, "image/png"); err != nil {
		return fmt.Errorf("failed to upload artifact: %w", err)
	}
	result.ObjectKey = key

	if s.presignExpiry > 0 {
		signed, err := s.store.PresignedURL(ctx, key, s.presignExpiry)
		if err != nil {
			return fmt.Errorf("failed to sign artifact url: %w", err)
		}
		result.ImageURL = signed
	}
	return nil
}
