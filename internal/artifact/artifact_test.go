package artifact

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeObjectStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://objects.local/" + key + "?expires=" + expiry.String(), nil
}

func TestInlineSink_Attach(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	var result domain.Result

	require.NoError(t, InlineSink{}.Attach(context.Background(), "job-1", img, &result))

	raw, err := base64.StdEncoding.DecodeString(result.Image)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
	assert.Empty(t, result.ObjectKey)
}

func TestObjectSink_Attach(t *testing.T) {
	store := &fakeObjectStore{}
	sink := NewObjectSink(store, "generations/", time.Hour)
	var result domain.Result

	require.NoError(t, sink.Attach(context.Background(), "job-1", image.NewRGBA(image.Rect(0, 0, 2, 2)), &result))

	assert.Equal(t, "generations/job-1.png", result.ObjectKey)
	assert.Equal(t, "https://objects.local/generations/job-1.png?expires=1h0m0s", result.ImageURL)
	assert.Empty(t, result.Image)
	assert.Contains(t, store.objects, "generations/job-1.png")
}

func TestObjectSink_NoPresign(t *testing.T) {
	sink := NewObjectSink(&fakeObjectStore{}, "", 0)
	var result domain.Result

	require.NoError(t, sink.Attach(context.Background(), "job-1", image.NewRGBA(image.Rect(0, 0, 2, 2)), &result))
	assert.Equal(t, "job-1.png", result.ObjectKey)
	assert.Empty(t, result.ImageURL)
}

func TestObjectSink_UploadError(t *testing.T) {
	sink := NewObjectSink(&fakeObjectStore{putErr: errors.New("bucket gone")}, "", time.Hour)
	var result domain.Result

	err := sink.Attach(context.Background(), "job-1", image.NewRGBA(image.Rect(0, 0, 2, 2)), &result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}
