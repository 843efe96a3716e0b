package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
)

const (
	defaultMaxImageBytes = 5 << 20
	imageCacheControl    = "public, max-age=31536000, immutable"
)

var (
	// ErrContentTypeDenied is returned for anything other than jpeg, png, webp or gif.
	ErrContentTypeDenied = errors.New("storage: content type not allowed")
	// ErrImageTooLarge is returned when the body exceeds the upload limit.
	ErrImageTooLarge = errors.New("storage: image exceeds size limit")
)

// writerFactory opens an object writer. Cancelling ctx aborts the write.
type writerFactory func(ctx context.Context, bucket, object, contentType string) io.WriteCloser

// Uploader streams images into the public bucket.
type Uploader struct {
	bucket   string
	maxBytes int64
	newID    func() string
	open     writerFactory
}

// UploaderOption customises the Uploader.
type UploaderOption func(*Uploader)

// WithMaxBytes overrides the 5 MiB upload limit.
func WithMaxBytes(limit int64) UploaderOption {
	return func(u *Uploader) {
		if limit > 0 {
			u.maxBytes = limit
		}
	}
}

// WithIDGenerator injects the object id source, mostly for tests.
func WithIDGenerator(gen func() string) UploaderOption {
	return func(u *Uploader) {
		if gen != nil {
			u.newID = gen
		}
	}
}

// NewUploader constructs an Uploader writing through the Cloud Storage client.
func NewUploader(client *gcs.Client, bucket string, opts ...UploaderOption) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("storage uploader: client is required")
	}
	return newUploader(bucket, func(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		w.CacheControl = imageCacheControl
		return w
	}, opts...)
}

func newUploader(bucket string, open writerFactory, opts ...UploaderOption) (*Uploader, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage uploader: bucket is required")
	}
	u := &Uploader{
		bucket:   bucket,
		maxBytes: defaultMaxImageBytes,
		newID:    func() string { return ulid.Make().String() },
		open:     open,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u, nil
}

// UploadResult describes a stored image.
type UploadResult struct {
	Object string
	URL    string
	Size   int64
}

// Upload writes body under a fresh object name and returns its public URL.
// A failed or oversized upload aborts the object write.
func (u *Uploader) Upload(ctx context.Context, purpose ImagePurpose, contentType string, body io.Reader) (UploadResult, error) {
	if u == nil || u.open == nil {
		return UploadResult{}, errors.New("storage uploader: not initialised")
	}
	contentType = normalizeContentType(contentType)
	object, err := BuildObjectPath(purpose, u.newID(), contentType)
	if err != nil {
		return UploadResult{}, err
	}

	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := u.open(writeCtx, u.bucket, object, contentType)
	written, err := io.Copy(w, io.LimitReader(body, u.maxBytes+1))
	if err == nil && written > u.maxBytes {
		err = ErrImageTooLarge
	}
	if err != nil {
		cancel()
		_ = w.Close()
		return UploadResult{}, fmt.Errorf("storage uploader: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("storage uploader: finalize %s: %w", object, err)
	}
	return UploadResult{
		Object: object,
		URL:    PublicURL(u.bucket, object),
		Size:   written,
	}, nil
}

// Bucket returns the target bucket name.
func (u *Uploader) Bucket() string { return u.bucket }
