// Package media implements attachment storage and validation: a local
// filesystem backend rooted at <root>/media/ (spec §6 data dir layout) and
// an optional S3-backed backend for `s3://` sources, plus thumbnailing and
// size/type validation for outbound image attachments before a
// ChannelAdapter.SendMessage call.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/model"
)

// maxAttachmentBytes bounds a single attachment, matching the kind of
// conservative cap a chat platform's own upload limit already imposes.
const maxAttachmentBytes = 50 * 1024 * 1024

// thumbnailMaxDim is the longer-edge pixel size outbound image thumbnails
// are resized to before upload.
const thumbnailMaxDim = 1024

// Store persists and retrieves attachment bytes by source reference.
type Store interface {
	// Save writes data under agentName's media area and returns the
	// source reference (a local path or s3:// URL) to record on the
	// envelope's Attachment.
	Save(ctx context.Context, agentName, filename string, data []byte) (source string, err error)
	// Open resolves a previously saved source back to its bytes.
	Open(ctx context.Context, source string) ([]byte, error)
}

// Validate checks an attachment's filename and size before it is accepted
// into an envelope's content. Unknown extensions are accepted as
// AttachmentFile; only size is actually enforced here, matching the spec's
// stance that attachment kind is inferred, not restricted.
func Validate(filename string, size int64) error {
	if size <= 0 {
		return kerrors.New(kerrors.Validation, "attachment is empty")
	}
	if size > maxAttachmentBytes {
		return kerrors.Newf(kerrors.Validation, "attachment %s exceeds %d bytes", filename, maxAttachmentBytes)
	}
	return nil
}

// Thumbnail resizes image attachment bytes to at most thumbnailMaxDim on
// the longer edge, re-encoding as JPEG. Non-image attachments are returned
// unchanged — thumbnailing is a size-reduction step for outbound media
// uploads, not a format conversion pipeline.
func Thumbnail(a model.Attachment, data []byte) ([]byte, error) {
	if a.Kind() != model.AttachmentImage {
		return data, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: decode %s: %w", a.Filename, err)
	}
	resized := imaging.Fit(img, thumbnailMaxDim, thumbnailMaxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("media: encode thumbnail for %s: %w", a.Filename, err)
	}
	return buf.Bytes(), nil
}

// LocalStore persists attachments under <root>/media/<agentName>/<filename>.
type LocalStore struct {
	root string
}

// NewLocalStore constructs a LocalStore rooted at <hibossDir>/media.
func NewLocalStore(hibossDir string) *LocalStore {
	return &LocalStore{root: filepath.Join(hibossDir, "media")}
}

func (s *LocalStore) Save(ctx context.Context, agentName, filename string, data []byte) (string, error) {
	dir := filepath.Join(s.root, agentName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("media: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("media: write %s: %w", path, err)
	}
	return path, nil
}

func (s *LocalStore) Open(ctx context.Context, source string) ([]byte, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("media: read %s: %w", source, err)
	}
	return data, nil
}

// IsS3Source reports whether source is an s3:// URL, the signal Resolve
// uses to pick between LocalStore and S3Store.
func IsS3Source(source string) bool {
	return strings.HasPrefix(source, "s3://")
}

// Resolver picks LocalStore or S3Store per source, so callers never branch
// on URL scheme themselves.
type Resolver struct {
	local *LocalStore
	s3    Store // nil when no S3 backend is configured
}

// NewResolver constructs a Resolver. s3 may be nil when object storage
// isn't configured; attachments are then always local.
func NewResolver(local *LocalStore, s3 Store) *Resolver {
	return &Resolver{local: local, s3: s3}
}

func (r *Resolver) Save(ctx context.Context, agentName, filename string, data []byte) (string, error) {
	if r.s3 != nil {
		return r.s3.Save(ctx, agentName, filename, data)
	}
	return r.local.Save(ctx, agentName, filename, data)
}

func (r *Resolver) Open(ctx context.Context, source string) ([]byte, error) {
	if IsS3Source(source) {
		if r.s3 == nil {
			return nil, kerrors.New(kerrors.Internal, "s3 source but no S3 backend configured")
		}
		return r.s3.Open(ctx, source)
	}
	return r.local.Open(ctx, source)
}
