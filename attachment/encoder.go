// Package attachment turns locally selected files into transport-ready
// payloads and manages the preview copies shown for optimistic messages.
package attachment

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"tutorchat/config"
	"tutorchat/metrics"
	"tutorchat/models"
	"tutorchat/storage"
)

// PreviewRegistry persists live preview copies so they survive a crash and
// can be swept on the next start.
type PreviewRegistry interface {
	RegisterPreview(record storage.PreviewRecord) error
	UnregisterPreview(handle string) (bool, error)
	ListPreviews() ([]storage.PreviewRecord, error)
}

// Options configures an Encoder.
type Options struct {
	MaxBytes   int64
	PreviewDir string
	Registry   PreviewRegistry
	Logger     logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.MaxBytes <= 0 {
		o.MaxBytes = config.DefaultMaxAttachmentBytes
	}
	if o.PreviewDir == "" {
		o.PreviewDir = filepath.Join(os.TempDir(), config.AppDirectoryName+"-previews")
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// Encoder validates, encodes and previews attachments.
type Encoder struct {
	opts Options

	mu       sync.Mutex
	previews map[string]*Preview
}

// NewEncoder constructs an Encoder.
func NewEncoder(opts Options) *Encoder {
	return &Encoder{
		opts:     opts.withDefaults(),
		previews: make(map[string]*Preview),
	}
}

// MaxBytes returns the attachment ceiling.
func (e *Encoder) MaxBytes() int64 {
	return e.opts.MaxBytes
}

// Validate rejects files larger than the ceiling. A file exactly at the
// ceiling is accepted.
func (e *Encoder) Validate(file File) error {
	if file.Size > e.opts.MaxBytes {
		metrics.RecordAttachmentRejected("too_large")
		return &ValidationError{FileName: file.Name, Size: file.Size, Limit: e.opts.MaxBytes}
	}
	return nil
}

// Encode reads the whole file and returns it as a single base64 payload.
func (e *Encoder) Encode(ctx context.Context, file File) (models.AttachmentPayload, error) {
	if err := e.Validate(file); err != nil {
		return models.AttachmentPayload{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.AttachmentPayload{}, err
	}

	f, err := os.Open(file.Path)
	if err != nil {
		return models.AttachmentPayload{}, fmt.Errorf("open attachment %q: %w", file.Name, err)
	}
	defer f.Close()

	// The file may have grown since it was selected.
	raw, err := io.ReadAll(io.LimitReader(f, e.opts.MaxBytes+1))
	if err != nil {
		return models.AttachmentPayload{}, fmt.Errorf("read attachment %q: %w", file.Name, err)
	}
	if int64(len(raw)) > e.opts.MaxBytes {
		metrics.RecordAttachmentRejected("too_large")
		return models.AttachmentPayload{}, &ValidationError{FileName: file.Name, Size: int64(len(raw)), Limit: e.opts.MaxBytes}
	}

	digest := blake2b.Sum256(raw)
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	metrics.RecordAttachmentEncoded(int64(len(raw)))
	return models.AttachmentPayload{
		Data:     base64.StdEncoding.EncodeToString(raw),
		FileName: file.Name,
		MimeType: mimeType,
		Size:     int64(len(raw)),
		Digest:   hex.EncodeToString(digest[:]),
	}, nil
}

// Preview creates a revocable local copy of an image for the optimistic
// message. Non-image files get no preview and a nil result.
func (e *Encoder) Preview(file File) (*Preview, error) {
	if KindFromMIME(file.MimeType) != models.FileKindImage {
		return nil, nil
	}
	if err := os.MkdirAll(e.opts.PreviewDir, 0o700); err != nil {
		return nil, fmt.Errorf("create preview directory: %w", err)
	}

	handle := uuid.NewString()
	path := filepath.Join(e.opts.PreviewDir, handle+strings.ToLower(filepath.Ext(file.Name)))
	if err := copyFile(file.Path, path); err != nil {
		return nil, err
	}

	if e.opts.Registry != nil {
		err := e.opts.Registry.RegisterPreview(storage.PreviewRecord{
			Handle:   handle,
			Path:     path,
			FileName: file.Name,
			MimeType: file.MimeType,
		})
		if err != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("register preview: %w", err)
		}
	}

	preview := &Preview{Handle: handle, Path: path, FileName: file.Name, encoder: e}
	e.mu.Lock()
	e.previews[handle] = preview
	e.mu.Unlock()

	return preview, nil
}

// PreviewPath returns the local path behind a live preview handle.
func (e *Encoder) PreviewPath(handle string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	preview, ok := e.previews[handle]
	if !ok {
		return "", false
	}
	return preview.Path, true
}

// ReleaseAll releases every live preview, typically on shutdown.
func (e *Encoder) ReleaseAll() {
	e.mu.Lock()
	live := make([]*Preview, 0, len(e.previews))
	for _, preview := range e.previews {
		live = append(live, preview)
	}
	e.mu.Unlock()

	for _, preview := range live {
		_ = preview.Release()
	}
}

// SweepOrphans removes preview copies left behind by a previous process.
func (e *Encoder) SweepOrphans() (int, error) {
	if e.opts.Registry == nil {
		return 0, nil
	}

	records, err := e.opts.Registry.ListPreviews()
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, record := range records {
		e.mu.Lock()
		_, live := e.previews[record.Handle]
		e.mu.Unlock()
		if live {
			continue
		}

		if err := os.Remove(record.Path); err != nil && !os.IsNotExist(err) {
			e.opts.Logger.WithFields(logrus.Fields{
				"handle": record.Handle,
				"path":   record.Path,
			}).WithError(err).Warn("remove orphaned preview")
			continue
		}
		if _, err := e.opts.Registry.UnregisterPreview(record.Handle); err != nil {
			return swept, err
		}
		swept++
	}

	return swept, nil
}

func (e *Encoder) forget(preview *Preview) error {
	e.mu.Lock()
	delete(e.previews, preview.Handle)
	e.mu.Unlock()

	removeErr := os.Remove(preview.Path)
	if removeErr != nil && os.IsNotExist(removeErr) {
		removeErr = nil
	}
	if e.opts.Registry != nil {
		if _, err := e.opts.Registry.UnregisterPreview(preview.Handle); err != nil && removeErr == nil {
			removeErr = err
		}
	}
	if removeErr != nil {
		return fmt.Errorf("release preview %q: %w", preview.Handle, removeErr)
	}
	return nil
}

// Preview is a local copy of a selected image shown until the server echoes
// a real URL or the file is dropped from the pending list.
type Preview struct {
	Handle   string
	Path     string
	FileName string

	encoder  *Encoder
	mu       sync.Mutex
	released bool
}

// Release deletes the preview copy. Only the first call has any effect; later
// calls return ErrPreviewReleased.
func (p *Preview) Release() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return ErrPreviewReleased
	}
	p.released = true
	p.mu.Unlock()

	return p.encoder.forget(p)
}

// Released reports whether Release has been called.
func (p *Preview) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open preview source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create preview copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy preview: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("close preview copy: %w", err)
	}
	return nil
}
