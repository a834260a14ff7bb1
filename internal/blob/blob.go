// Package blob stores uploaded audio on the local filesystem.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	derrors "github.com/uveral/diario/internal/errors"
)

const (
	metaSuffix = ".meta.json"
	tmpSuffix  = ".tmp"
	maxKeyLen  = 512
)

// Meta describes a stored object.
type Meta struct {
	ContentType  string    `json:"contentType"`
	OriginalName string    `json:"originalName,omitempty"`
	ETag         string    `json:"etag"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Object is an open stored object. Callers must close it.
type Object struct {
	io.ReadCloser
	Meta Meta
}

// Store is a filesystem object store rooted at a directory.
type Store struct {
	root   string
	now    func() time.Time
	logger zerolog.Logger
}

// New creates the root directory if needed.
func New(root string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{
		root:   root,
		now:    time.Now,
		logger: logger.With().Str("component", "blob").Logger(),
	}, nil
}

// Put writes r under key, replacing any existing object.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, meta Meta) (Meta, error) {
	p, err := s.path(key)
	if err != nil {
		return Meta{}, err
	}
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Meta{}, fmt.Errorf("create directory: %w", err)
	}

	// Write to a temp file first, then rename.
	tmpPath := p + tmpSuffix
	f, err := os.Create(tmpPath)
	if err != nil {
		return Meta{}, fmt.Errorf("create object: %w", err)
	}
	hash := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, hash), r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return Meta{}, fmt.Errorf("write object: %w", err)
	}

	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	meta.ETag = hex.EncodeToString(hash.Sum(nil))
	meta.Size = written
	meta.UploadedAt = s.now().UTC()

	if err := writeMeta(p+metaSuffix, meta); err != nil {
		os.Remove(tmpPath)
		return Meta{}, err
	}
	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return Meta{}, fmt.Errorf("finalize object: %w", err)
	}

	s.logger.Debug().Str("key", key).Int64("size", written).Msg("object stored")
	return meta, nil
}

// Get opens the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (*Object, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", derrors.ErrNotFound, key)
		}
		return nil, fmt.Errorf("open object: %w", err)
	}

	meta, err := readMeta(p + metaSuffix)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Object{ReadCloser: f, Meta: meta}, nil
}

// ReadAll returns the full contents of the object stored under key.
func (s *Store) ReadAll(ctx context.Context, key string) ([]byte, Meta, error) {
	obj, err := s.Get(ctx, key)
	if err != nil {
		return nil, Meta{}, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("read object: %w", err)
	}
	return data, obj.Meta, nil
}

// Exists reports whether an object is stored under key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat object: %w", err)
}

// Ping checks that the root directory is reachable.
func (s *Store) Ping(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("blob root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob root %s is not a directory", s.root)
	}
	return nil
}

func (s *Store) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// ValidateKey rejects keys that could escape the store root or collide with
// the store's own bookkeeping files.
func ValidateKey(key string) error {
	switch {
	case key == "" || len(key) > maxKeyLen:
		return fmt.Errorf("%w: key length", derrors.ErrInvalidInput)
	case strings.HasPrefix(key, "/") || strings.Contains(key, `\`):
		return fmt.Errorf("%w: key must be a relative slash path", derrors.ErrInvalidInput)
	case strings.HasSuffix(key, metaSuffix) || strings.HasSuffix(key, tmpSuffix):
		return fmt.Errorf("%w: reserved key suffix", derrors.ErrInvalidInput)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: invalid key segment %q", derrors.ErrInvalidInput, seg)
		}
		for _, c := range seg {
			if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.') {
				return fmt.Errorf("%w: invalid character in key", derrors.ErrInvalidInput)
			}
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: key is not canonical", derrors.ErrInvalidInput)
	}
	return nil
}

// NewAudioKey returns a fresh key of the form audio/YYYY-MM-DD/<uuid>.<ext>.
func NewAudioKey(now time.Time, contentType string) string {
	return fmt.Sprintf("audio/%s/%s.%s", now.UTC().Format("2006-01-02"), uuid.NewString(), ExtensionFor(contentType))
}

// ExtensionFor maps a recorder content type to a file extension.
func ExtensionFor(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "ogg"):
		return "ogg"
	case strings.Contains(ct, "mp4"):
		return "m4a"
	default:
		return "webm"
	}
}

func writeMeta(p string, meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func readMeta(p string) (Meta, error) {
	var meta Meta
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Objects copied in by hand have no sidecar.
			return Meta{ContentType: "application/octet-stream"}, nil
		}
		return meta, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}
