// Package imagestore keeps uploaded photos on local disk and records an
// immutable row per upload.
package imagestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ecotionbuddy/binhub/internal/apperr"
	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// URLPrefix is the HTTP path stored images are served under.
const URLPrefix = "/uploads/"

// Stored describes a file written by Save.
type Stored struct {
	Ref         string // file name relative to the upload dir
	Path        string // absolute or dir-relative path on disk
	URL         string
	Size        int64
	ContentType string
}

// Store writes image files under Dir and image rows through DB.
type Store struct {
	db      *gorm.DB
	dir     string
	baseURL string
}

// New returns a Store. baseURL is prepended to URLPrefix in returned URLs and
// may be empty for relative URLs.
func New(db *gorm.DB, dir, baseURL string) *Store {
	return &Store{db: db, dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data to a new file named from the timestamp and content hash.
func (s *Store) Save(data []byte, contentType string, now time.Time) (Stored, error) {
	if len(data) == 0 {
		return Stored{}, fmt.Errorf("imagestore: empty image: %w", apperr.ErrInvalid)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Stored{}, fmt.Errorf("imagestore: create dir: %w", err)
	}

	sum := sha256.Sum256(data)
	ref := fmt.Sprintf("%s-%s%s", now.UTC().Format("20060102T150405.000Z"), hex.EncodeToString(sum[:6]), extFor(contentType))
	path := filepath.Join(s.dir, ref)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Stored{}, fmt.Errorf("imagestore: write %s: %w", ref, err)
	}
	return Stored{
		Ref:         ref,
		Path:        path,
		URL:         s.URL(ref),
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

// URL returns the public URL for a stored ref.
func (s *Store) URL(ref string) string {
	return s.baseURL + URLPrefix + ref
}

// Read returns the bytes of a stored file.
func (s *Store) Read(ref string) ([]byte, error) {
	if ref == "" || strings.ContainsAny(ref, `/\`) {
		return nil, fmt.Errorf("imagestore: bad ref %q: %w", ref, apperr.ErrInvalid)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("imagestore: %s: %w", ref, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("imagestore: read %s: %w", ref, err)
	}
	return data, nil
}

// Record inserts the image row, assigning an id when empty.
func (s *Store) Record(img *models.Image) error {
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if err := s.db.Create(img).Error; err != nil {
		return fmt.Errorf("imagestore: record %s: %w", img.StorageRef, err)
	}
	return nil
}

// Get returns an image row by id.
func (s *Store) Get(id string) (*models.Image, error) {
	var img models.Image
	if err := s.db.Where("id = ?", id).First(&img).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("imagestore: image %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("imagestore: get %s: %w", id, err)
	}
	return &img, nil
}

func extFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
