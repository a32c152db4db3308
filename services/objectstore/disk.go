package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
)

// FilesPrefix is the URL prefix under which the API serves DiskStore objects.
const FilesPrefix = "/files/"

var (
	salt = []byte("sjsfi.lms.services.objectstore.disk")

	// errors
	ErrInvalidSignature = core.NewCodedError(core.CodeForbidden, "invalid signature")
	ErrURLExpired       = core.NewCodedError(core.CodeForbidden, "signed url expired")
	ErrInvalidPath      = core.NewCodedError(core.CodeNotFound, "invalid object path")
)

// DiskStore keeps objects under a local directory and hands out HMAC-signed URLs to them.
type DiskStore struct {
	root string
	key  [sha256.Size]byte
}

var _ core.ObjectStore = (*DiskStore)(nil)

func NewDiskStore(root, secret string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrap(err, "creating object store root")
	}
	return &DiskStore{root: root, key: sha256.Sum256(append(salt, secret...))}, nil
}

func (s *DiskStore) Put(_ context.Context, key string, r io.Reader, size int64, _ string) (string, error) {
	p, err := cleanPath(key)
	if err != nil {
		return "", err
	}
	fp := filepath.Join(s.root, filepath.FromSlash(p))
	if err = os.MkdirAll(filepath.Dir(fp), 0o750); err != nil {
		return "", errors.Wrap(err, "creating object directory")
	}

	f, err := os.Create(fp)
	if err != nil {
		return "", errors.Wrap(err, "creating object")
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		_ = os.Remove(fp)
		return "", errors.Wrap(err, "writing object")
	}
	if size >= 0 && n != size {
		_ = os.Remove(fp)
		return "", errors.Errorf("writing object: got %d bytes, want %d", n, size)
	}
	return p, nil
}

// SignedURL returns `/files/<path>?expires=<unix>&signature=<sig>`.
func (s *DiskStore) SignedURL(_ context.Context, p string, ttl time.Duration) (string, error) {
	p, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	expires := strconv.FormatInt(nowFunc().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("signature", s.sign(p, expires))
	return FilesPrefix + p + "?" + q.Encode(), nil
}

// Verify checks a signed URL's path, expiry and signature.
func (s *DiskStore) Verify(p, expires, sig string) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(s.sign(p, expires)), []byte(sig)) == 0 {
		return ErrInvalidSignature
	}
	ts, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if nowFunc().Unix() > ts {
		return ErrURLExpired
	}
	return nil
}

// Open returns the object stored at p. The caller closes it.
func (s *DiskStore) Open(p string) (*os.File, error) {
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(p)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrInvalidPath
		}
		return nil, errors.Wrap(err, "opening object")
	}
	return f, nil
}

func (s *DiskStore) sign(p, expires string) string {
	h := hmac.New(sha256.New, s.key[:])
	h.Write([]byte(p))
	h.Write([]byte{0})
	h.Write([]byte(expires))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// cleanPath rejects absolute paths and any attempt to leave the store root.
func cleanPath(p string) (string, error) {
	p = strings.TrimPrefix(p, FilesPrefix)
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", ErrInvalidPath
		}
	}
	return path.Clean(p), nil
}
