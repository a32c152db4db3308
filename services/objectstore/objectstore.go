// Package objectstore keeps uploaded files on local disk or in an S3-compatible bucket.
package objectstore

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
)

const (
	IconsFolder       = "subject-icons"
	AttachmentsFolder = "submission-files"

	// SignedURLTTL is how long the URLs handed to browsers stay valid.
	SignedURLTTL = time.Hour
)

var (
	nowFunc = time.Now // mockable

	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Key builds a unique object key: `<folder>/<unix>-<uuid>-<name>`.
func Key(folder, name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "._")
	if name == "" {
		name = "file"
	}
	return fmt.Sprintf("%s/%d-%s-%s", folder, nowFunc().Unix(), uuid.New(), name)
}

// IconKey is the Key of a subject icon.
func IconKey(name string) string {
	return Key(IconsFolder, name)
}

// New returns the store configured by conf.ObjectStore.Driver.
func New(ctx context.Context, conf *core.Config) (core.ObjectStore, error) {
	switch conf.ObjectStore.Driver {
	case "", "disk":
		return NewDiskStore(conf.ObjectStore.Root, conf.SecretKey)
	case "minio":
		return NewMinioStore(ctx, conf.ObjectStore)
	default:
		return nil, errors.Errorf("unknown object store driver %q", conf.ObjectStore.Driver)
	}
}
