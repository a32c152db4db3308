package echoapi

import (
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/services/objectstore"
)

const (
	uploadField = "file"
	uploadLimit = "5M"
)

// FileServer serves the objects of a store that signs its own URLs (objectstore.DiskStore).
type FileServer interface {
	Verify(p, expires, sig string) error
	Open(p string) (*os.File, error)
}

type fileApi struct {
	store core.ObjectStore
	files FileServer
	ttl   time.Duration
}

func registerFileAPI(e *echo.Echo, g *echo.Group, opts *Options) {
	api := fileApi{store: opts.Store, files: opts.Files, ttl: opts.SignedURLExpiry}
	if api.ttl <= 0 {
		api.ttl = objectstore.SignedURLTTL
	}

	limit := middleware.BodyLimit(uploadLimit)
	g.POST("/icons", api.uploadIcon, limit, roleMiddleware(access.RoleFaculty, access.RoleAdmin))
	g.POST("/attachments", api.uploadAttachment, limit, roleMiddleware(access.RoleStudent))

	if api.files != nil {
		e.GET(objectstore.FilesPrefix+"*", api.serve)
	}
}

type UploadResponse struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

func (api *fileApi) uploadIcon(ctx echo.Context) error {
	return api.upload(ctx, objectstore.IconsFolder)
}

func (api *fileApi) uploadAttachment(ctx echo.Context) error {
	return api.upload(ctx, objectstore.AttachmentsFolder)
}

// upload stores the multipart file under folder and returns its path with a signed URL to it.
func (api *fileApi) upload(ctx echo.Context, folder string) error {
	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: uploadField, Error: "a file is required"})
	}
	src, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer src.Close()

	rctx := ctx.Request().Context()
	p, err := api.store.Put(rctx, objectstore.Key(folder, fh.Filename), src, fh.Size, fh.Header.Get(echo.HeaderContentType))
	if err != nil {
		return errors.Wrap(err, "storing uploaded file")
	}
	url, err := api.store.SignedURL(rctx, p, api.ttl)
	if err != nil {
		return errors.Wrap(err, "signing object url")
	}
	return ctx.JSON(http.StatusCreated, UploadResponse{Path: p, URL: url})
}

func (api *fileApi) serve(ctx echo.Context) error {
	p := ctx.Param("*")
	if err := api.files.Verify(p, ctx.QueryParam("expires"), ctx.QueryParam("signature")); err != nil {
		return err
	}
	f, err := api.files.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "reading object info")
	}
	http.ServeContent(ctx.Response(), ctx.Request(), fi.Name(), fi.ModTime(), f)
	return nil
}
