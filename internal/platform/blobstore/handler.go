package blobstore

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"
)

// BlobHandler serves stored attachments.
type BlobHandler struct {
	store Store
}

func NewBlobHandler(store Store) *BlobHandler {
	return &BlobHandler{store: store}
}

// RegisterRoutes mounts the download route. There is no upload
// route: attachments enter only through the record and claim operations.
func (h *BlobHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/attachments/:ref", h.handleDownload)
}

func (h *BlobHandler) handleDownload(c echo.Context) error {
	rc, meta, err := h.store.Get(c.Request().Context(), Ref(c.Param("ref")))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	defer rc.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": meta.FileName})
	if disposition == "" {
		disposition = "attachment"
	}
	c.Response().Header().Set("Content-Disposition", disposition)
	c.Response().Header().Set("ETag", `"`+string(meta.Ref)+`"`)
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

// FormFile is an attachment taken from a multipart request.
type FormFile struct {
	Upload
	Content io.ReadCloser
}

// OpenFormFile opens the multipart file in field. It returns nil, nil when
// the field is absent so optional attachments can be expressed.
func OpenFormFile(c echo.Context, field string) (*FormFile, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return openHeader(fh)
}

func openHeader(fh *multipart.FileHeader) (*FormFile, error) {
	if fh.Size > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded file: %w", err)
	}
	return &FormFile{
		Upload: Upload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
		},
		Content: src,
	}, nil
}
