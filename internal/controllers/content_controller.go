package controllers

import (
	"io"
	"net/http"

	"github.com/falconandrea/FileSolvers/internal/services"

	"github.com/gin-gonic/gin"
)

type uploadContentController struct{ svc services.ContentService }

func NewUploadContentController(svc services.ContentService) *uploadContentController {
	return &uploadContentController{svc}
}

// Handle accepts a multipart "file" field, or the raw body for any other
// content type.
func (h *uploadContentController) Handle(c *gin.Context) {
	var src io.Reader = c.Request.Body
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			badRequest(c, "unreadable file part")
			return
		}
		defer f.Close()
		src = f
	} else if c.ContentType() == "multipart/form-data" {
		badRequest(c, "file part is required")
		return
	}
	ref, err := h.svc.Upload(c.Request.Context(), src)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ref)
}

type downloadContentController struct{ svc services.ContentService }

func NewDownloadContentController(svc services.ContentService) *downloadContentController {
	return &downloadContentController{svc}
}

func (h *downloadContentController) Handle(c *gin.Context) {
	address := c.Param("address")
	rc, err := h.svc.Open(c.Request.Context(), address)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()
	c.Header("ETag", `"`+address+`"`)
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", rc, nil)
}
