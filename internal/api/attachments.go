// ABOUTME: Attachment upload (multipart) and download endpoints
// ABOUTME: Uploads stream straight into blob storage without buffering the whole file

package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/2389/helpdesk/internal/helpdesk"
)

// multipartOverhead allows for boundaries and part headers on top of the
// file size limit.
const multipartOverhead = 64 << 10

// handleUpload handles POST /api/v1/attachments. The file is read from the
// multipart field "file".
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.svc.MaxUploadBytes()+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			sendJSONError(w, http.StatusBadRequest, `missing "file" field`)
			return
		}
		if err != nil {
			h.writeUploadError(w, r, err)
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		att, err := h.svc.Upload(r.Context(), v, part.FileName(), part.Header.Get("Content-Type"), part)
		_ = part.Close()
		if err != nil {
			h.writeUploadError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAttachmentResponse(att))
		return
	}
}

func (h *Handler) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		err = helpdesk.ErrTooLarge
	}
	h.writeError(w, r, err)
}

// handleDownload handles GET /api/v1/attachments/{id}.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	att, rc, err := h.svc.OpenAttachment(r.Context(), v, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(att.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("attachment download interrupted", "id", att.ID, "error", err)
	}
}
