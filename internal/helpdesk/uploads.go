// ABOUTME: Attachment upload and download with size limits and access checks
// ABOUTME: Bytes go to blob storage; metadata goes to the store

package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/helpdesk/internal/attachments"
	"github.com/2389/helpdesk/internal/store"
)

// maxFilenameLength caps stored filenames, in bytes.
const maxFilenameLength = 255

// limitReader fails once more than n bytes have been read.
type limitReader struct {
	r io.Reader
	n int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n -= int64(n)
	if l.n < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

// countingReader records how many bytes passed through.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// sanitizeFilename keeps only the base name and drops control characters.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "." || name == "/" || name == "" {
		name = "attachment"
	}
	if len(name) > maxFilenameLength {
		cut := maxFilenameLength
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name
}

// Upload stores r as a new attachment owned by the viewer.
func (s *Service) Upload(ctx context.Context, v *Viewer, filename, contentType string, r io.Reader) (*store.Attachment, error) {
	if v == nil {
		return nil, ErrUnauthenticated
	}
	if s.blobs == nil {
		return nil, errors.New("attachment storage is not configured")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.New().String()
	now := s.now().UTC()
	key := fmt.Sprintf("%04d/%02d/%s", now.Year(), int(now.Month()), id)

	counter := &countingReader{r: &limitReader{r: r, n: s.maxUploadBytes}}
	if err := s.blobs.Put(ctx, key, counter, -1, contentType); err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, ErrTooLarge
		}
		return nil, fmt.Errorf("storing attachment: %w", err)
	}

	att := &store.Attachment{
		ID:          id,
		Filename:    sanitizeFilename(filename),
		ContentType: contentType,
		Size:        counter.n,
		UploaderID:  v.ID(),
		StorageKey:  key,
		CreatedAt:   now,
	}
	if err := s.store.CreateAttachment(ctx, att); err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.logger.Warn("failed to remove orphaned blob", "key", key, "error", derr)
		}
		return nil, fmt.Errorf("recording attachment: %w", err)
	}

	s.logger.Info("attachment uploaded", "id", id, "size", att.Size, "uploader", v.ID())
	return att, nil
}

// GetAttachment returns attachment metadata if the viewer may read it.
func (s *Service) GetAttachment(ctx context.Context, v *Viewer, id string) (*store.Attachment, error) {
	if v == nil {
		return nil, ErrUnauthenticated
	}
	att, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	ok, err := s.canReadAttachment(ctx, v, att)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return att, nil
}

// OpenAttachment streams an attachment the viewer may read. The caller
// closes the reader.
func (s *Service) OpenAttachment(ctx context.Context, v *Viewer, id string) (*store.Attachment, io.ReadCloser, error) {
	att, err := s.GetAttachment(ctx, v, id)
	if err != nil {
		return nil, nil, err
	}
	if s.blobs == nil {
		return nil, nil, errors.New("attachment storage is not configured")
	}
	rc, err := s.blobs.Get(ctx, att.StorageKey)
	if errors.Is(err, attachments.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening attachment: %w", err)
	}
	return att, rc, nil
}

// canReadAttachment allows admins, the uploader, and the owner of any ticket
// that references the attachment.
func (s *Service) canReadAttachment(ctx context.Context, v *Viewer, att *store.Attachment) (bool, error) {
	if v.IsAdmin || att.UploaderID == v.ID() {
		return true, nil
	}

	tickets, err := s.store.ListTickets(ctx, store.TicketFilter{OwnerID: v.ID(), Limit: 1000})
	if err != nil {
		return false, err
	}
	for _, t := range tickets {
		if slices.Contains(t.Attachments, att.ID) {
			return true, nil
		}
		msgs, err := s.store.ListMessages(ctx, t.ID)
		if err != nil {
			return false, err
		}
		for _, m := range msgs {
			if slices.Contains(m.Attachments, att.ID) {
				return true, nil
			}
		}
	}
	return false, nil
}
