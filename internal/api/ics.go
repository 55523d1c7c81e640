package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	httperrors "github.com/jw6ventures/calassist/internal/http/errors"
	"github.com/jw6ventures/calassist/internal/icsio"
	"github.com/jw6ventures/calassist/internal/schedule"
)

type importResponse struct {
	Imported int                `json:"imported"`
	Rejected []validationDetail `json:"rejected"`
}

// ImportICS upserts every valid VEVENT of an uploaded calendar. The file is
// sent either as the raw body or as the "file" field of a multipart form.
// Re-importing the same file updates the earlier copies.
func (h *Handler) ImportICS(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	body, err := readCalendarUpload(w, r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "could not read calendar upload")
		return
	}

	items, err := icsio.Decode(bytes.NewReader(body), h.loc)
	var invalid schedule.ValidationErrors
	if err != nil && !errors.As(err, &invalid) {
		httperrors.BadRequestError(w, r, err, "file is not a valid iCalendar document")
		return
	}

	resp := importResponse{Rejected: make([]validationDetail, 0, len(invalid))}
	for _, e := range invalid {
		resp.Rejected = append(resp.Rejected, detail(e))
	}
	for _, it := range items {
		if _, err := h.store.Events.UpsertExternal(r.Context(), owner, it.ExternalID(), it.Fields); err != nil {
			h.fail(w, r, fmt.Errorf("import %s: %w", it.UID, err), "event")
			return
		}
		resp.Imported++
	}
	httperrors.LogInfo(r, "ics import finished", "imported", resp.Imported, "rejected", len(resp.Rejected))
	httperrors.JSON(w, http.StatusOK, resp)
}

// ExportICS downloads all of the owner's events as an iCalendar file.
func (h *Handler) ExportICS(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	events, err := h.store.Events.ListByOwner(r.Context(), owner)
	if err != nil {
		h.fail(w, r, err, "events")
		return
	}
	var buf bytes.Buffer
	if err := icsio.Encode(&buf, events, h.loc, h.now()); err != nil {
		httperrors.InternalError(w, r, err, "encode ics export")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calassist.ics"`)
	_, _ = w.Write(buf.Bytes())
}

func readCalendarUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxICSBody)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxICSBody); err != nil {
			return nil, err
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	return io.ReadAll(r.Body)
}
