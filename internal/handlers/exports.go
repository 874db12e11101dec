package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/circularops/api/internal/audit"
	"github.com/circularops/api/internal/exporter"
	"github.com/circularops/api/internal/httpx"
)

// GetExport streams /exports/{kind}.{format} as a download.
func (s *Server) GetExport(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	kind, err := exporter.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusNotFound, "export_not_found", "Export kind must be products, pickups or customers", nil)
		return
	}
	format, err := exporter.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusNotFound, "export_not_found", "Export format must be csv or xlsx", nil)
		return
	}

	var buf bytes.Buffer
	rows, err := exporter.Write(r.Context(), s.Store, kind, format, &buf)
	if err != nil {
		s.Logger.Error("export_failed", "kind", kind, "format", format, "request_id", requestID(r), "error", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to generate export", nil)
		return
	}

	filename := exporter.Filename(kind, format, s.now())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.Logger.Warn("export_stream_failed", "kind", kind, "request_id", requestID(r), "error", err)
		return
	}

	s.audit(r, audit.Entry{
		Action:     audit.ActionExportDownload,
		EntityType: string(kind),
		Metadata: map[string]any{
			"filename": filename,
			"format":   string(format),
			"rows":     rows,
		},
	})
}
