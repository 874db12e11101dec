package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/circularops/api/internal/audit"
	"github.com/circularops/api/internal/csvimport"
	"github.com/circularops/api/internal/httpx"
	"github.com/circularops/api/internal/importer"
)

var supportedCSVContentTypes = map[string]struct{}{
	"text/csv":                 {},
	"application/csv":          {},
	"application/vnd.ms-excel": {},
	"text/plain":               {},
	"application/octet-stream": {},
}

// PostImports runs a batch import of one or more CSV files of the same kind.
// Files are applied in the order they appear in the form.
func (s *Server) PostImports(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	kind, err := importer.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusNotFound, "import_kind_not_found", "Import kind must be inventory, pickups or customers", nil)
		return
	}

	uploads, appErr := parseImportUploads(r, s.Config.ImportMaxFiles, s.Config.ImportMaxFileBytes)
	if appErr != nil {
		writeAppError(w, r, appErr)
		return
	}

	progress := csvimport.NewProgress(func(snap csvimport.Snapshot) {
		s.Logger.Debug("import_progress",
			"kind", kind,
			"state", snap.State,
			"percent", snap.Percent,
			"processed", snap.Processed,
			"total", snap.Total,
			"request_id", requestID(r),
		)
	})
	result, err := s.Importer.Run(r.Context(), kind, uploads, progress)

	for _, fr := range result.Files {
		s.audit(r, audit.Entry{
			Action:     audit.ActionImportCompleted,
			EntityType: string(kind),
			Metadata: map[string]any{
				"file":    fr.File,
				"rows":    fr.Rows,
				"created": fr.Created,
				"updated": fr.Updated,
				"skipped": fr.Skipped,
			},
		})
	}

	if err != nil {
		s.writeImportError(w, r, kind, result, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) writeImportError(w http.ResponseWriter, r *http.Request, kind importer.Kind, result importer.BatchResult, err error) {
	k := csvimport.KindOf(err)
	details := map[string]any{
		"kind":     k.String(),
		"progress": result.Progress,
		"files":    result.Files,
	}
	message := err.Error()
	var ie *csvimport.Error
	if errors.As(err, &ie) {
		details["file"] = ie.File
		if ie.Row > 0 {
			details["row"] = ie.Row
		}
		if ie.Field != "" {
			details["field"] = ie.Field
		}
		if ie.Product != "" {
			details["product"] = ie.Product
		}
		message = ie.Message
	}

	status := http.StatusUnprocessableEntity
	switch k {
	case csvimport.KindParse:
		status = http.StatusBadRequest
	case csvimport.KindBackend:
		status = http.StatusInternalServerError
		message = "Import failed while writing to the database"
		s.Logger.Error("import_failed", "kind", kind, "request_id", requestID(r), "error", err)
	}

	s.audit(r, audit.Entry{
		Action:     audit.ActionImportFailed,
		EntityType: string(kind),
		Metadata:   map[string]any{"error": k.String(), "file": details["file"]},
	})
	httpx.WriteError(w, r, status, k.Code(), message, details)
}

func parseImportUploads(r *http.Request, maxFiles int, maxFileBytes int64) ([]importer.Upload, *appError) {
	if !strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
		return nil, &appError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_content_type",
			Message: "Content-Type must be multipart/form-data",
		}
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, &appError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_multipart",
			Message: "Failed to parse multipart form",
		}
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return nil, &appError{
			Status:  http.StatusBadRequest,
			Code:    "missing_file",
			Message: "at least one file is required",
		}
	}
	if maxFiles > 0 && len(headers) > maxFiles {
		return nil, &appError{
			Status:  http.StatusBadRequest,
			Code:    "too_many_files",
			Message: "Too many files in one import",
			Details: map[string]any{"maxFiles": maxFiles},
		}
	}

	uploads := make([]importer.Upload, 0, len(headers))
	for _, header := range headers {
		filename := header.Filename
		if strings.ToLower(filepath.Ext(filename)) != ".csv" {
			return nil, &appError{
				Status:  http.StatusBadRequest,
				Code:    "invalid_file_type",
				Message: "Only .csv uploads are supported",
				Details: map[string]any{"file": filename},
			}
		}
		contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
		if contentType != "" {
			if _, ok := supportedCSVContentTypes[contentType]; !ok {
				return nil, &appError{
					Status:  http.StatusBadRequest,
					Code:    "invalid_content_type",
					Message: "Unsupported CSV content type",
					Details: map[string]any{"file": filename, "contentType": contentType},
				}
			}
		}
		if maxFileBytes > 0 && header.Size > maxFileBytes {
			return nil, &appError{
				Status:  http.StatusRequestEntityTooLarge,
				Code:    "file_too_large",
				Message: "Uploaded file exceeds the size limit",
				Details: map[string]any{"file": filename, "maxBytes": maxFileBytes},
			}
		}

		file, err := header.Open()
		if err != nil {
			return nil, &appError{Status: http.StatusBadRequest, Code: "invalid_file", Message: "Failed to read uploaded file"}
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, &appError{Status: http.StatusBadRequest, Code: "invalid_file", Message: "Failed to read uploaded file"}
		}
		uploads = append(uploads, importer.Upload{Name: filename, Body: bytes.NewReader(data)})
	}
	return uploads, nil
}
