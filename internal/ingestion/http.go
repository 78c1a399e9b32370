package ingestion

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/datasetingest/pkg/storage/versioned"
	"github.com/your-org/datasetingest/pkg/tracing"
)

const (
	headerUserID  = "X-User-ID"
	headerSegment = "X-User-Segment"

	// multipartOverhead is the slack allowed on top of the file size for
	// boundaries and part headers.
	multipartOverhead = 1 << 20

	messageUploaded = "File uploaded successfully"
)

// HTTPHandler exposes REST endpoints for the ingestion service.
type HTTPHandler struct {
	service      *Service
	logger       *zap.Logger
	maxSizeBytes int64
	formMemBytes int64
	router       chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(service *Service, logger *zap.Logger, formMemBytes int64) *HTTPHandler {
	h := &HTTPHandler{
		service:      service,
		logger:       logger,
		maxSizeBytes: service.Validator().MaxSizeBytes(),
		formMemBytes: formMemBytes,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", h.handleHealth)
	r.Route("/ingest", func(r chi.Router) {
		r.Post("/upload", h.handleUpload)
		r.Get("/datasets/{name}/versions", h.handleVersions)
	})

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	identity := UploadRequest{
		UserID:            r.Header.Get(headerUserID),
		Segment:           r.Header.Get(headerSegment),
		ContentLengthHint: r.ContentLength,
	}
	bodyLimit := h.maxSizeBytes + multipartOverhead

	if r.ContentLength > bodyLimit {
		h.tooLarge(w, identity)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)

	if err := r.ParseMultipartForm(h.formMemBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.tooLarge(w, identity)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	// One byte past the limit is enough for the size gate to fire.
	data, err := io.ReadAll(io.LimitReader(file, h.maxSizeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	result, err := h.service.Ingest(r.Context(), UploadRequest{
		Filename:          header.Filename,
		Data:              data,
		ContentLengthHint: header.Size,
		UserID:            identity.UserID,
		Segment:           identity.Segment,
	})
	if err != nil {
		var rej *RejectionError
		if errors.As(err, &rej) {
			writeError(w, rej.Class.HTTPStatus(), rej.Reason)
			return
		}
		h.logger.Error("upload failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to store dataset")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      messageUploaded,
		"path":         result.Path,
		"checksum":     result.Checksum,
		"size":         result.Size,
		"dataset":      result.Dataset,
		"version":      result.Version,
		"ingestion_id": result.IngestionID,
	})
}

func (h *HTTPHandler) tooLarge(w http.ResponseWriter, identity UploadRequest) {
	rej := h.service.Validator().SizeRejection()
	h.service.Deny(identity, rej)
	writeError(w, rej.Class.HTTPStatus(), rej.Reason)
}

func (h *HTTPHandler) handleVersions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	versions, err := h.service.Versions(r.Context(), name)
	switch {
	case errors.Is(err, versioned.ErrInvalidDataset):
		writeError(w, http.StatusBadRequest, "invalid dataset name")
		return
	case err != nil:
		h.logger.Error("list versions failed", zap.String("dataset", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list versions")
		return
	case len(versions) == 0:
		writeError(w, http.StatusNotFound, "dataset not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dataset":  name,
		"versions": versions,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"detail": msg,
	})
}
