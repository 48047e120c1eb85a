package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/FACorreiaa/finance-import/internal/domain/import/mapper"
	"github.com/FACorreiaa/finance-import/internal/domain/import/preview"
	"github.com/FACorreiaa/finance-import/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/finance-import/internal/domain/import/service"
	"github.com/FACorreiaa/finance-import/pkg/interceptors"
)

const multipartMemory = 1 << 20

// ImportService is the part of the import service exposed over HTTP
type ImportService interface {
	Upload(ctx context.Context, in importservice.UploadInput) (*repository.FileRecord, error)
	ListFiles(ctx context.Context, userID uuid.UUID) ([]*repository.FileRecord, error)
	GetFile(ctx context.Context, userID, fileID uuid.UUID) (*repository.FileRecord, error)
	ConfirmMapping(ctx context.Context, userID, fileID uuid.UUID, candidate map[string]string) (*repository.FileRecord, error)
	RunImport(ctx context.Context, userID, fileID uuid.UUID) (*importservice.ImportResult, error)
	DeleteFile(ctx context.Context, userID, fileID uuid.UUID) error
	ExportErrors(ctx context.Context, userID, fileID uuid.UUID, w io.Writer) error
}

// ImportHandler serves the file import endpoints
type ImportHandler struct {
	importSvc      ImportService
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewImportHandler creates a new import handler
func NewImportHandler(importSvc ImportService, logger *slog.Logger, maxUploadBytes int64) *ImportHandler {
	return &ImportHandler{
		importSvc:      importSvc,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes returns the router mounted under /v1/imports/files
func (h *ImportHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Upload)
	r.Get("/", h.ListFiles)
	r.Route("/{fileID}", func(r chi.Router) {
		r.Get("/", h.GetFile)
		r.Delete("/", h.DeleteFile)
		r.Put("/mapping", h.ConfirmMapping)
		r.Post("/import", h.RunImport)
		r.Get("/errors.csv", h.ExportErrors)
	})
	return r
}

type listFilesResponse struct {
	Files []*repository.FileRecord `json:"files"`
}

type confirmMappingRequest struct {
	Mapping map[string]string `json:"mapping"`
}

// Upload accepts a multipart form with a "file" part and an "account_id" field
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form data")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	accountID, err := uuid.Parse(r.FormValue("account_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "account_id must be a valid UUID")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	rec, err := h.importSvc.Upload(r.Context(), importservice.UploadInput{
		UserID:    userID,
		AccountID: accountID,
		FileName:  header.Filename,
		Body:      file,
	})
	if err != nil {
		h.writeServiceError(w, r, "upload file", err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// ListFiles returns the caller's uploads, newest first
func (h *ImportHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	files, err := h.importSvc.ListFiles(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, "list files", err)
		return
	}

	writeJSON(w, http.StatusOK, listFilesResponse{Files: files})
}

// GetFile returns one upload including its error log
func (h *ImportHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	userID, fileID, ok := h.fileParams(w, r)
	if !ok {
		return
	}

	rec, err := h.importSvc.GetFile(r.Context(), userID, fileID)
	if err != nil {
		h.writeServiceError(w, r, "get file", err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ConfirmMapping stores the column mapping for a PENDING upload
func (h *ImportHandler) ConfirmMapping(w http.ResponseWriter, r *http.Request) {
	userID, fileID, ok := h.fileParams(w, r)
	if !ok {
		return
	}

	var req confirmMappingRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, multipartMemory))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mapping == nil {
		writeError(w, http.StatusBadRequest, "mapping is required")
		return
	}

	rec, err := h.importSvc.ConfirmMapping(r.Context(), userID, fileID, req.Mapping)
	if err != nil {
		h.writeServiceError(w, r, "confirm mapping", err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// RunImport imports a VALIDATED upload and returns the outcome summary
func (h *ImportHandler) RunImport(w http.ResponseWriter, r *http.Request) {
	userID, fileID, ok := h.fileParams(w, r)
	if !ok {
		return
	}

	result, err := h.importSvc.RunImport(r.Context(), userID, fileID)
	if err != nil {
		h.writeServiceError(w, r, "run import", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DeleteFile removes an upload and its stored bytes
func (h *ImportHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	userID, fileID, ok := h.fileParams(w, r)
	if !ok {
		return
	}

	if err := h.importSvc.DeleteFile(r.Context(), userID, fileID); err != nil {
		h.writeServiceError(w, r, "delete file", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExportErrors downloads the error log as CSV
func (h *ImportHandler) ExportErrors(w http.ResponseWriter, r *http.Request) {
	userID, fileID, ok := h.fileParams(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.importSvc.ExportErrors(r.Context(), userID, fileID, &buf); err != nil {
		h.writeServiceError(w, r, "export errors", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-errors.csv"`, fileID))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *ImportHandler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := interceptors.GetUserIDFromContext(r.Context())
	if !ok || userIDStr == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *ImportHandler) fileParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := h.userID(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, http.StatusNotFound, importservice.ErrFileNotFound.Error())
		return uuid.Nil, uuid.Nil, false
	}
	return userID, fileID, true
}

// writeServiceError maps service errors onto HTTP statuses
func (h *ImportHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		malformed   *preview.MalformedFileError
		processed   *importservice.AlreadyProcessedError
		invalid     *importservice.InvalidStatusError
		unavailable *importservice.SourceUnavailableError
	)

	switch {
	case errors.As(err, &malformed), errors.Is(err, mapper.ErrInvalidMapping):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, importservice.ErrEmptyFileName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, importservice.ErrFileNotFound), errors.Is(err, importservice.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, importservice.ErrDuplicateUpload),
		errors.Is(err, importservice.ErrImportInProgress),
		errors.As(err, &processed),
		errors.As(err, &invalid):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unavailable):
		h.logger.Error("import source unavailable",
			slog.String("op", op),
			slog.String("file_id", unavailable.FileID.String()),
			slog.Any("error", err),
		)
		writeError(w, http.StatusBadGateway, "stored file could not be read")
	default:
		h.logger.Error("failed to "+op,
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return true
	}
	// some multipart paths drop the wrapped error
	return strings.Contains(err.Error(), "request body too large")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(message)})
}
