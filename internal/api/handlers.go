package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/inspecta/internal/checklist"
	"github.com/hyperengineering/inspecta/internal/media"
	"github.com/hyperengineering/inspecta/internal/store"
	"github.com/hyperengineering/inspecta/internal/syncengine"
	"github.com/hyperengineering/inspecta/internal/types"
	"github.com/hyperengineering/inspecta/internal/validation"
)

// maxPhotoBytes bounds a photo upload from the UI shell.
const maxPhotoBytes = 20 << 20

// Checklist is the orchestrator surface exposed over HTTP.
type Checklist interface {
	Resolve(ctx context.Context, orderID int64) (*checklist.State, error)
	ResolveLocal(ctx context.Context, orderID int64) (*checklist.State, error)
	Snapshot() *checklist.State
	Start(ctx context.Context) (*checklist.State, error)
	Pause(ctx context.Context) (*checklist.State, error)
	Resume(ctx context.Context) (*checklist.State, error)
	Finalize(ctx context.Context, notes string) (*checklist.State, error)
	SyncOfflineData(ctx context.Context) (*syncengine.SyncStats, *checklist.State, error)
	SaveResponse(ctx context.Context, itemID int64, data checklist.ResponseData) (*checklist.State, error)
	AttachPhoto(ctx context.Context, itemID int64, ref media.Ref, description string) (*checklist.State, error)
	UploadPhoto(ctx context.Context, itemID int64, ref media.Ref, description string) (*types.Photo, *checklist.State, error)
	SetSignature(ctx context.Context, role types.SignatureRole, blob string) (*checklist.State, error)
}

// StatsProvider reports local store statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (*store.Stats, error)
}

// Handler implements the agent API handlers
type Handler struct {
	checklist Checklist
	stats     StatsProvider
	agentKey  string
	version   string
	mediaDir  string
}

// NewHandler creates a Handler. Uploaded photos are written under mediaDir
// until they are delivered.
func NewHandler(c Checklist, stats StatsProvider, agentKey, version, mediaDir string) *Handler {
	return &Handler{
		checklist: c,
		stats:     stats,
		agentKey:  agentKey,
		version:   version,
		mediaDir:  mediaDir,
	}
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Store   *store.Stats `json:"store"`
}

// Health returns the agent status and local store counters
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Local store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Store:   stats,
	})
}

// resolution adds the applicability flag to a resolved state.
type resolution struct {
	Applicable bool `json:"applicable"`
	*checklist.State
}

// Resolve handles POST /api/v1/orders/{orderID}/checklist
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathInt(w, r, "orderID")
	if !ok {
		return
	}

	resolve := h.checklist.Resolve
	if offline, _ := strconv.ParseBool(r.URL.Query().Get("offline")); offline {
		resolve = h.checklist.ResolveLocal
	}
	st, err := resolve(r.Context(), orderID)
	if st == nil {
		writeResult(w, nil, err)
		return
	}
	writeResult(w, resolution{Applicable: st.Applicable(), State: st}, err)
}

// Current handles GET /api/v1/checklist
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	st := h.checklist.Snapshot()
	writeOK(w, resolution{Applicable: st.Applicable(), State: st})
}

// Start handles POST /api/v1/checklist/start
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	st, err := h.checklist.Start(r.Context())
	writeResult(w, st, err)
}

// Pause handles POST /api/v1/checklist/pause
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	st, err := h.checklist.Pause(r.Context())
	writeResult(w, st, err)
}

// Resume handles POST /api/v1/checklist/resume
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	st, err := h.checklist.Resume(r.Context())
	writeResult(w, st, err)
}

// FinalizeRequest is the optional body of POST /api/v1/checklist/finalize.
type FinalizeRequest struct {
	Notes string `json:"notes"`
}

// Finalize handles POST /api/v1/checklist/finalize
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}
	st, err := h.checklist.Finalize(r.Context(), req.Notes)
	writeResult(w, st, err)
}

// SyncResponse is the data of POST /api/v1/checklist/sync.
type SyncResponse struct {
	Stats *syncengine.SyncStats `json:"stats"`
	State *checklist.State      `json:"state,omitempty"`
}

// Sync handles POST /api/v1/checklist/sync
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	stats, st, err := h.checklist.SyncOfflineData(r.Context())
	if err != nil {
		writeResult(w, nil, err)
		return
	}
	writeOK(w, SyncResponse{Stats: stats, State: st})
}

// SaveResponse handles PUT /api/v1/checklist/responses/{itemID}
func (h *Handler) SaveResponse(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(w, r, "itemID")
	if !ok {
		return
	}
	var data checklist.ResponseData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}
	st, err := h.checklist.SaveResponse(r.Context(), itemID, data)
	writeResult(w, st, err)
}

// PhotoResponse is the data of a direct photo upload.
type PhotoResponse struct {
	Photo *types.Photo     `json:"photo"`
	State *checklist.State `json:"state,omitempty"`
}

// AddPhoto handles POST /api/v1/checklist/responses/{itemID}/photos.
// The multipart form carries the image in "photo", an optional
// "description", and "mode": "queue" (default) attaches the photo for
// delivery on the next sync, "direct" uploads it now.
func (h *Handler) AddPhoto(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(w, r, "itemID")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes)
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Photo exceeds upload limit")
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid multipart form: %s", err))
		return
	}

	mode := r.FormValue("mode")
	if mode == "" {
		mode = "queue"
	}
	if mode != "queue" && mode != "direct" {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
			{Field: "mode", Message: "must be one of: queue, direct"},
		})
		return
	}

	ref, path, err := h.storePhoto(r)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
				{Field: "photo", Message: "is required"},
			})
			return
		}
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to store photo")
		return
	}

	description := r.FormValue("description")
	if mode == "direct" {
		photo, st, err := h.checklist.UploadPhoto(r.Context(), itemID, ref, description)
		if err != nil {
			removePhoto(path)
			writeResult(w, st, err)
			return
		}
		writeOK(w, PhotoResponse{Photo: photo, State: st})
		return
	}
	st, err := h.checklist.AttachPhoto(r.Context(), itemID, ref, description)
	// A local store failure may leave the photo recorded on the response.
	if err != nil && !errors.Is(err, checklist.ErrIntegrity) {
		removePhoto(path)
	}
	writeResult(w, st, err)
}

// removePhoto deletes a stored upload that no response refers to.
func removePhoto(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove unused photo", "component", "api", "path", path, "error", err)
	}
}

// storePhoto copies the uploaded image into the media directory and
// returns its local reference and file path. Nothing is left on disk when
// it fails.
func (h *Handler) storePhoto(r *http.Request) (media.Ref, string, error) {
	file, header, err := r.FormFile("photo")
	if err != nil {
		return media.Ref{}, "", err
	}
	defer file.Close()

	if err := os.MkdirAll(h.mediaDir, 0755); err != nil {
		return media.Ref{}, "", fmt.Errorf("create media directory: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	path := filepath.Join(h.mediaDir, ulid.Make().String()+ext)

	out, err := os.Create(path)
	if err != nil {
		return media.Ref{}, "", fmt.Errorf("create photo file: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		removePhoto(path)
		return media.Ref{}, "", fmt.Errorf("write photo file: %w", err)
	}
	if err := out.Close(); err != nil {
		removePhoto(path)
		return media.Ref{}, "", fmt.Errorf("close photo file: %w", err)
	}

	c := media.FileCapturer{Path: path}.Capture(r.Context())
	if c.Status != media.StatusAvailable {
		removePhoto(path)
		return media.Ref{}, "", fmt.Errorf("stored photo is %s: %w", c.Status, media.ErrUnavailable)
	}
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		c.Ref.MimeType = ct
	}
	return c.Ref, path, nil
}

// SignatureRequest is the body of PUT /api/v1/checklist/signatures/{role}.
type SignatureRequest struct {
	Signature string `json:"signature"`
}

// SetSignature handles PUT /api/v1/checklist/signatures/{role}
func (h *Handler) SetSignature(w http.ResponseWriter, r *http.Request) {
	role := types.SignatureRole(chi.URLParam(r, "role"))
	var req SignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}
	st, err := h.checklist.SetSignature(r.Context(), role, req.Signature)
	writeResult(w, st, err)
}

// pathInt parses a positive integer URL parameter, writing a 400 problem
// when it is not one.
func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("%s must be a positive integer, got %q", name, raw))
		return 0, false
	}
	return n, true
}
