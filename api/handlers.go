/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the commission calculation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Batches:
    POST   /api/batches                 Upload a spreadsheet for a period
    GET    /api/batches                 List batches (optional ?period=)
    GET    /api/batches/{id}            Batch status and progress
    POST   /api/batches/{id}/process    Trigger processing (async)
    DELETE /api/batches/{id}/data       Clear a batch's derived data

  Earnings:
    GET    /api/periods/{period}/earnings  Aggregated earnings for a period

  Managers:
    GET    /api/managers                List managers
    GET    /api/managers/{id}           Manager details
    GET    /api/managers/{id}/bonuses   Manager bonuses (optional ?period=)

  Bonuses:
    POST   /api/bonuses                 Award a manual bonus

  Genealogy:
    GET    /api/genealogy               List edges
    POST   /api/genealogy               Create edge
    PUT    /api/genealogy/{id}          Change edge level
    DELETE /api/genealogy/{id}          Remove edge

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: persistence (any engine.Store implementation)
  - Processor: batch lifecycle orchestration
  - SpoolDir: where uploaded spreadsheets land before processing

PROCESSING MODEL:
  POST /api/batches/{id}/process claims the batch synchronously (so a
  duplicate trigger is answered with 409 immediately) and then runs the
  pipeline in a background goroutine. Clients poll GET /api/batches/{id}
  for progress.

  Genealogy mutations kick off a background re-propagation across every
  period that currently has an active completed batch, so downline
  bonuses track the hierarchy without a full re-upload.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate trigger, live batch)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - engine/processor.go: The operations these handlers front
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/commission-engine/engine"
)

// maxUploadBytes caps multipart uploads. Monthly revenue sheets are a few
// hundred KB; 32 MB leaves generous headroom.
const maxUploadBytes = 32 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     engine.Store
	Processor *engine.Processor
	SpoolDir  string
	Logger    zerolog.Logger
}

// NewHandler creates a new handler.
func NewHandler(store engine.Store, processor *engine.Processor, spoolDir string, logger zerolog.Logger) *Handler {
	return &Handler{
		Store:     store,
		Processor: processor,
		SpoolDir:  spoolDir,
		Logger:    logger.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// CreateBatch accepts a multipart spreadsheet upload and registers a new
// pending batch for the given period. Processing is a separate trigger.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form", err)
		return
	}

	period, err := engine.ParsePeriod(r.FormValue("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYYMM)", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field", err)
		return
	}
	defer file.Close()

	if err := os.MkdirAll(h.SpoolDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to prepare spool directory", err)
		return
	}

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".xlsx"
	}
	spoolPath := filepath.Join(h.SpoolDir, uuid.NewString()+ext)

	dst, err := os.Create(spoolPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to spool upload", err)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(spoolPath)
		writeError(w, http.StatusInternalServerError, "Failed to spool upload", err)
		return
	}
	if err := dst.Close(); err != nil {
		os.Remove(spoolPath)
		writeError(w, http.StatusInternalServerError, "Failed to spool upload", err)
		return
	}

	batch, err := h.Processor.CreateBatch(r.Context(), period, spoolPath)
	if err != nil {
		os.Remove(spoolPath)
		writeError(w, http.StatusInternalServerError, "Failed to create batch", err)
		return
	}

	h.Logger.Info().
		Str("batch", string(batch.ID)).
		Str("period", string(period)).
		Str("upload", header.Filename).
		Msg("batch created")

	writeJSON(w, http.StatusCreated, toBatchDTO(batch))
}

// StartProcessing claims the batch and runs the pipeline in the background.
// A batch that is already live or completed answers 409.
func (h *Handler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	id := engine.BatchID(chi.URLParam(r, "id"))

	if err := h.Processor.Claim(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, engine.ErrBatchNotFound):
			writeError(w, http.StatusNotFound, "Batch not found", err)
		case engine.IsDuplicateTrigger(err):
			writeError(w, http.StatusConflict, "Batch already processing or completed", err)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to start processing", err)
		}
		return
	}

	go func() {
		if err := h.Processor.Run(context.Background(), id); err != nil {
			h.Logger.Error().Err(err).Str("batch", string(id)).Msg("background processing failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     string(id),
		"status": string(engine.BatchDownloading),
	})
}

// GetBatch returns a single batch with its progress.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := engine.BatchID(chi.URLParam(r, "id"))

	batch, err := h.Store.GetBatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrBatchNotFound) {
			writeError(w, http.StatusNotFound, "Batch not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get batch", err)
		return
	}

	writeJSON(w, http.StatusOK, toBatchDTO(batch))
}

// ListBatches returns batches, optionally filtered by ?period=YYYYMM.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	var period engine.Period
	if raw := r.URL.Query().Get("period"); raw != "" {
		p, err := engine.ParsePeriod(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period (use YYYYMM)", err)
			return
		}
		period = p
	}

	batches, err := h.Store.ListBatches(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batches", err)
		return
	}

	dtos := make([]BatchDTO, len(batches))
	for i := range batches {
		dtos[i] = toBatchDTO(&batches[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ClearBatchData removes a batch's transactions, bonuses and earnings and
// rolls lifetime totals back. Live batches answer 409.
func (h *Handler) ClearBatchData(w http.ResponseWriter, r *http.Request) {
	id := engine.BatchID(chi.URLParam(r, "id"))

	if err := h.Processor.ClearBatch(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, engine.ErrBatchNotFound):
			writeError(w, http.StatusNotFound, "Batch not found", err)
		case errors.Is(err, engine.ErrBatchAlreadyProcessing):
			writeError(w, http.StatusConflict, "Batch is currently processing", err)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to clear batch data", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     string(id),
		"status": string(engine.BatchCleared),
	})
}

// =============================================================================
// EARNINGS HANDLERS
// =============================================================================

// ListEarnings returns the aggregated earnings for every manager in a period.
func (h *Handler) ListEarnings(w http.ResponseWriter, r *http.Request) {
	period, err := engine.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYYMM)", err)
		return
	}

	earnings, err := h.Store.ListEarnings(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list earnings", err)
		return
	}

	dtos := make([]EarningsDTO, len(earnings))
	for i := range earnings {
		dtos[i] = toEarningsDTO(&earnings[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// MANAGER HANDLERS
// =============================================================================

// ListManagers returns all managers.
func (h *Handler) ListManagers(w http.ResponseWriter, r *http.Request) {
	managers, err := h.Store.ListManagers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list managers", err)
		return
	}

	dtos := make([]ManagerDTO, len(managers))
	for i := range managers {
		dtos[i] = toManagerDTO(&managers[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetManager returns a single manager.
func (h *Handler) GetManager(w http.ResponseWriter, r *http.Request) {
	id := engine.ManagerID(chi.URLParam(r, "id"))

	m, err := h.Store.GetManager(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrManagerNotFound) {
			writeError(w, http.StatusNotFound, "Manager not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get manager", err)
		return
	}

	writeJSON(w, http.StatusOK, toManagerDTO(m))
}

// ListManagerBonuses returns a manager's bonuses, optionally scoped to
// ?period=YYYYMM.
func (h *Handler) ListManagerBonuses(w http.ResponseWriter, r *http.Request) {
	id := engine.ManagerID(chi.URLParam(r, "id"))

	var period engine.Period
	if raw := r.URL.Query().Get("period"); raw != "" {
		p, err := engine.ParsePeriod(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period (use YYYYMM)", err)
			return
		}
		period = p
	}

	if _, err := h.Store.GetManager(r.Context(), id); err != nil {
		if errors.Is(err, engine.ErrManagerNotFound) {
			writeError(w, http.StatusNotFound, "Manager not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get manager", err)
		return
	}

	bonuses, err := h.Store.ListManagerBonuses(r.Context(), id, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bonuses", err)
		return
	}

	dtos := make([]BonusDTO, len(bonuses))
	for i := range bonuses {
		dtos[i] = toBonusDTO(&bonuses[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BONUS HANDLERS
// =============================================================================

// AwardBonus grants a manual bonus (recruitment, graduation, diamond) and
// refreshes the period's earnings. Re-posting the same reference is a no-op
// thanks to deterministic bonus IDs.
func (h *Handler) AwardBonus(w http.ResponseWriter, r *http.Request) {
	var req AwardBonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	period, err := engine.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYYMM)", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	if !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Amount must be positive", nil)
		return
	}
	if req.Reference == "" {
		writeError(w, http.StatusBadRequest, "Reference is required", nil)
		return
	}

	bonus, err := h.Processor.AwardBonus(r.Context(),
		engine.ManagerID(req.ManagerID), period, engine.BonusType(req.Type), amount, req.Reference)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrManagerNotFound):
			writeError(w, http.StatusNotFound, "Manager not found", err)
		case errors.Is(err, engine.ErrInvalidBonusType):
			writeError(w, http.StatusBadRequest, "Invalid bonus type", err)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to award bonus", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toBonusDTO(bonus))
}

// =============================================================================
// GENEALOGY HANDLERS
// =============================================================================

// ListEdges returns the full genealogy.
func (h *Handler) ListEdges(w http.ResponseWriter, r *http.Request) {
	edges, err := h.Store.ListEdges(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list genealogy", err)
		return
	}

	dtos := make([]EdgeDTO, len(edges))
	for i := range edges {
		dtos[i] = toEdgeDTO(&edges[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEdge adds (or re-levels, if the pair already exists) a genealogy
// edge and re-propagates downline bonuses in the background.
func (h *Handler) CreateEdge(w http.ResponseWriter, r *http.Request) {
	var req SaveEdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	for _, id := range []engine.ManagerID{engine.ManagerID(req.TeamManagerID), engine.ManagerID(req.LiveManagerID)} {
		if _, err := h.Store.GetManager(r.Context(), id); err != nil {
			if errors.Is(err, engine.ErrManagerNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("Manager %s not found", id), err)
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to verify managers", err)
			return
		}
	}

	edge := engine.GenealogyEdge{
		ID:            engine.EdgeID(uuid.NewString()),
		TeamManagerID: engine.ManagerID(req.TeamManagerID),
		LiveManagerID: engine.ManagerID(req.LiveManagerID),
		Level:         engine.DownlineLevel(req.Level),
	}
	if err := edge.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid edge", err)
		return
	}

	saved, err := h.Store.SaveEdge(r.Context(), edge)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save edge", err)
		return
	}

	h.repropagateActive()
	writeJSON(w, http.StatusCreated, toEdgeDTO(saved))
}

// UpdateEdge changes the level of an existing edge and re-propagates.
func (h *Handler) UpdateEdge(w http.ResponseWriter, r *http.Request) {
	id := engine.EdgeID(chi.URLParam(r, "id"))

	var req UpdateEdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	edge, err := h.Store.GetEdge(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Edge not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get edge", err)
		return
	}

	edge.Level = engine.DownlineLevel(req.Level)
	if err := edge.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid level", err)
		return
	}

	saved, err := h.Store.SaveEdge(r.Context(), *edge)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save edge", err)
		return
	}

	h.repropagateActive()
	writeJSON(w, http.StatusOK, toEdgeDTO(saved))
}

// DeleteEdge removes an edge and re-propagates. Bonuses already written for
// the removed edge are recomputed away on the next propagation pass only if
// the period is re-processed; existing periods keep their history.
func (h *Handler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	id := engine.EdgeID(chi.URLParam(r, "id"))

	if err := h.Store.DeleteEdge(r.Context(), id); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Edge not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete edge", err)
		return
	}

	h.repropagateActive()
	w.WriteHeader(http.StatusNoContent)
}

// repropagateActive re-runs downline propagation for every period that has
// an active completed batch, one goroutine per period. Runs detached from
// the request; failures are logged, not surfaced.
func (h *Handler) repropagateActive() {
	go func() {
		ctx := context.Background()

		batches, err := h.Store.ListActiveBatches(ctx)
		if err != nil {
			h.Logger.Error().Err(err).Msg("repropagation: listing active batches failed")
			return
		}

		periods := make(map[engine.Period]struct{})
		for _, b := range batches {
			if b.Status == engine.BatchCompleted {
				periods[b.Period] = struct{}{}
			}
		}
		if len(periods) == 0 {
			return
		}

		g, gctx := errgroup.WithContext(ctx)
		for period := range periods {
			g.Go(func() error {
				return h.Processor.Repropagate(gctx, period)
			})
		}
		if err := g.Wait(); err != nil {
			h.Logger.Error().Err(err).Msg("repropagation failed")
		}
	}()
}

// =============================================================================
// HELPERS
// =============================================================================

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
