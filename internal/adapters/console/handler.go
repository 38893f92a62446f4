// Package console is the HTTP presentation boundary of the operations
// console. It owns per-caller edit sessions and translates core results and
// failures into JSON responses and status codes.
package console

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"wastageops/internal/core"
	"wastageops/pkg/domain"
)

// IdentityHeader carries the authenticated caller's email, set by the
// fronting proxy. The value is opaque and trusted as-is.
const IdentityHeader = "X-Forwarded-Email"

const apiPrefix = "/api/v1"

// Handler provides HTTP access to dataset sessions, saves, exports, and the
// dashboard.
type Handler struct {
	Service  *core.Service
	Exporter *Exporter
	Logger   *zap.Logger
	// LocalIdentity substitutes for the identity header when running
	// without a fronting proxy. Empty disables the fallback.
	LocalIdentity string

	mu       sync.Mutex
	sessions map[sessionKey]*sessionEntry
}

type sessionKey struct {
	identity string
	dataset  string
}

// sessionEntry serializes work on one caller's session for one dataset. Its
// mutex covers the session pointer and every operation on the session it
// holds, so a slow save blocks only that caller. Handler.mu covers only the
// sessions map.
type sessionEntry struct {
	mu      sync.Mutex
	session *core.EditSession
}

// NewHandler constructs a console handler around a core service.
func NewHandler(svc *core.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:  svc,
		Logger:   logger,
		sessions: make(map[sessionKey]*sessionEntry),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	h.route(sw, r)
	h.Logger.Info("request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", sw.status),
		zap.Duration("duration", time.Since(start)),
	)
}

func (h *Handler) route(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "service not configured")
		return
	}
	identity := h.identity(r)
	if identity == "" {
		writeError(w, http.StatusUnauthorized, "caller identity missing")
		return
	}

	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, apiPrefix), "/")
	switch {
	case r.Method == http.MethodGet && path == "/datasets":
		h.handleListDatasets(w)
	case r.Method == http.MethodGet && path == "/access":
		h.handleAccess(w, r, identity)
	case strings.HasPrefix(path, "/datasets/"):
		h.handleDataset(w, r, identity, strings.TrimPrefix(path, "/datasets/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/dashboard/"):
		h.handleDashboard(w, r, identity, strings.TrimPrefix(path, "/dashboard/"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) identity(r *http.Request) string {
	if email := strings.TrimSpace(r.Header.Get(IdentityHeader)); email != "" {
		return email
	}
	return h.LocalIdentity
}

// datasetDescriptor is the read-only registry view served to clients.
type datasetDescriptor struct {
	Name            string   `json:"name"`
	JoinKeys        []string `json:"join_keys"`
	EditableColumns []string `json:"editable_columns"`
	FilterColumns   []string `json:"filter_columns"`
	StatusOptions   []string `json:"status_options,omitempty"`
	DeleteCapable   bool     `json:"delete_capable"`
	AdminOnly       bool     `json:"admin_only"`
}

func (h *Handler) handleListDatasets(w http.ResponseWriter) {
	configs := h.Service.Datasets()
	descriptors := make([]datasetDescriptor, len(configs))
	for i, cfg := range configs {
		descriptors[i] = datasetDescriptor{
			Name:            cfg.Name,
			JoinKeys:        cfg.JoinKeys,
			EditableColumns: cfg.EditableColumns,
			FilterColumns:   cfg.FilterColumns,
			StatusOptions:   cfg.StatusOptions,
			DeleteCapable:   cfg.DeleteCapable,
			AdminOnly:       cfg.AdminOnly,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": descriptors})
}

func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request, identity string) {
	access, err := h.Service.ResolveAccess(r.Context(), identity)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": identity,
		"plants":   access.Values(),
		"wildcard": access.Wildcard(),
	})
}

func (h *Handler) handleDataset(w http.ResponseWriter, r *http.Request, identity, remainder string) {
	segments := strings.Split(remainder, "/")
	if len(segments) != 2 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}
	name, action := segments[0], segments[1]

	switch {
	case r.Method == http.MethodPost && action == "load":
		h.handleLoad(w, r, identity, name)
	case r.Method == http.MethodGet && action == "rows":
		h.handleRows(w, r, identity, name)
	case r.Method == http.MethodPost && action == "rows":
		h.handleAppend(w, r, identity, name)
	case r.Method == http.MethodPost && action == "edits":
		h.handleEdits(w, r, identity, name)
	case r.Method == http.MethodPost && action == "save":
		h.handleSave(w, r, identity, name)
	case r.Method == http.MethodPost && action == "export":
		h.handleExport(w, r, identity, name)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// entry returns the caller's session slot for a dataset, creating an empty
// one on first touch.
func (h *Handler) entry(identity, name string) *sessionEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := sessionKey{identity: identity, dataset: name}
	e, ok := h.sessions[key]
	if !ok {
		e = &sessionEntry{}
		h.sessions[key] = e
	}
	return e
}

// openLocked loads a fresh session into the entry, replacing any existing
// one and discarding unsaved work. The entry mutex must be held.
func (h *Handler) openLocked(w http.ResponseWriter, r *http.Request, identity, name string, e *sessionEntry) *core.EditSession {
	access, err := h.Service.ResolveAccess(r.Context(), identity)
	if err != nil {
		h.writeFailure(w, err)
		return nil
	}
	session, err := h.Service.OpenSession(r.Context(), name, access)
	if err != nil {
		h.writeFailure(w, err)
		return nil
	}
	e.session = session
	return session
}

// sessionLocked returns the entry's session, opening one on first touch.
// The entry mutex must be held.
func (h *Handler) sessionLocked(w http.ResponseWriter, r *http.Request, identity, name string, e *sessionEntry) *core.EditSession {
	if e.session != nil {
		return e.session
	}
	return h.openLocked(w, r, identity, name, e)
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request, identity, name string) {
	e := h.entry(identity, name)
	e.mu.Lock()
	defer e.mu.Unlock()
	session := h.openLocked(w, r, identity, name, e)
	if session == nil {
		return
	}
	h.writeRows(w, session, session.Rows())
}

func (h *Handler) handleRows(w http.ResponseWriter, r *http.Request, identity, name string) {
	e := h.entry(identity, name)
	e.mu.Lock()
	defer e.mu.Unlock()
	session := h.sessionLocked(w, r, identity, name, e)
	if session == nil {
		return
	}
	rows := session.Rows()
	cfg := session.Config()
	options := make(map[string][]string, len(cfg.FilterColumns))
	for _, col := range cfg.FilterColumns {
		options[col] = core.DistinctValues(rows, col)
	}
	rows = core.ApplyFilters(rows, queryFilters(r, cfg))
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":       rows,
		"filters":    options,
		"generation": session.Generation(),
	})
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request, identity, name string) {
	var rec domain.Record
	if err := decodeBody(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e := h.entry(identity, name)
	e.mu.Lock()
	defer e.mu.Unlock()
	session := h.sessionLocked(w, r, identity, name, e)
	if session == nil {
		return
	}
	if err := h.Service.AppendRow(session, identity, rec); err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeRows(w, session, session.Rows())
}

func (h *Handler) handleEdits(w http.ResponseWriter, r *http.Request, identity, name string) {
	var batch core.EditBatch
	if err := decodeBody(r, &batch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e := h.entry(identity, name)
	e.mu.Lock()
	defer e.mu.Unlock()
	session := h.sessionLocked(w, r, identity, name, e)
	if session == nil {
		return
	}
	err := h.Service.ApplyEdits(session, identity, batch)
	var ruleErr core.RuleError
	if errors.As(err, &ruleErr) {
		// rejected batches invalidate outstanding widget state
		session.Invalidate()
	}
	generation := session.Generation()
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"generation": generation})
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request, identity, name string) {
	e := h.entry(identity, name)
	e.mu.Lock()
	defer e.mu.Unlock()
	session := h.sessionLocked(w, r, identity, name, e)
	if session == nil {
		return
	}
	result, err := h.Service.Save(r.Context(), session)
	generation := session.Generation()
	if errors.Is(err, core.ErrNothingToSave) {
		writeJSON(w, http.StatusOK, map[string]any{
			"notice":     "nothing to save",
			"generation": generation,
		})
		return
	}
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upserted":   result.Upserted,
		"deleted":    result.Deleted,
		"generation": generation,
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, identity, name string) {
	if h.Exporter == nil {
		writeError(w, http.StatusNotImplemented, "export store not configured")
		return
	}
	e := h.entry(identity, name)
	e.mu.Lock()
	session := h.sessionLocked(w, r, identity, name, e)
	if session == nil {
		e.mu.Unlock()
		return
	}
	rows := session.Rows()
	cfg := session.Config()
	e.mu.Unlock()
	info, err := h.Exporter.Export(r.Context(), cfg, rows)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": info})
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request, identity, name string) {
	e := h.entry(identity, name)
	e.mu.Lock()
	defer e.mu.Unlock()
	session := h.sessionLocked(w, r, identity, name, e)
	if session == nil {
		return
	}
	rows := session.Rows()
	cfg := session.Config()
	rows = core.ApplyFilters(rows, queryFilters(r, cfg))
	payload := map[string]any{
		"summary":  core.Summarize(rows),
		"by_plant": core.SavingsByPlant(rows),
	}
	for _, rule := range cfg.UnlockRules {
		payload["status_counts"] = core.CountByField(rows, rule.StatusField)
		break
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) writeRows(w http.ResponseWriter, session *core.EditSession, rows []domain.Record) {
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":       rows,
		"generation": session.Generation(),
	})
}

// writeFailure maps core failures onto status codes: denied access is 403,
// unknown datasets 404, stale generations 409, and rule rejections 422.
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	var ruleErr core.RuleError
	var staleErr core.StaleGenerationError
	switch {
	case errors.Is(err, core.ErrAccessDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrUnknownDataset):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &staleErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      staleErr.Error(),
			"generation": staleErr.Current,
		})
	case errors.As(err, &ruleErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": ruleErr.Error(),
			"field": ruleErr.Field,
		})
	case errors.Is(err, core.ErrBlankIdentityField), errors.Is(err, core.ErrDuplicateKey):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.Logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// queryFilters maps repeated query parameters onto the dataset's filter
// columns; unknown parameters are ignored.
func queryFilters(r *http.Request, cfg domain.DatasetConfig) []domain.Filter {
	query := r.URL.Query()
	var filters []domain.Filter
	for _, col := range cfg.FilterColumns {
		if values, ok := query[col]; ok && len(values) > 0 {
			filters = append(filters, domain.Filter{Column: col, Values: values})
		}
	}
	return filters
}

func decodeBody(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
