package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/kiwari-pos/kanban/internal/kanban"
	"github.com/kiwari-pos/kanban/internal/lock"
	"github.com/kiwari-pos/kanban/internal/logger"
	"github.com/kiwari-pos/kanban/internal/service"
	"go.uber.org/zap"
)

// BoardReader is the board snapshot the handlers read from. Reads and
// refreshes act on the tenant in the request scope.
// Satisfied by *service.Board; narrow interface for testability.
type BoardReader interface {
	Refresh(ctx context.Context) error
	RefreshedAt(ctx context.Context) time.Time
	Groups(ctx context.Context, mode, tab, query string) ([]kanban.Group, error)
	Group(ctx context.Context, mode, key string) (kanban.Group, error)
	Item(ctx context.Context, id kanban.CardID) (kanban.OrderItem, error)
}

// BatchProcessor runs batch and single-card actions.
// Satisfied by *service.Processor.
type BatchProcessor interface {
	Order(ctx context.Context, group kanban.Group, opts service.OrderOptions) *service.BatchOutcome
	Complete(ctx context.Context, group kanban.Group) *service.BatchOutcome
	OrderOne(ctx context.Context, item kanban.OrderItem, opts service.OrderOptions) *service.BatchOutcome
	CompleteOne(ctx context.Context, item kanban.OrderItem) *service.BatchOutcome
	Request(ctx context.Context, item kanban.OrderItem) *service.BatchOutcome
	Fulfill(ctx context.Context, item kanban.OrderItem) *service.BatchOutcome
}

// RefreshListener is told when the board was reloaded on request.
// Satisfied by *ws.Notifier.
type RefreshListener interface {
	BoardRefreshed(ctx context.Context, at time.Time)
}

// KanbanHandler serves the order board and its batch actions.
type KanbanHandler struct {
	board     BoardReader
	processor BatchProcessor
	guard     lock.Guard
	listener  RefreshListener
	logger    *zap.Logger
}

// NewKanbanHandler creates a KanbanHandler. listener may be nil.
func NewKanbanHandler(board BoardReader, processor BatchProcessor, guard lock.Guard, listener RefreshListener, logger *zap.Logger) *KanbanHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KanbanHandler{board: board, processor: processor, guard: guard, listener: listener, logger: logger}
}

// RegisterRoutes registers board endpoints on the given Chi router.
// Expected to be mounted at /kanban inside the authenticated group.
func (h *KanbanHandler) RegisterRoutes(r chi.Router) {
	r.Get("/groups", h.ListGroups)
	r.Get("/groups/{mode}/{key}", h.GetGroup)
	r.Post("/refresh", h.Refresh)
	r.Get("/cards/{id}", h.GetCard)
}

// RegisterActionRoutes registers the state-changing endpoints. Kept apart so
// the router can restrict them by role.
func (h *KanbanHandler) RegisterActionRoutes(r chi.Router) {
	r.Post("/groups/{mode}/{key}/order", h.OrderGroup)
	r.Post("/groups/{mode}/{key}/complete", h.CompleteGroup)
	r.Post("/cards/{id}/{action}", h.CardAction)
}

// --- Request / Response types ---

type actionRequest struct {
	Confirmed bool `json:"confirmed"`
}

type itemResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	ReportedStatus string `json:"reported_status"`
	DerivedStatus  string `json:"derived_status"`
	SupplierName   string `json:"supplier_name"`
	Mechanism      string `json:"mechanism"`
	MechanismLabel string `json:"mechanism_label"`
	LinkURL        string `json:"link_url,omitempty"`
	Quantity       string `json:"quantity"`
	Unit           string `json:"unit"`
	UnitCost       string `json:"unit_cost"`
	LineCost       string `json:"line_cost"`
	Notes          string `json:"notes,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	CanOrder       bool   `json:"can_order"`
}

type summaryResponse struct {
	Total     int            `json:"total"`
	Orderable int            `json:"orderable"`
	ByStatus  map[string]int `json:"by_status"`
	TotalCost string         `json:"total_cost"`
}

type groupResponse struct {
	Mode                    string          `json:"mode"`
	Key                     string          `json:"key"`
	Name                    string          `json:"name"`
	RepresentativeMechanism string          `json:"representative_mechanism"`
	Expanded                bool            `json:"expanded"`
	Summary                 summaryResponse `json:"summary"`
	Items                   []itemResponse  `json:"items"`
}

type boardResponse struct {
	Mode        string          `json:"mode"`
	Tab         string          `json:"tab"`
	RefreshedAt *time.Time      `json:"refreshed_at"`
	Groups      []groupResponse `json:"groups"`
}

func toItemResponse(it kanban.OrderItem) itemResponse {
	return itemResponse{
		ID:             string(it.ID),
		Name:           it.Name,
		Status:         string(it.Status),
		ReportedStatus: it.ReportedStatus,
		DerivedStatus:  it.DerivedStatus,
		SupplierName:   it.SupplierName,
		Mechanism:      string(it.Mechanism),
		MechanismLabel: kanban.MechanismLabel(it.Mechanism),
		LinkURL:        it.LinkURL,
		Quantity:       it.Quantity.String(),
		Unit:           it.Unit,
		UnitCost:       it.UnitCost.StringFixed(2),
		LineCost:       it.LineCost().StringFixed(2),
		Notes:          it.Notes,
		ImageURL:       it.ImageURL,
		CanOrder:       kanban.CanOrderItem(it),
	}
}

func toGroupResponse(g kanban.Group) groupResponse {
	s := g.Summary()
	items := make([]itemResponse, len(g.Items))
	for i, it := range g.Items {
		items[i] = toItemResponse(it)
	}
	return groupResponse{
		Mode:                    g.Mode,
		Key:                     g.Key,
		Name:                    g.Name,
		RepresentativeMechanism: string(g.RepresentativeMechanism),
		Expanded:                g.Expanded,
		Summary: summaryResponse{
			Total:     s.Total,
			Orderable: s.Orderable,
			ByStatus:  s.ByStatus,
			TotalCost: s.TotalCost.StringFixed(2),
		},
		Items: items,
	}
}

// --- Handlers ---

// ListGroups handles GET /kanban/groups?mode=&tab=&q=
func (h *KanbanHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("mode")
	if mode == "" {
		mode = enum.GroupModeSupplier
	}
	tab := q.Get("tab")
	if tab == "" {
		tab = enum.TabAll
	}

	groups, err := h.board.Groups(r.Context(), mode, tab, q.Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := boardResponse{Mode: mode, Tab: tab, Groups: make([]groupResponse, len(groups))}
	if at := h.board.RefreshedAt(r.Context()); !at.IsZero() {
		resp.RefreshedAt = &at
	}
	for i, g := range groups {
		resp.Groups[i] = toGroupResponse(g)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetGroup handles GET /kanban/groups/{mode}/{key}
func (h *KanbanHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	mode, key, ok := groupParams(w, r)
	if !ok {
		return
	}
	g, err := h.board.Group(r.Context(), mode, key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupResponse(g))
}

// GetCard handles GET /kanban/cards/{id}
func (h *KanbanHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	it, err := h.board.Item(r.Context(), kanban.CardID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

// Refresh handles POST /kanban/refresh
func (h *KanbanHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.board.Refresh(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	at := h.board.RefreshedAt(r.Context())
	if h.listener != nil {
		h.listener.BoardRefreshed(r.Context(), at)
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"refreshed_at": at})
}

// OrderGroup handles POST /kanban/groups/{mode}/{key}/order
func (h *KanbanHandler) OrderGroup(w http.ResponseWriter, r *http.Request) {
	h.runGroupAction(w, r, enum.BatchActionOrder)
}

// CompleteGroup handles POST /kanban/groups/{mode}/{key}/complete
func (h *KanbanHandler) CompleteGroup(w http.ResponseWriter, r *http.Request) {
	h.runGroupAction(w, r, enum.BatchActionComplete)
}

func (h *KanbanHandler) runGroupAction(w http.ResponseWriter, r *http.Request, action string) {
	mode, key, ok := groupParams(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	release, err := h.guard.Acquire(r.Context(), lock.Key(tenantKey(r.Context()), mode, key))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer release()

	// Resolve after acquiring so the batch sees the latest snapshot.
	group, err := h.board.Group(r.Context(), mode, key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var out *service.BatchOutcome
	switch action {
	case enum.BatchActionOrder:
		out = h.processor.Order(r.Context(), group, service.OrderOptions{Confirmed: req.Confirmed})
	default:
		out = h.processor.Complete(r.Context(), group)
	}
	h.writeOutcome(w, r, out)
}

// CardAction handles POST /kanban/cards/{id}/{action}
func (h *KanbanHandler) CardAction(w http.ResponseWriter, r *http.Request) {
	id := kanban.CardID(chi.URLParam(r, "id"))
	action := chi.URLParam(r, "action")
	switch action {
	case enum.CardActionRequest, enum.CardActionOrder, enum.CardActionComplete, enum.CardActionFulfill:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown action: " + action})
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	release, err := h.guard.Acquire(r.Context(), lock.Key(tenantKey(r.Context()), "card", string(id)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer release()

	item, err := h.board.Item(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var out *service.BatchOutcome
	switch action {
	case enum.CardActionRequest:
		out = h.processor.Request(r.Context(), item)
	case enum.CardActionOrder:
		out = h.processor.OrderOne(r.Context(), item, service.OrderOptions{Confirmed: req.Confirmed})
	case enum.CardActionComplete:
		out = h.processor.CompleteOne(r.Context(), item)
	case enum.CardActionFulfill:
		out = h.processor.Fulfill(r.Context(), item)
	}
	h.writeOutcome(w, r, out)
}

// --- Helpers ---

type outcomeResponse struct {
	*service.BatchOutcome
	Totals       service.BatchResult `json:"totals"`
	RefreshError string              `json:"refresh_error,omitempty"`
	EmailErrors  map[string]string   `json:"email_errors,omitempty"`
}

// writeOutcome always answers 200: per-card failures are part of the outcome.
func (h *KanbanHandler) writeOutcome(w http.ResponseWriter, r *http.Request, out *service.BatchOutcome) {
	resp := outcomeResponse{BatchOutcome: out, Totals: out.Totals()}
	if out.RefreshErr != nil {
		resp.RefreshError = out.RefreshErr.Error()
	}
	for _, e := range out.Email {
		if e != nil && e.Err != nil {
			if resp.EmailErrors == nil {
				resp.EmailErrors = make(map[string]string)
			}
			resp.EmailErrors[e.Supplier] = e.Err.Error()
		}
	}

	totals := resp.Totals
	logger.WithContext(r.Context(), h.logger).Info("kanban action finished",
		zap.String("action", out.Action),
		zap.String("outcome", string(out.Kind)),
		zap.Int("successful", totals.Successful),
		zap.Int("failed", totals.Failed),
		zap.Int("skipped", len(out.Skipped)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (h *KanbanHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, kanban.ErrUnknownMode), errors.Is(err, service.ErrUnknownTab):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrGroupNotFound), errors.Is(err, service.ErrItemNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, lock.ErrHeld):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		logger.WithContext(r.Context(), h.logger).Error("kanban request failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "card store unavailable"})
	}
}

func groupParams(w http.ResponseWriter, r *http.Request) (mode, key string, ok bool) {
	mode = chi.URLParam(r, "mode")
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid group key"})
		return "", "", false
	}
	return mode, key, true
}

// decodeAction reads the optional action body. An empty body means defaults.
func decodeAction(w http.ResponseWriter, r *http.Request) (actionRequest, bool) {
	var req actionRequest
	if r.Body == nil {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return req, false
	}
	return req, true
}

func tenantKey(ctx context.Context) string {
	s, _ := service.ScopeFromContext(ctx)
	return lock.TenantKey(s.TenantID)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
