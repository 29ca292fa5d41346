package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"consentgate/internal/platform/middleware"
	"consentgate/internal/storage"
	"consentgate/pkg/requestcontext"
)

// AdminHandler exposes the audit surface over the durable store: record
// listing, per-consent lookup, aggregate stats, and full export. Only mounted
// when the deployment runs the Postgres adapter.
type AdminHandler struct {
	logger *slog.Logger
	store  *storage.PostgresStore
	token  string
}

func NewAdminHandler(store *storage.PostgresStore, token string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{logger: logger, store: store, token: token}
}

// Register mounts the admin routes behind the token check.
func (h *AdminHandler) Register(r chi.Router) {
	admin := chi.NewRouter()
	admin.Use(middleware.RequireAdminToken(h.token, h.logger))
	admin.Get("/records", h.handleList)
	admin.Get("/records/{consentID}", h.handleGet)
	admin.Get("/stats", h.handleStats)
	admin.Get("/export", h.handleExport)

	r.Mount("/admin", admin)
}

func (h *AdminHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.store.List(ctx, limit, offset)
	if err != nil {
		h.logger.ErrorContext(ctx, "list consent records",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		WriteError(w, err)
		return
	}
	total, err := h.store.Count(ctx)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"total":   total,
		"records": records,
	})
}

func (h *AdminHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	consentID := chi.URLParam(r, "consentID")

	record, err := h.store.FindByConsentID(ctx, consentID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if record == nil {
		WriteJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "consent not found"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "record": record})
}

func (h *AdminHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

func (h *AdminHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ExportAll(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "records": records})
}
