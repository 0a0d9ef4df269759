package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/domain/catalog"
)

// CatalogHandler serves medication search
type CatalogHandler struct {
	svc    *catalog.Service
	logger *zap.Logger
}

// NewCatalogHandler creates a new handler
func NewCatalogHandler(svc *catalog.Service, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{svc: svc, logger: logger}
}

// Routes returns the catalog routes
func (h *CatalogHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/search", h.Search)
	return r
}

// SearchResponse wraps search results
type SearchResponse struct {
	Results []catalog.Medication `json:"results"`
}

// Search handles GET /medications/search?q=
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	meds, err := h.svc.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.logger.Error("medication search failed", zap.Error(err))
		jsonError(w, "search failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: meds})
}
