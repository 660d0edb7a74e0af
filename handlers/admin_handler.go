package handlers

import (
	"net/http"
	"strconv"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"hotspot-portal/services"
)

type AdminHandler struct {
	app         *pocketbase.PocketBase
	inventory   *services.InventoryService
	remediation *services.RemediationLog
}

func NewAdminHandler(app *pocketbase.PocketBase, inventory *services.InventoryService, remediation *services.RemediationLog) *AdminHandler {
	return &AdminHandler{
		app:         app,
		inventory:   inventory,
		remediation: remediation,
	}
}

// InventoryStats - Per-type state counts and realized revenue
func (h *AdminHandler) InventoryStats(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Superuser access required", nil)
	}

	stats, err := h.inventory.Stats(e.Request.Context())
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to compute stats", err)
	}

	items := make([]map[string]any, 0, len(stats))
	for _, row := range stats {
		items = append(items, map[string]any{
			"type_id":   row.TypeID,
			"type_name": row.Name,
			"total":     row.Total,
			"available": row.Available,
			"reserved":  row.Reserved,
			"sold":      row.Sold,
			"void":      row.Void,
			"revenue":   row.Revenue.String(),
		})
	}
	return e.JSON(http.StatusOK, map[string]any{"stats": items})
}

// ListRemediation - Recent remediation items, newest first
func (h *AdminHandler) ListRemediation(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Superuser access required", nil)
	}

	limit := int64(50)
	if raw := e.Request.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	items, err := h.remediation.List(e.Request.Context(), limit)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to load remediation items", err)
	}

	return e.JSON(http.StatusOK, map[string]any{"items": items})
}
