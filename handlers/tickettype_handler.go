package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"hotspot-portal/services"
)

type TicketTypeHandler struct {
	app       *pocketbase.PocketBase
	inventory *services.InventoryService
}

func NewTicketTypeHandler(app *pocketbase.PocketBase, inventory *services.InventoryService) *TicketTypeHandler {
	return &TicketTypeHandler{
		app:       app,
		inventory: inventory,
	}
}

// ListTypes - Active ticket types with live availability, for the
// portal landing page.
func (h *TicketTypeHandler) ListTypes(e *core.RequestEvent) error {
	types, err := h.inventory.ListActiveTypes(e.Request.Context())
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to load ticket types", err)
	}

	items := make([]map[string]any, 0, len(types))
	for _, t := range types {
		items = append(items, map[string]any{
			"id":              t.ID,
			"name":            t.Name,
			"profile":         t.Profile,
			"time_limit":      t.TimeLimit,
			"data_limit":      t.DataLimit,
			"price":           t.Price.String(),
			"available_count": t.AvailableCount,
		})
	}
	return e.JSON(http.StatusOK, map[string]any{"types": items})
}
