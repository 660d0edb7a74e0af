package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"hotspot-portal/services"
)

type ImportHandler struct {
	app      *pocketbase.PocketBase
	importer *services.ImportService
}

func NewImportHandler(app *pocketbase.PocketBase, importer *services.ImportService) *ImportHandler {
	return &ImportHandler{
		app:      app,
		importer: importer,
	}
}

// ImportCSV - Load a router credential export into inventory
func (h *ImportHandler) ImportCSV(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Superuser access required", nil)
	}

	file, _, err := e.Request.FormFile("file")
	if err != nil {
		return apis.NewBadRequestError("Missing csv file upload", err)
	}
	defer file.Close()

	result, err := h.importer.ImportCSV(e.Request.Context(), file)
	if err != nil {
		return apis.NewBadRequestError("Import failed", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"imported": result.Imported,
		"failed":   result.Failed,
		"errors":   result.Errors,
	})
}
