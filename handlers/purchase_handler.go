package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"hotspot-portal/models"
	"hotspot-portal/services"
	"hotspot-portal/status"
	"hotspot-portal/utils"
)

type PurchaseHandler struct {
	app       *pocketbase.PocketBase
	purchases *services.PurchaseService
}

func NewPurchaseHandler(app *pocketbase.PocketBase, purchases *services.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{
		app:       app,
		purchases: purchases,
	}
}

// CreatePurchase - Buy one ticket of a type
func (h *PurchaseHandler) CreatePurchase(e *core.RequestEvent) error {
	var req services.CreatePurchaseRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if req.TypeID == "" {
		return apis.NewBadRequestError("type_id is required", nil)
	}

	switch req.PaymentMethod {
	case models.PayMobileMoney, models.PayCash, models.PayCard:
	default:
		return apis.NewBadRequestError("Unknown payment method", nil)
	}

	// Captive portal buyers are guests; authenticated users keep their
	// record id as the buyer reference.
	if e.Auth != nil {
		req.BuyerRef = e.Auth.Id
	} else if req.BuyerRef == "" {
		code, err := utils.GenerateCode(8)
		if err != nil {
			return apis.NewApiError(http.StatusInternalServerError, "Failed to create purchase", err)
		}
		req.BuyerRef = "guest_" + strings.ToLower(code)
	}

	purchase, qr, err := h.purchases.CreatePurchase(e.Request.Context(), req)
	if errors.Is(err, status.ErrOutOfStock) {
		return e.JSON(http.StatusConflict, map[string]any{
			"purchase_id": purchase.ID,
			"status":      purchase.Outcome,
			"reason":      purchase.FailReason,
		})
	}
	if errors.Is(err, status.ErrTypeNotFound) {
		return apis.NewNotFoundError("Ticket type not found", nil)
	}
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to create purchase", err)
	}

	resp := map[string]any{
		"purchase_id": purchase.ID,
		"buyer_ref":   purchase.BuyerRef,
		"ticket_id":   purchase.TicketID,
		"amount":      purchase.Amount.String(),
		"status":      purchase.Outcome,
	}
	if qr != "" {
		resp["qr_code"] = qr
	}
	return e.JSON(http.StatusCreated, resp)
}

// GetPurchaseStatus - Poll the purchase state machine
func (h *PurchaseHandler) GetPurchaseStatus(e *core.RequestEvent) error {
	purchaseID := e.Request.PathValue("purchaseId")

	purchase, err := h.purchases.GetStatus(e.Request.Context(), purchaseID)
	if errors.Is(err, status.ErrPurchaseNotFound) {
		return apis.NewNotFoundError("Purchase not found", nil)
	}
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to load purchase", err)
	}

	resp := map[string]any{
		"purchase_id": purchase.ID,
		"status":      purchase.Outcome,
		"amount":      purchase.Amount.String(),
	}
	if purchase.FailReason != "" {
		resp["reason"] = purchase.FailReason
	}

	// Credentials are only handed out once the sale is confirmed.
	if purchase.Outcome == models.PurchaseConfirmed && purchase.TicketID != "" {
		ticket, err := h.purchases.Store.GetTicket(e.Request.Context(), purchase.TicketID)
		if err == nil {
			resp["username"] = ticket.Username
			resp["password"] = ticket.Password
		}
	}
	return e.JSON(http.StatusOK, resp)
}

// CancelPurchase - Abort a pending purchase
func (h *PurchaseHandler) CancelPurchase(e *core.RequestEvent) error {
	purchaseID := e.Request.PathValue("purchaseId")

	var req struct {
		BuyerRef string `json:"buyer_ref"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if e.Auth != nil {
		req.BuyerRef = e.Auth.Id
	}

	err := h.purchases.Cancel(e.Request.Context(), purchaseID, req.BuyerRef)
	if errors.Is(err, status.ErrPurchaseNotFound) {
		return apis.NewNotFoundError("Purchase not found", nil)
	}
	if errors.Is(err, status.ErrPurchaseFinalized) {
		return apis.NewBadRequestError("Purchase already finalized", nil)
	}
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to cancel purchase", err)
	}

	return e.JSON(http.StatusOK, map[string]any{"status": "cancelled"})
}

// ConfirmCash - Selling agent settles a cash purchase
func (h *PurchaseHandler) ConfirmCash(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	purchaseID := e.Request.PathValue("purchaseId")

	err := h.purchases.ConfirmCash(e.Request.Context(), purchaseID, e.Auth.Id)
	if errors.Is(err, status.ErrPurchaseNotFound) {
		return apis.NewNotFoundError("Purchase not found", nil)
	}
	if errors.Is(err, status.ErrInvalidState) {
		return apis.NewBadRequestError("Not a cash purchase", nil)
	}
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to confirm purchase", err)
	}

	return e.JSON(http.StatusOK, map[string]any{"status": "confirmed"})
}
