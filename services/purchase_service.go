package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"hotspot-portal/config"
	"hotspot-portal/internal/payment"
	"hotspot-portal/internal/provision"
	"hotspot-portal/models"
	"hotspot-portal/monitoring"
	"hotspot-portal/store"
	"hotspot-portal/status"
	"hotspot-portal/utils"
)

// CreatePurchaseRequest is a buyer's request for one ticket of a type.
type CreatePurchaseRequest struct {
	TypeID        string `json:"type_id"`
	BuyerRef      string `json:"buyer_ref"`
	BuyerContact  string `json:"buyer_contact"`
	PaymentMethod string `json:"payment_method"`
}

// PurchaseService owns the purchase state machine:
//
//	pending -> confirmed | failed | expired
//
// A purchase binds a reservation on create, waits for the payment
// result (gateway channel or webhook, both idempotent), and only moves
// the ticket to sold through the allocator's compare-and-set. The
// orchestrator never holds a store lock while payment is in flight.
type PurchaseService struct {
	Store       store.Store
	Inventory   *InventoryService
	Redis       *redis.Client
	PubNub      *pubnub.PubNub
	Gateway     payment.Gateway
	Provisioner provision.Provisioner
	Remediation *RemediationLog

	monitor *monitoring.Monitor
	cfg     *config.Config
	txCh    chan *status.Transaction
}

func NewPurchaseService(
	st store.Store,
	inventory *InventoryService,
	redisClient *redis.Client,
	pn *pubnub.PubNub,
	gateway payment.Gateway,
	provisioner provision.Provisioner,
	remediation *RemediationLog,
	monitor *monitoring.Monitor,
	cfg *config.Config,
) *PurchaseService {
	s := &PurchaseService{
		Store:       st,
		Inventory:   inventory,
		Redis:       redisClient,
		PubNub:      pn,
		Gateway:     gateway,
		Provisioner: provisioner,
		Remediation: remediation,
		monitor:     monitor,
		cfg:         cfg,
		txCh:        make(chan *status.Transaction, 16),
	}

	if gateway != nil {
		gateway.SetTransactionChannel(s.txCh)
	}

	return s
}

// Run consumes gateway settlement results until ctx is cancelled.
func (s *PurchaseService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tran := <-s.txCh:
			if tran == nil {
				continue
			}
			if err := s.HandlePaymentResult(ctx, tran.PurchaseID, tran.Success, tran.RefID); err != nil {
				slog.Error("handle settlement", "purchase_id", tran.PurchaseID, "error", err)
			}
		}
	}
}

// CreatePurchase reserves a ticket and registers the payment. On
// ErrOutOfStock the purchase row is still recorded, failed with reason
// "no inventory".
func (s *PurchaseService) CreatePurchase(ctx context.Context, req CreatePurchaseRequest) (*models.Purchase, string, error) {
	ticketType, err := s.Store.GetType(ctx, req.TypeID)
	if err != nil {
		return nil, "", err
	}
	if !ticketType.IsActive {
		return nil, "", status.ErrTypeNotFound
	}

	code, err := utils.GenerateCode(6)
	if err != nil {
		return nil, "", err
	}

	purchase := &models.Purchase{
		ID:            "pur_" + strings.ToLower(code),
		TypeID:        ticketType.ID,
		BuyerRef:      req.BuyerRef,
		BuyerContact:  req.BuyerContact,
		PaymentMethod: req.PaymentMethod,
		Amount:        ticketType.Price,
		Outcome:       models.PurchasePending,
		CreatedAt:     time.Now(),
	}

	ticket, err := s.Inventory.Reserve(ctx, ticketType.ID, req.BuyerRef, s.cfg.ReservationTTL)
	if errors.Is(err, status.ErrOutOfStock) {
		now := time.Now()
		purchase.Outcome = models.PurchaseFailed
		purchase.FailReason = "no inventory"
		purchase.CompletedAt = &now
		if storeErr := s.Store.CreatePurchase(ctx, purchase); storeErr != nil {
			return nil, "", storeErr
		}
		return purchase, "", status.ErrOutOfStock
	}
	if err != nil {
		return nil, "", err
	}

	purchase.TicketID = ticket.ID
	if err := s.Store.CreatePurchase(ctx, purchase); err != nil {
		// Do not strand the reservation behind a purchase row that was
		// never written.
		s.Inventory.Release(ctx, ticket.ID, req.BuyerRef)
		return nil, "", err
	}

	s.cacheSession(ctx, purchase)

	var qr string
	if req.PaymentMethod == models.PayMobileMoney && s.Gateway != nil {
		refLabel, _ := utils.GenerateCode(4)
		qr, err = s.Gateway.RequestConfirmation(ctx, &payment.ConfirmationRequest{
			PurchaseID:     purchase.ID,
			Amount:         purchase.Amount,
			Ccy:            s.cfg.CampusPay.Ccy,
			BuyerContact:   req.BuyerContact,
			ReferenceLabel: refLabel,
		})
		if err != nil {
			// Payment could not even start; unwind the reservation.
			s.Inventory.Release(ctx, ticket.ID, req.BuyerRef)
			s.finalize(ctx, purchase.ID, models.PurchaseFailed, "", "payment request failed")
			return nil, "", fmt.Errorf("request payment confirmation: %w", err)
		}
	}

	slog.Info("purchase created",
		"purchase_id", purchase.ID, "type_id", ticketType.ID,
		"ticket_id", ticket.ID, "method", req.PaymentMethod)
	return purchase, qr, nil
}

// HandlePaymentResult applies a payment outcome to a purchase. It is
// idempotent: a duplicate result for an already finalized purchase is a
// no-op, matching the gateway's at-least-once delivery.
func (s *PurchaseService) HandlePaymentResult(ctx context.Context, purchaseID string, success bool, paymentRef string) error {
	purchase, err := s.Store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return err
	}
	if purchase.Finalized() {
		return nil
	}

	if !success {
		// Payment failed: the ticket goes back on sale.
		if _, err := s.Inventory.Release(ctx, purchase.TicketID, purchase.BuyerRef); err != nil &&
			!errors.Is(err, status.ErrInvalidState) {
			return err
		}
		s.finalize(ctx, purchaseID, models.PurchaseFailed, paymentRef, "payment failed")
		s.notifyBuyer(purchase.BuyerRef, map[string]any{
			"type":        "payment_failed",
			"purchase_id": purchaseID,
		})
		return nil
	}

	ticket, err := s.Inventory.Confirm(ctx, purchase.TicketID, purchase.BuyerRef, paymentRef)
	if errors.Is(err, status.ErrInvalidState) {
		// The reservation is gone. Either this very settlement already
		// moved the ticket through a concurrent delivery, or it expired
		// before the money arrived. Only the latter is a loss.
		current, getErr := s.Store.GetTicket(ctx, purchase.TicketID)
		if getErr == nil && current.State == models.TicketSold && current.SoldTo == paymentRef {
			// Duplicate of a settlement that won the ticket transition;
			// fall through and race the racing handler for the purchase
			// finalize, so exactly one delivery notifies and provisions.
			ticket = current
			err = nil
		} else {
			if latest, getErr := s.Store.GetPurchase(ctx, purchaseID); getErr == nil && latest.Finalized() {
				return nil
			}
			// Never resurrect the claim; refund is an operator action.
			s.finalize(ctx, purchaseID, models.PurchaseFailed, paymentRef, "reservation expired before payment")
			s.Remediation.Raise(ctx, models.RemediationItem{
				Kind:       "payment_after_expiry",
				TicketID:   purchase.TicketID,
				PurchaseID: purchaseID,
				Detail:     fmt.Sprintf("payment %s settled after reservation expiry; refund required", paymentRef),
			})
			return nil
		}
	}
	if err != nil {
		return err
	}

	if err := s.finalize(ctx, purchaseID, models.PurchaseConfirmed, paymentRef, ""); err != nil {
		// A concurrent duplicate callback finalized first; nothing left
		// to do.
		if errors.Is(err, status.ErrStaleState) {
			return nil
		}
		return err
	}

	s.notifyBuyer(purchase.BuyerRef, map[string]any{
		"type":        "payment_success",
		"purchase_id": purchaseID,
		"username":    ticket.Username,
		"password":    ticket.Password,
	})

	// Provisioning must never unwind a paid sale; it runs detached and
	// reports failures to operators.
	go s.provisionSold(context.WithoutCancel(ctx), ticket, purchase)

	return nil
}

// Cancel aborts a pending purchase at the buyer's request, before the
// payment result arrived.
func (s *PurchaseService) Cancel(ctx context.Context, purchaseID, buyerRef string) error {
	purchase, err := s.Store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return err
	}
	if purchase.BuyerRef != buyerRef {
		return status.ErrPurchaseNotFound
	}
	if purchase.Finalized() {
		return status.ErrPurchaseFinalized
	}

	if _, err := s.Inventory.Release(ctx, purchase.TicketID, purchase.BuyerRef); err != nil &&
		!errors.Is(err, status.ErrInvalidState) {
		return err
	}

	return s.finalize(ctx, purchaseID, models.PurchaseFailed, "", "cancelled by buyer")
}

// ConfirmCash settles a cash purchase on behalf of a selling agent. It
// funnels through the same idempotent result handler as the gateway.
func (s *PurchaseService) ConfirmCash(ctx context.Context, purchaseID, agentRef string) error {
	purchase, err := s.Store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return err
	}
	if purchase.PaymentMethod != models.PayCash {
		return status.ErrInvalidState
	}
	return s.HandlePaymentResult(ctx, purchaseID, true, "cash:"+agentRef)
}

// GetStatus returns the purchase, applying the lazy expired transition:
// a pending purchase whose reservation no longer stands is finalized as
// expired on read.
func (s *PurchaseService) GetStatus(ctx context.Context, purchaseID string) (*models.Purchase, error) {
	purchase, err := s.Store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.Finalized() || purchase.TicketID == "" {
		return purchase, nil
	}

	ticket, err := s.Store.GetTicket(ctx, purchase.TicketID)
	if err != nil {
		return purchase, nil
	}

	now := time.Now()
	if ticket.ReservedFor(purchase.BuyerRef, now) {
		return purchase, nil
	}

	// Reservation gone or past its TTL. Release if it is still ours
	// (sweeper may not have run yet), then expire the purchase.
	if ticket.State == models.TicketReserved && ticket.ReservedBy == purchase.BuyerRef {
		if _, err := s.Inventory.Release(ctx, ticket.ID, purchase.BuyerRef); err != nil &&
			!errors.Is(err, status.ErrInvalidState) {
			return purchase, nil
		}
	}
	if ticket.State == models.TicketSold && ticket.SoldTo != "" && purchase.Outcome == models.PurchasePending {
		// Confirm happened but the purchase row update raced; leave it
		// for the settlement handler.
		return purchase, nil
	}

	if err := s.MarkExpired(ctx, purchaseID); err != nil && !errors.Is(err, status.ErrStaleState) {
		return purchase, nil
	}
	return s.Store.GetPurchase(ctx, purchaseID)
}

// MarkExpired finalizes a pending purchase as expired. Used by the
// status poll and the sweeper once the reservation is released.
func (s *PurchaseService) MarkExpired(ctx context.Context, purchaseID string) error {
	return s.finalize(ctx, purchaseID, models.PurchaseExpired, "", "reservation expired")
}

func (s *PurchaseService) finalize(ctx context.Context, purchaseID, outcome, paymentRef, failReason string) error {
	err := s.Store.CompareAndSetOutcome(ctx, purchaseID, models.PurchasePending, func(p *models.Purchase) {
		now := time.Now()
		p.Outcome = outcome
		p.FailReason = failReason
		p.CompletedAt = &now
		if paymentRef != "" {
			p.PaymentRef = paymentRef
		}
	})
	if err != nil {
		return err
	}

	if s.monitor != nil {
		purchase, getErr := s.Store.GetPurchase(ctx, purchaseID)
		method := ""
		if getErr == nil {
			method = purchase.PaymentMethod
		}
		s.monitor.TrackPurchaseOutcome(outcome, method)
	}

	s.updateSession(ctx, purchaseID, outcome)
	return nil
}

// provisionSold pushes a sold credential to the router. Failure raises
// a remediation item; the sale stays confirmed regardless.
func (s *PurchaseService) provisionSold(ctx context.Context, ticket *models.Ticket, purchase *models.Purchase) {
	ticketType, err := s.Store.GetType(ctx, ticket.TypeID)
	profile := ""
	if err == nil {
		profile = ticketType.Profile
	}

	err = s.Provisioner.ProvisionCredential(ctx, provision.Credential{
		Username: ticket.Username,
		Password: ticket.Password,
		Profile:  profile,
		Comment:  "purchase:" + purchase.ID,
	})
	if err == nil {
		slog.Info("credential provisioned", "username", ticket.Username, "purchase_id", purchase.ID)
		return
	}

	if s.monitor != nil {
		s.monitor.TrackProvisioningFailure()
	}
	s.Remediation.Raise(ctx, models.RemediationItem{
		Kind:       "provisioning_failure",
		TicketID:   ticket.ID,
		Username:   ticket.Username,
		PurchaseID: purchase.ID,
		Detail:     fmt.Sprintf("provisioning failed after retries: %v", err),
	})
}

// cacheSession keeps a short-lived Redis hash per purchase so status
// polls do not hit the database.
func (s *PurchaseService) cacheSession(ctx context.Context, purchase *models.Purchase) {
	if s.Redis == nil {
		return
	}

	sessionKey := "purchase:" + purchase.ID
	s.Redis.HSet(ctx, sessionKey, map[string]any{
		"purchase_id": purchase.ID,
		"ticket_id":   purchase.TicketID,
		"amount":      purchase.Amount.String(),
		"outcome":     purchase.Outcome,
		"created_at":  purchase.CreatedAt.Unix(),
	})
	s.Redis.Expire(ctx, sessionKey, s.cfg.ReservationTTL+5*time.Minute)
}

func (s *PurchaseService) updateSession(ctx context.Context, purchaseID, outcome string) {
	if s.Redis == nil {
		return
	}
	s.Redis.HSet(ctx, "purchase:"+purchaseID, "outcome", outcome)
}

func (s *PurchaseService) notifyBuyer(buyerRef string, message map[string]any) {
	if s.PubNub == nil {
		return
	}
	s.PubNub.Publish().
		Channel("buyer-" + buyerRef).
		Message(message).
		Execute()
}
