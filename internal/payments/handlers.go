package payments

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lexconnect/lexconnect-backend/internal/auth"
	"github.com/lexconnect/lexconnect-backend/internal/consultations"
	"github.com/lexconnect/lexconnect-backend/pkg/audit"
	"github.com/lexconnect/lexconnect-backend/pkg/models"
	"github.com/lexconnect/lexconnect-backend/pkg/validation"
)

var (
	ErrPayNotFound   = errors.New("payment not found")
	ErrPayConflict   = errors.New("payment is not in a state that allows this change")
	ErrAlreadySettld = errors.New("payment already completed")
)

// payTransitions is the payment status graph, enforced on every status
// change, the admin patch included.
var payTransitions = map[models.PayStatus][]models.PayStatus{
	models.PayPendiente:   {models.PayProcesando, models.PayFallido},
	models.PayProcesando:  {models.PayCompletado, models.PayFallido},
	models.PayCompletado:  {models.PayReembolsado},
	models.PayFallido:     {},
	models.PayReembolsado: {},
}

func canPayTransition(from, to models.PayStatus) bool {
	for _, next := range payTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Handler struct {
	db       *gorm.DB
	cstore   *consultations.Store
	provider Provider
	audit    *audit.Logger
}

func NewHandler(db *gorm.DB, provider Provider, al *audit.Logger) *Handler {
	return &Handler{db: db, cstore: consultations.NewStore(db), provider: provider, audit: al}
}

/* ========================= Register + intent ============================ */

type RegisterPaymentRequest struct {
	AmountCents int    `json:"amount_cents" validate:"required,gt=0"`
	Method      string `json:"method" validate:"required,oneof=card bank_transfer paypal oxxo"`
	Currency    string `json:"currency" validate:"currency"`
}

// @Summary      Register a payment for a consultation
// @Description  Client creates the ledger row with the fee split and an intent at the configured provider
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string                  true  "consultation id (uuid)"
// @Param        payload  body  RegisterPaymentRequest  true  "Payment payload"
// @Success      201  {object}  models.Payment
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "method disabled"
// @Router       /consultations/{id}/payments [post]
func (h *Handler) Register(c *fiber.Ctx) error {
	consultationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid consultation id")
	}
	var in RegisterPaymentRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	clientID, _ := uuid.Parse(auth.MustUserID(c))

	d, err := h.cstore.GetByID(c.Context(), consultationID)
	if err != nil {
		if errors.Is(err, consultations.ErrNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if d.ClientID != clientID {
		return fiber.ErrForbidden
	}

	platform, processing, earnings, err := Split(in.AmountCents, in.Method)
	if err != nil {
		if errors.Is(err, ErrDisabledMethod) {
			return fiber.NewError(fiber.StatusConflict, "payment method is disabled")
		}
		return fiber.NewError(fiber.StatusBadRequest, "unknown payment method")
	}

	currency := in.Currency
	if currency == "" {
		currency = "MXN"
	}

	pay := models.Payment{
		ConsultationID:      d.ID,
		ClientID:            d.ClientID,
		LawyerID:            d.LawyerID,
		AmountCents:         in.AmountCents,
		PlatformFeeCents:    platform,
		ProcessingFeeCents:  processing,
		LawyerEarningsCents: earnings,
		Currency:            currency,
		Method:              in.Method,
		Status:              models.PayPendiente,
		CreatedAt:           time.Now(),
		UpdatedAt:           time.Now(),
	}
	if err := h.db.WithContext(c.Context()).Create(&pay).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	intentID, err := h.provider.CreateIntent(&pay)
	if err != nil {
		// Ledger row stays pendiente; the client may retry the intent later.
		return fiber.NewError(fiber.StatusBadGateway, "payment provider unavailable")
	}

	if err := h.db.WithContext(c.Context()).Model(&pay).
		Where("status = ?", models.PayPendiente).
		Updates(map[string]any{
			"provider_intent_id": intentID,
			"status":             models.PayProcesando,
			"updated_at":         time.Now(),
		}).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	pay.ProviderIntentID = &intentID
	pay.Status = models.PayProcesando

	h.audit.Record(clientID, "payment_registered", "payment", pay.ID, nil,
		map[string]any{"status": pay.Status, "amount_cents": pay.AmountCents, "method": pay.Method})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment":  pay,
		"provider": h.provider.Name(),
	})
}

/* ============================ Read (latest) ============================= */

// @Summary      Current payment for a consultation
// @Description  Most recent payment row by created_at; parties and admins only
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Router       /consultations/{id}/payment [get]
func (h *Handler) GetForConsultation(c *fiber.Ctx) error {
	consultationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid consultation id")
	}

	userID, _ := uuid.Parse(auth.MustUserID(c))
	actor, err := h.cstore.ResolveActor(c.Context(), userID, models.Role(auth.MustRole(c)))
	if err != nil {
		return fiber.ErrInternalServerError
	}

	d, err := h.cstore.GetByID(c.Context(), consultationID)
	if err != nil {
		if errors.Is(err, consultations.ErrNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if !actor.IsParty(&d.Consultation) {
		return fiber.ErrForbidden
	}

	var pay models.Payment
	err = h.db.WithContext(c.Context()).
		Where("consultation_id = ?", consultationID).
		Order("created_at DESC").
		First(&pay).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.ErrNotFound
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(pay)
}

/* ============================== Completion ============================== */

// completeByIntent settles the payment matching the provider intent id.
// Idempotent: a second settlement of the same intent reports ErrAlreadySettld.
func (h *Handler) completeByIntent(c *fiber.Ctx, intentID string) (*models.Payment, error) {
	var out models.Payment
	err := h.db.WithContext(c.Context()).Transaction(func(tx *gorm.DB) error {
		var pay models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&pay, "provider_intent_id = ?", intentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPayNotFound
			}
			return err
		}
		if pay.Status == models.PayCompletado {
			out = pay
			return ErrAlreadySettld
		}
		if !canPayTransition(pay.Status, models.PayCompletado) {
			return ErrPayConflict
		}

		now := time.Now()
		if err := tx.Model(&pay).Updates(map[string]any{
			"status":     models.PayCompletado,
			"paid_at":    now,
			"updated_at": now,
		}).Error; err != nil {
			return err
		}
		pay.Status = models.PayCompletado
		pay.PaidAt = &now
		out = pay
		return nil
	})
	if err != nil {
		return &out, err
	}
	return &out, nil
}

type mockCompleteReq struct {
	IntentID string `json:"intent_id"`
}

// @Summary      Complete a mock payment (dev only)
// @Description  Protected by X-Dev-Secret; settles the intent as the gateway would
// @Tags         payments
// @Router       /payments/mock/complete [post]
func (h *Handler) MockComplete(c *fiber.Ctx) error {
	if os.Getenv("APP_ENV") != "dev" || os.Getenv("PAYMENT_PROVIDER") == "stripe" {
		return fiber.ErrNotFound
	}
	if c.Get("X-Dev-Secret") == "" || c.Get("X-Dev-Secret") != os.Getenv("DEV_PAYMENT_SECRET") {
		return fiber.NewError(fiber.StatusUnauthorized, "missing/invalid X-Dev-Secret")
	}
	var in mockCompleteReq
	if err := c.BodyParser(&in); err != nil || in.IntentID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "intent_id required")
	}

	pay, err := h.completeByIntent(c, in.IntentID)
	switch {
	case errors.Is(err, ErrAlreadySettld):
		return c.JSON(fiber.Map{"ok": true, "message": "already completed (idempotent)"})
	case errors.Is(err, ErrPayNotFound):
		return fiber.ErrNotFound
	case errors.Is(err, ErrPayConflict):
		return fiber.NewError(fiber.StatusConflict, "payment is not procesando")
	case err != nil:
		return fiber.ErrInternalServerError
	}

	h.audit.Record(pay.ClientID, "payment_completed", "payment", pay.ID,
		map[string]any{"status": models.PayProcesando}, map[string]any{"status": pay.Status})
	return c.JSON(fiber.Map{"ok": true})
}

// @Summary      Stripe webhook
// @Description  Signature-verified gateway callbacks; settles or fails the matching intent
// @Tags         payments
// @Router       /payments/stripe/webhook [post]
func (h *Handler) StripeWebhook(c *fiber.Ctx) error {
	event, err := webhook.ConstructEvent(c.Body(), c.Get("Stripe-Signature"), os.Getenv("STRIPE_WEBHOOK_SECRET"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid signature")
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed event payload")
		}
		pay, cerr := h.completeByIntent(c, pi.ID)
		switch {
		case errors.Is(cerr, ErrAlreadySettld):
			return c.JSON(fiber.Map{"received": true})
		case cerr != nil:
			// Stripe retries on non-2xx; unknown intents are not ours to retry.
			if errors.Is(cerr, ErrPayNotFound) {
				return c.JSON(fiber.Map{"received": true})
			}
			return fiber.ErrInternalServerError
		}
		h.audit.Record(pay.ClientID, "payment_completed", "payment", pay.ID,
			map[string]any{"status": models.PayProcesando}, map[string]any{"status": pay.Status})

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed event payload")
		}
		_ = h.db.WithContext(c.Context()).Model(&models.Payment{}).
			Where("provider_intent_id = ? AND status = ?", pi.ID, models.PayProcesando).
			Updates(map[string]any{"status": models.PayFallido, "updated_at": time.Now()}).Error
	}

	return c.JSON(fiber.Map{"received": true})
}

/* ============================ Admin override ============================ */

type patchStatusReq struct {
	Status string `json:"status" validate:"required,oneof=fallido reembolsado"`
}

// @Summary      Patch payment status (admin)
// @Description  Refunds a completed payment or fails a stuck one; gated by the payment status graph
// @Tags         payments
// @Security     BearerAuth
// @Router       /payments/{id}/status [patch]
func (h *Handler) PatchStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payment id")
	}
	var in patchStatusReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	target := models.PayStatus(in.Status)
	adminID, _ := uuid.Parse(auth.MustUserID(c))

	var out models.Payment
	var old models.PayStatus
	txErr := h.db.WithContext(c.Context()).Transaction(func(tx *gorm.DB) error {
		var pay models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&pay, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPayNotFound
			}
			return err
		}
		if !canPayTransition(pay.Status, target) {
			return ErrPayConflict
		}
		if err := tx.Model(&pay).Updates(map[string]any{
			"status":     target,
			"updated_at": time.Now(),
		}).Error; err != nil {
			return err
		}
		old = pay.Status
		pay.Status = target
		out = pay
		return nil
	})
	switch {
	case errors.Is(txErr, ErrPayNotFound):
		return fiber.ErrNotFound
	case errors.Is(txErr, ErrPayConflict):
		return fiber.NewError(fiber.StatusConflict, "status change not allowed")
	case txErr != nil:
		return fiber.ErrInternalServerError
	}

	// Audit only after the commit; a rolled-back change must leave no entry.
	h.audit.Record(adminID, "payment_status_patched", "payment", out.ID,
		map[string]any{"status": old}, map[string]any{"status": target})
	return c.JSON(out)
}
