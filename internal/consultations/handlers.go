package consultations

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexconnect/lexconnect-backend/internal/auth"
	"github.com/lexconnect/lexconnect-backend/pkg/audit"
	"github.com/lexconnect/lexconnect-backend/pkg/models"
	"github.com/lexconnect/lexconnect-backend/pkg/sanitize"
	"github.com/lexconnect/lexconnect-backend/pkg/validation"
)

type Handler struct {
	db    *gorm.DB
	store *Store
	audit *audit.Logger
}

func NewHandler(db *gorm.DB, al *audit.Logger) *Handler {
	return &Handler{db: db, store: NewStore(db), audit: al}
}

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

// mapErr translates store errors into transport errors.
func mapErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.ErrNotFound
	case errors.Is(err, ErrForbidden):
		return fiber.ErrForbidden
	case errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, "status transition not allowed")
	case errors.Is(err, ErrNoFields):
		return fiber.NewError(fiber.StatusBadRequest, "no fields to update")
	default:
		return fiber.ErrInternalServerError
	}
}

func (h *Handler) actor(c *fiber.Ctx) (ActorInfo, error) {
	userID, err := uuid.Parse(auth.MustUserID(c))
	if err != nil {
		return ActorInfo{}, fiber.ErrUnauthorized
	}
	a, err := h.store.ResolveActor(c.Context(), userID, models.Role(auth.MustRole(c)))
	if err != nil {
		return ActorInfo{}, fiber.ErrInternalServerError
	}
	return a, nil
}

/* ================================ Create ================================ */

type CreateConsultationRequest struct {
	LawyerID    string  `json:"lawyer_id" validate:"required,uuid4"`
	ServiceID   string  `json:"service_id" validate:"omitempty,uuid4"`
	Title       string  `json:"title" validate:"required,max=120"`
	Description string  `json:"description" validate:"max=4000"`
	ClientNotes string  `json:"client_notes" validate:"max=2000"`
	Priority    string  `json:"priority" validate:"priority"`
	Deadline    *string `json:"deadline"` // YYYY-MM-DD
}

// @Summary      Create consultation
// @Description  Client opens a consultation against a lawyer profile
// @Tags         consultations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateConsultationRequest  true  "Consultation payload"
// @Success      201  {object}  models.Consultation
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      404  {object}  models.ErrorResponse  "lawyer profile not found"
// @Router       /consultations [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var in CreateConsultationRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	clientID, _ := uuid.Parse(auth.MustUserID(c))
	lawyerID, _ := uuid.Parse(in.LawyerID)

	input := CreateInput{
		LawyerID:    lawyerID,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		ClientNotes: strings.TrimSpace(in.ClientNotes),
		Priority:    models.Priority(in.Priority),
	}
	if in.ServiceID != "" {
		sid, _ := uuid.Parse(in.ServiceID)
		input.ServiceID = &sid
	}
	if in.Deadline != nil && *in.Deadline != "" {
		t, err := time.Parse("2006-01-02", *in.Deadline)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid deadline (use YYYY-MM-DD)")
		}
		input.Deadline = &t
	}

	cs, err := h.store.Create(c.Context(), clientID, input)
	if err != nil {
		return mapErr(err)
	}

	h.audit.Record(clientID, "consultation_created", "consultation", cs.ID, nil,
		map[string]any{"status": cs.Status, "priority": cs.Priority})
	return c.Status(fiber.StatusCreated).JSON(cs)
}

/* ================================= Read ================================= */

// @Summary      Consultation detail
// @Description  Parties and admins only. Lawyers see a redacted description while the consultation is pendiente.
// @Tags         consultations
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "consultation id (uuid)"
// @Success      200  {object}  Detail
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /consultations/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid consultation id")
	}
	actor, ferr := h.actor(c)
	if ferr != nil {
		return ferr
	}

	d, err := h.store.GetByID(c.Context(), id)
	if err != nil {
		return mapErr(err)
	}
	if !actor.IsParty(&d.Consultation) {
		return fiber.ErrForbidden
	}

	// Contact details stay hidden from the lawyer until they accept.
	if actor.relation(&d.Consultation) == ActorLawyer && d.Status == models.ConsultationPendiente {
		d.Description = sanitize.RedactPII(d.Description)
		d.ClientNotes = sanitize.RedactPII(d.ClientNotes)
	}
	return c.JSON(d)
}

/* ================================= List ================================= */

type listItem struct {
	models.Consultation
	Preview string `json:"preview"`
}

func (h *Handler) List(c *fiber.Ctx) error {
	actor, ferr := h.actor(c)
	if ferr != nil {
		return ferr
	}
	page, size := parsePage(c)

	f := Filters{
		Status:   models.ConsultationStatus(c.Query("status")),
		Priority: models.Priority(c.Query("priority")),
		Page:     page,
		PageSize: size,
	}
	if f.Status != "" && !ValidStatus(f.Status) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
	}
	if v := c.Query("date_from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.DateFrom = &t
		}
	}
	if v := c.Query("date_to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.DateTo = &t
		}
	}

	var (
		rows  []models.Consultation
		total int64
		err   error
	)
	switch actor.Role {
	case models.RoleAdmin:
		if v := c.Query("lawyer_id"); v != "" {
			if id, perr := uuid.Parse(v); perr == nil {
				f.LawyerID = &id
			}
		}
		if v := c.Query("client_id"); v != "" {
			if id, perr := uuid.Parse(v); perr == nil {
				f.ClientID = &id
			}
		}
		rows, total, err = h.store.ListForAdmin(c.Context(), f)
	case models.RoleAbogado:
		if actor.LawyerProfileID == nil {
			rows, total = []models.Consultation{}, 0
		} else {
			rows, total, err = h.store.ListForLawyer(c.Context(), *actor.LawyerProfileID, f)
		}
	default:
		rows, total, err = h.store.ListForClient(c.Context(), actor.UserID, f)
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}

	items := make([]listItem, 0, len(rows))
	for _, cs := range rows {
		preview := sanitize.Summary(cs.Description, 240)
		if actor.Role == models.RoleAbogado && cs.Status == models.ConsultationPendiente {
			preview = sanitize.Summary(sanitize.RedactPII(cs.Description), 240)
		}
		items = append(items, listItem{Consultation: cs, Preview: preview})
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}

/* ================================ Update ================================ */

type UpdateConsultationRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=120"`
	Description *string `json:"description" validate:"omitempty,max=4000"`
	ClientNotes *string `json:"client_notes" validate:"omitempty,max=2000"`
	LawyerNotes *string `json:"lawyer_notes" validate:"omitempty,max=2000"`
	Priority    *string `json:"priority" validate:"omitempty,priority"`
	Status      *string `json:"status"`
	Deadline    *string `json:"deadline"` // YYYY-MM-DD
}

// @Summary      Update consultation (partial)
// @Description  Parties update their own rows; admins any. Status changes are gated by the lifecycle policy.
// @Tags         consultations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string                      true  "consultation id (uuid)"
// @Param        payload  body  UpdateConsultationRequest  true  "Fields to update"
// @Success      200  {object}  models.Consultation
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "status transition not allowed"
// @Router       /consultations/{id} [put]
func (h *Handler) Update(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid consultation id")
	}
	var in UpdateConsultationRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	actor, ferr := h.actor(c)
	if ferr != nil {
		return ferr
	}

	// Load current state first so the audit entry can diff it.
	before, err := h.store.GetByID(c.Context(), id)
	if err != nil {
		return mapErr(err)
	}

	input := UpdateInput{
		Title:       in.Title,
		Description: in.Description,
		ClientNotes: in.ClientNotes,
		LawyerNotes: in.LawyerNotes,
	}
	if in.Priority != nil {
		p := models.Priority(*in.Priority)
		input.Priority = &p
	}
	if in.Status != nil {
		st := models.ConsultationStatus(*in.Status)
		input.Status = &st
	}
	if in.Deadline != nil && *in.Deadline != "" {
		t, perr := time.Parse("2006-01-02", *in.Deadline)
		if perr != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid deadline (use YYYY-MM-DD)")
		}
		input.Deadline = &t
	}

	cs, err := h.store.Update(c.Context(), id, actor, input)
	if err != nil {
		return mapErr(err)
	}

	// Diff status and lawyer_notes only; the audit trail is about lifecycle,
	// not prose edits.
	h.audit.Record(actor.UserID, "consultation_updated", "consultation", cs.ID,
		map[string]any{"status": before.Status, "lawyer_notes": before.LawyerNotes},
		map[string]any{"status": cs.Status, "lawyer_notes": cs.LawyerNotes})
	return c.JSON(cs)
}

/* ============================== Transitions ============================= */

type acceptRequest struct {
	EstimatedPriceCents *int `json:"estimated_price_cents" validate:"omitempty,gt=0"`
}

// @Summary      Accept consultation
// @Description  Owning lawyer accepts a pendiente consultation and may set an estimate
// @Tags         consultations
// @Security     BearerAuth
// @Router       /consultations/{id}/accept [post]
func (h *Handler) Accept(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid consultation id")
	}
	var in acceptRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid json")
		}
		if errs, _ := validation.Validate(in); errs != nil {
			return validation.Respond(c, errs)
		}
	}

	actor, ferr := h.actor(c)
	if ferr != nil {
		return ferr
	}

	cs, err := h.store.Accept(c.Context(), id, actor, in.EstimatedPriceCents)
	if err != nil {
		return mapErr(err)
	}

	h.audit.Record(actor.UserID, "consultation_accepted", "consultation", cs.ID,
		map[string]any{"status": models.ConsultationPendiente},
		map[string]any{"status": cs.Status, "estimated_price_cents": cs.EstimatedPriceCents})
	return c.JSON(cs)
}

type completeRequest struct {
	FinalPriceCents *int `json:"final_price_cents" validate:"omitempty,gt=0"`
}

// @Summary      Complete consultation
// @Description  Either party closes an aceptada/en_proceso consultation with an optional final price
// @Tags         consultations
// @Security     BearerAuth
// @Router       /consultations/{id}/complete [post]
func (h *Handler) Complete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid consultation id")
	}
	var in completeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid json")
		}
		if errs, _ := validation.Validate(in); errs != nil {
			return validation.Respond(c, errs)
		}
	}

	actor, ferr := h.actor(c)
	if ferr != nil {
		return ferr
	}

	cs, err := h.store.Complete(c.Context(), id, actor, in.FinalPriceCents)
	if err != nil {
		return mapErr(err)
	}

	h.audit.Record(actor.UserID, "consultation_completed", "consultation", cs.ID,
		nil, map[string]any{"status": cs.Status, "final_price_cents": cs.FinalPriceCents})
	return c.JSON(cs)
}

// @Summary      Cancel consultation
// @Description  Parties cancel their own non-terminal consultations; admins any
// @Tags         consultations
// @Security     BearerAuth
// @Router       /consultations/{id}/cancel [post]
func (h *Handler) Cancel(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid consultation id")
	}
	actor, ferr := h.actor(c)
	if ferr != nil {
		return ferr
	}

	cs, err := h.store.Cancel(c.Context(), id, actor)
	if err != nil {
		return mapErr(err)
	}

	h.audit.Record(actor.UserID, "consultation_cancelled", "consultation", cs.ID,
		nil, map[string]any{"status": cs.Status})
	return c.JSON(cs)
}

/* ================================ Activity ============================== */

// @Summary      Consultation activity trail
// @Tags         consultations
// @Security     BearerAuth
// @Router       /consultations/{id}/activity [get]
func (h *Handler) Activity(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid consultation id")
	}
	actor, ferr := h.actor(c)
	if ferr != nil {
		return ferr
	}

	d, err := h.store.GetByID(c.Context(), id)
	if err != nil {
		return mapErr(err)
	}
	if !actor.IsParty(&d.Consultation) {
		return fiber.ErrForbidden
	}

	var entries []models.ActivityLog
	if err := h.db.WithContext(c.Context()).
		Where("resource_type = ? AND resource_id = ?", "consultation", id).
		Order("created_at DESC").Limit(100).
		Find(&entries).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if entries == nil {
		entries = []models.ActivityLog{}
	}
	return c.JSON(fiber.Map{"items": entries})
}
