package messages

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexconnect/lexconnect-backend/internal/auth"
	"github.com/lexconnect/lexconnect-backend/internal/consultations"
	"github.com/lexconnect/lexconnect-backend/pkg/models"
	"github.com/lexconnect/lexconnect-backend/pkg/validation"
)

type Handler struct {
	db     *gorm.DB
	cstore *consultations.Store
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db, cstore: consultations.NewStore(db)}
}

// party loads the consultation and checks the caller may touch its thread.
func (h *Handler) party(c *fiber.Ctx, consultationID uuid.UUID) (*consultations.Detail, error) {
	userID, _ := uuid.Parse(auth.MustUserID(c))
	actor, err := h.cstore.ResolveActor(c.Context(), userID, models.Role(auth.MustRole(c)))
	if err != nil {
		return nil, fiber.ErrInternalServerError
	}
	d, err := h.cstore.GetByID(c.Context(), consultationID)
	if err != nil {
		if errors.Is(err, consultations.ErrNotFound) {
			return nil, fiber.ErrNotFound
		}
		return nil, fiber.ErrInternalServerError
	}
	if !actor.IsParty(&d.Consultation) {
		return nil, fiber.ErrForbidden
	}
	return d, nil
}

type SendMessageRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

// @Summary      Send a message in a consultation thread
// @Tags         messages
// @Security     BearerAuth
// @Router       /consultations/{id}/messages [post]
func (h *Handler) Send(c *fiber.Ctx) error {
	consultationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid consultation id")
	}
	var in SendMessageRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	d, ferr := h.party(c, consultationID)
	if ferr != nil {
		return ferr
	}
	if d.Status == models.ConsultationCancelada {
		return fiber.NewError(fiber.StatusConflict, "consultation is cancelled")
	}

	senderID, _ := uuid.Parse(auth.MustUserID(c))
	msg := models.Message{
		ConsultationID: consultationID,
		SenderID:       senderID,
		Body:           strings.TrimSpace(in.Body),
	}
	if err := h.db.WithContext(c.Context()).Create(&msg).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// @Summary      List a consultation's messages
// @Tags         messages
// @Security     BearerAuth
// @Router       /consultations/{id}/messages [get]
func (h *Handler) List(c *fiber.Ctx) error {
	consultationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid consultation id")
	}
	if _, ferr := h.party(c, consultationID); ferr != nil {
		return ferr
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	size, _ := strconv.Atoi(c.Query("pageSize", "50"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 50
	}

	q := h.db.WithContext(c.Context()).Model(&models.Message{}).
		Where("consultation_id = ?", consultationID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]models.Message, 0, size)
	if err := q.Order("created_at ASC").
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}
