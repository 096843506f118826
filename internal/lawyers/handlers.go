package lawyers

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexconnect/lexconnect-backend/internal/auth"
	"github.com/lexconnect/lexconnect-backend/pkg/models"
	"github.com/lexconnect/lexconnect-backend/pkg/validation"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

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

/* ============================ Profile CRUD ============================== */

type ProfileRequest struct {
	Bio             string `json:"bio" validate:"max=4000"`
	Jurisdiction    string `json:"jurisdiction" validate:"omitempty,jurisdiction"`
	BarNumber       string `json:"bar_number" validate:"omitempty,barnum"`
	HourlyRateCents int    `json:"hourly_rate_cents" validate:"omitempty,gte=0"`
	Specialties     string `json:"specialties" validate:"max=400"` // comma-separated
}

// @Summary      Create my lawyer profile
// @Description  Abogado publishes their marketplace profile (one per user)
// @Tags         lawyers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Success      201  {object}  models.LawyerProfile
// @Failure      409  {object}  models.ErrorResponse  "profile already exists"
// @Router       /lawyers [post]
func (h *Handler) CreateProfile(c *fiber.Ctx) error {
	var in ProfileRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	userID, _ := uuid.Parse(auth.MustUserID(c))
	p := models.LawyerProfile{
		UserID:          userID,
		Bio:             strings.TrimSpace(in.Bio),
		Jurisdiction:    strings.ToUpper(strings.TrimSpace(in.Jurisdiction)),
		BarNumber:       strings.TrimSpace(in.BarNumber),
		HourlyRateCents: in.HourlyRateCents,
		Specialties:     strings.TrimSpace(in.Specialties),
	}
	if err := h.db.WithContext(c.Context()).Create(&p).Error; err != nil {
		return fiber.NewError(fiber.StatusConflict, "profile already exists")
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// profileItem is the public browse shape; the owning user's name rides along.
type profileItem struct {
	models.LawyerProfile
	Name string `json:"name"`
}

// @Summary      Browse lawyers
// @Description  Public listing with jurisdiction/specialty/verified filters
// @Tags         lawyers
// @Produce      json
// @Param        jurisdiction  query  string  false  "ISO-3166 alpha-2"
// @Param        specialty     query  string  false  "specialty slug"
// @Param        verified      query  bool    false  "verified only"
// @Router       /lawyers [get]
func (h *Handler) List(c *fiber.Ctx) error {
	page, size := parsePage(c)

	q := h.db.WithContext(c.Context()).
		Table("lawyer_profiles").
		Select("lawyer_profiles.*, users.name AS name").
		Joins("JOIN users ON users.id = lawyer_profiles.user_id")

	if v := strings.ToUpper(strings.TrimSpace(c.Query("jurisdiction"))); v != "" {
		q = q.Where("lawyer_profiles.jurisdiction = ?", v)
	}
	if v := strings.TrimSpace(c.Query("specialty")); v != "" {
		q = q.Where("lawyer_profiles.specialties LIKE ?", "%"+v+"%")
	}
	if c.Query("verified") == "true" {
		q = q.Where("lawyer_profiles.verified = TRUE")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]profileItem, 0, size)
	if err := q.Order("lawyer_profiles.total_consultations DESC, lawyer_profiles.created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

// @Summary      Lawyer profile detail
// @Tags         lawyers
// @Produce      json
// @Router       /lawyers/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid lawyer id")
	}

	var item profileItem
	err := h.db.WithContext(c.Context()).
		Table("lawyer_profiles").
		Select("lawyer_profiles.*, users.name AS name").
		Joins("JOIN users ON users.id = lawyer_profiles.user_id").
		Where("lawyer_profiles.id = ?", id).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.ErrNotFound
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(item)
}

// @Summary      Update my lawyer profile
// @Tags         lawyers
// @Security     BearerAuth
// @Router       /lawyers/{id} [put]
func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid lawyer id")
	}
	var in ProfileRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	userID := auth.MustUserID(c)
	res := h.db.WithContext(c.Context()).
		Model(&models.LawyerProfile{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"bio":               strings.TrimSpace(in.Bio),
			"jurisdiction":      strings.ToUpper(strings.TrimSpace(in.Jurisdiction)),
			"bar_number":        strings.TrimSpace(in.BarNumber),
			"hourly_rate_cents": in.HourlyRateCents,
			"specialties":       strings.TrimSpace(in.Specialties),
		})
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}

	var p models.LawyerProfile
	if err := h.db.WithContext(c.Context()).First(&p, "id = ?", id).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(p)
}

// @Summary      Delete lawyer profile
// @Description  Admin only. Profiles with consultations on record cannot be removed.
// @Tags         lawyers
// @Security     BearerAuth
// @Router       /lawyers/{id} [delete]
func (h *Handler) DeleteProfile(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid lawyer id")
	}

	var cnt int64
	if err := h.db.WithContext(c.Context()).Model(&models.Consultation{}).
		Where("lawyer_id = ?", id).Count(&cnt).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if cnt > 0 {
		return fiber.NewError(fiber.StatusConflict, "profile has consultations on record")
	}

	res := h.db.WithContext(c.Context()).Delete(&models.LawyerProfile{}, "id = ?", id)
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}
	return c.SendStatus(fiber.StatusNoContent)
}
