package lawyers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexconnect/lexconnect-backend/internal/auth"
	"github.com/lexconnect/lexconnect-backend/pkg/models"
	"github.com/lexconnect/lexconnect-backend/pkg/validation"
)

type ServiceRequest struct {
	Title       string `json:"title" validate:"required,max=120"`
	ServiceType string `json:"service_type" validate:"required,max=40"`
	Description string `json:"description" validate:"max=2000"`
	PriceCents  int    `json:"price_cents" validate:"required,gt=0"`
	Active      *bool  `json:"active"`
}

// ownProfile loads the caller's lawyer profile or fails with 403. Services
// hang off the profile, so an abogado without one has nothing to manage.
func (h *Handler) ownProfile(c *fiber.Ctx) (*models.LawyerProfile, error) {
	userID := auth.MustUserID(c)
	var p models.LawyerProfile
	err := h.db.WithContext(c.Context()).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusForbidden, "create a lawyer profile first")
	}
	if err != nil {
		return nil, fiber.ErrInternalServerError
	}
	return &p, nil
}

// @Summary      Publish a service
// @Tags         services
// @Security     BearerAuth
// @Router       /services [post]
func (h *Handler) CreateService(c *fiber.Ctx) error {
	var in ServiceRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	p, ferr := h.ownProfile(c)
	if ferr != nil {
		return ferr
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}
	svc := models.LawyerService{
		LawyerID:    p.ID,
		Title:       strings.TrimSpace(in.Title),
		ServiceType: strings.TrimSpace(in.ServiceType),
		Description: strings.TrimSpace(in.Description),
		PriceCents:  in.PriceCents,
		Active:      active,
	}
	if err := h.db.WithContext(c.Context()).Create(&svc).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(svc)
}

// @Summary      List a lawyer's services
// @Description  Public; only active services are returned
// @Tags         services
// @Router       /lawyers/{id}/services [get]
func (h *Handler) ListServices(c *fiber.Ctx) error {
	lawyerID := c.Params("id")
	if _, err := uuid.Parse(lawyerID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid lawyer id")
	}

	var rows []models.LawyerService
	if err := h.db.WithContext(c.Context()).
		Where("lawyer_id = ? AND active = TRUE", lawyerID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if rows == nil {
		rows = []models.LawyerService{}
	}
	return c.JSON(fiber.Map{"items": rows})
}

// @Summary      Update a service
// @Tags         services
// @Security     BearerAuth
// @Router       /services/{id} [put]
func (h *Handler) UpdateService(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid service id")
	}
	var in ServiceRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	p, ferr := h.ownProfile(c)
	if ferr != nil {
		return ferr
	}

	fields := map[string]any{
		"title":        strings.TrimSpace(in.Title),
		"service_type": strings.TrimSpace(in.ServiceType),
		"description":  strings.TrimSpace(in.Description),
		"price_cents":  in.PriceCents,
	}
	if in.Active != nil {
		fields["active"] = *in.Active
	}

	res := h.db.WithContext(c.Context()).
		Model(&models.LawyerService{}).
		Where("id = ? AND lawyer_id = ?", id, p.ID).
		Updates(fields)
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}

	var svc models.LawyerService
	if err := h.db.WithContext(c.Context()).First(&svc, "id = ?", id).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(svc)
}

// @Summary      Delete a service
// @Tags         services
// @Security     BearerAuth
// @Router       /services/{id} [delete]
func (h *Handler) DeleteService(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid service id")
	}

	p, ferr := h.ownProfile(c)
	if ferr != nil {
		return ferr
	}

	res := h.db.WithContext(c.Context()).
		Where("id = ? AND lawyer_id = ?", id, p.ID).
		Delete(&models.LawyerService{})
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}
	return c.SendStatus(fiber.StatusNoContent)
}
