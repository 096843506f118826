package auth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/lexconnect/lexconnect-backend/pkg/models"
	"github.com/lexconnect/lexconnect-backend/pkg/validation"
)

/* ================================ DTOs ================================= */

// Request body for /signup
type SignupRequest struct {
	Role     string `json:"role" validate:"required,oneof=cliente abogado"`
	Name     string `json:"name" validate:"required,min=2,max=80"`
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// Request body for /login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required"`
}

// Standard auth response
type AuthResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

// Profile response for /me
type UserProfileResponse struct {
	ID        uuid.UUID   `json:"id"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	Name      string      `json:"name"`
	CreatedAt time.Time   `json:"created_at"`
}

/* ============================== Handler ================================= */

type Handler struct{ db *gorm.DB }

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

/* =============================== Signup ================================= */

// @Summary      Sign up
// @Description  Register a new user (cliente or abogado; administrators are provisioned manually)
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  SignupRequest  true  "Signup payload"
// @Success      201      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      409      {object}  models.ErrorResponse  "email already exists"
// @Router       /signup [post]
func (h *Handler) Signup(c *fiber.Ctx) error {
	var in SignupRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	hash, _ := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)

	u := models.User{
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         models.Role(in.Role),
		Name:         in.Name,
	}
	if err := h.db.WithContext(c.Context()).Create(&u).Error; err != nil {
		return fiber.NewError(fiber.StatusConflict, "email already exists")
	}

	token, _ := IssueToken(u.ID.String(), string(u.Role))
	return c.Status(fiber.StatusCreated).JSON(AuthResponse{Token: token, Role: string(u.Role)})
}

/* ================================ Login ================================= */

// @Summary      Login
// @Description  Authenticate and receive a JWT
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  LoginRequest  true  "Login payload"
// @Success      200      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      401      {object}  models.ErrorResponse
// @Router       /login [post]
func (h *Handler) Login(c *fiber.Ctx) error {
	var in LoginRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var u models.User
	if err := h.db.WithContext(c.Context()).Where("email = ?", in.Email).First(&u).Error; err != nil {
		return fiber.ErrUnauthorized
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		return fiber.ErrUnauthorized
	}

	token, _ := IssueToken(u.ID.String(), string(u.Role))
	return c.JSON(AuthResponse{Token: token, Role: string(u.Role)})
}

/* ================================= Me =================================== */

// @Summary      Get current user profile
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  UserProfileResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /me [get]
func (h *Handler) Me(c *fiber.Ctx) error {
	userID := c.Locals("userID")
	if userID == nil {
		return fiber.ErrUnauthorized
	}

	var u models.User
	if err := h.db.WithContext(c.Context()).First(&u, "id = ?", userID).Error; err != nil {
		return fiber.ErrUnauthorized
	}

	resp := UserProfileResponse{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
	}
	return c.JSON(resp)
}
