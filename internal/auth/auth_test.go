package auth

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lexconnect/lexconnect-backend/pkg/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Exec(`TRUNCATE TABLE users RESTART IDENTITY CASCADE`).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})
	return db
}

func newTestApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Post("/api/signup", h.Signup)
	app.Post("/api/login", h.Login)
	app.Get("/api/me", RequireAuth(), h.Me)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body, bearer string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func Test_Signup_Login_Me(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	db := openTestDB(t)
	app := newTestApp(NewHandler(db))

	code, body := doJSON(t, app, "POST", "/api/signup",
		`{"role":"cliente","name":"Ana","email":"Ana@Example.com","password":"secreta1"}`, "")
	if code != 201 {
		t.Fatalf("signup got %d: %s", code, body)
	}
	var signed AuthResponse
	_ = json.Unmarshal(body, &signed)
	if signed.Token == "" || signed.Role != "cliente" {
		t.Fatalf("bad auth response: %+v", signed)
	}

	// Email is stored lowercased; login with the canonical form.
	code, body = doJSON(t, app, "POST", "/api/login",
		`{"email":"ana@example.com","password":"secreta1"}`, "")
	if code != 200 {
		t.Fatalf("login got %d: %s", code, body)
	}
	var logged AuthResponse
	_ = json.Unmarshal(body, &logged)

	code, body = doJSON(t, app, "GET", "/api/me", "", logged.Token)
	if code != 200 {
		t.Fatalf("me got %d: %s", code, body)
	}
	var me UserProfileResponse
	_ = json.Unmarshal(body, &me)
	if me.Email != "ana@example.com" || me.Role != models.RoleCliente {
		t.Fatalf("unexpected profile: %+v", me)
	}
}

func Test_Signup_Rejections(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	db := openTestDB(t)
	app := newTestApp(NewHandler(db))

	// Nobody signs up as administrador.
	code, _ := doJSON(t, app, "POST", "/api/signup",
		`{"role":"administrador","name":"Eve","email":"eve@example.com","password":"secreta1"}`, "")
	if code != 400 {
		t.Fatalf("admin signup should be 400, got %d", code)
	}

	code, _ = doJSON(t, app, "POST", "/api/signup",
		`{"role":"abogado","name":"Bo","email":"bo@example.com","password":"secreta1"}`, "")
	if code != 201 {
		t.Fatalf("signup got %d", code)
	}

	// Duplicate email conflicts.
	code, _ = doJSON(t, app, "POST", "/api/signup",
		`{"role":"abogado","name":"Bo","email":"bo@example.com","password":"secreta1"}`, "")
	if code != 409 {
		t.Fatalf("duplicate email should be 409, got %d", code)
	}
}

func Test_Login_WrongPassword(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	db := openTestDB(t)
	app := newTestApp(NewHandler(db))

	code, _ := doJSON(t, app, "POST", "/api/signup",
		`{"role":"cliente","name":"Ana","email":"ana@example.com","password":"secreta1"}`, "")
	if code != 201 {
		t.Fatalf("signup got %d", code)
	}

	code, _ = doJSON(t, app, "POST", "/api/login",
		`{"email":"ana@example.com","password":"incorrecta"}`, "")
	if code != 401 {
		t.Fatalf("wrong password should be 401, got %d", code)
	}
	code, _ = doJSON(t, app, "POST", "/api/login",
		`{"email":"nadie@example.com","password":"secreta1"}`, "")
	if code != 401 {
		t.Fatalf("unknown email should be 401, got %d", code)
	}
}

func Test_RequireAuth_MissingOrGarbageToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	db := openTestDB(t)
	app := newTestApp(NewHandler(db))

	code, _ := doJSON(t, app, "GET", "/api/me", "", "")
	if code != 401 {
		t.Fatalf("missing token should be 401, got %d", code)
	}
	code, _ = doJSON(t, app, "GET", "/api/me", "", "not.a.jwt")
	if code != 401 {
		t.Fatalf("garbage token should be 401, got %d", code)
	}
}
