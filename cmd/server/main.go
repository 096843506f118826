// @title           LexConnect API
// @version         1.0
// @description     Marketplace API connecting clients with lawyers: profiles and services, consultations with a guarded lifecycle, messaging, and a payment ledger.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/lexconnect/lexconnect-backend/internal/auth"
	"github.com/lexconnect/lexconnect-backend/internal/consultations"
	"github.com/lexconnect/lexconnect-backend/internal/lawyers"
	"github.com/lexconnect/lexconnect-backend/internal/messages"
	"github.com/lexconnect/lexconnect-backend/internal/payments"
	"github.com/lexconnect/lexconnect-backend/pkg/audit"
	"github.com/lexconnect/lexconnect-backend/pkg/database"
	"github.com/lexconnect/lexconnect-backend/pkg/models"
)

func main() {
	_ = godotenv.Load()

	db := database.Init()
	if err := db.AutoMigrate(
		&models.User{}, &models.LawyerProfile{}, &models.LawyerService{},
		&models.Consultation{}, &models.Payment{}, &models.Message{},
		&models.ActivityLog{},
	); err != nil {
		log.Fatal("migration failed:", err)
	}

	auditLog := audit.NewLogger(db)

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api := app.Group("/api")

	// Auth
	authH := auth.NewHandler(db)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Get("/me", auth.RequireAuth(), authH.Me)

	// Lawyer profiles & services
	lawyerH := lawyers.NewHandler(db)
	api.Get("/lawyers", lawyerH.List)
	api.Get("/lawyers/:id/services", lawyerH.ListServices)
	api.Get("/lawyers/:id", lawyerH.Get)
	api.Post("/lawyers", auth.RequireAuth(), auth.RequireRole("abogado"), lawyerH.CreateProfile)
	api.Put("/lawyers/:id", auth.RequireAuth(), auth.RequireRole("abogado"), lawyerH.UpdateProfile)
	api.Delete("/lawyers/:id", auth.RequireAuth(), auth.RequireRole("administrador"), lawyerH.DeleteProfile)
	api.Post("/services", auth.RequireAuth(), auth.RequireRole("abogado"), lawyerH.CreateService)
	api.Put("/services/:id", auth.RequireAuth(), auth.RequireRole("abogado"), lawyerH.UpdateService)
	api.Delete("/services/:id", auth.RequireAuth(), auth.RequireRole("abogado"), lawyerH.DeleteService)

	// Consultations
	consultH := consultations.NewHandler(db, auditLog)
	api.Post("/consultations", auth.RequireAuth(), auth.RequireRole("cliente"), consultH.Create)
	api.Get("/consultations", auth.RequireAuth(), consultH.List)
	api.Get("/consultations/:id/activity", auth.RequireAuth(), consultH.Activity)
	api.Post("/consultations/:id/accept", auth.RequireAuth(), auth.RequireRole("abogado"), consultH.Accept)
	api.Post("/consultations/:id/complete", auth.RequireAuth(), consultH.Complete)
	api.Post("/consultations/:id/cancel", auth.RequireAuth(), consultH.Cancel)
	api.Get("/consultations/:id", auth.RequireAuth(), consultH.Get)
	api.Put("/consultations/:id", auth.RequireAuth(), consultH.Update)

	// Messages
	msgH := messages.NewHandler(db)
	api.Get("/consultations/:id/messages", auth.RequireAuth(), msgH.List)
	api.Post("/consultations/:id/messages", auth.RequireAuth(), msgH.Send)

	// Payments
	payH := payments.NewHandler(db, payments.FromEnv(), auditLog)
	api.Post("/consultations/:id/payments", auth.RequireAuth(), auth.RequireRole("cliente"), payH.Register)
	api.Get("/consultations/:id/payment", auth.RequireAuth(), payH.GetForConsultation)
	api.Patch("/payments/:id/status", auth.RequireAuth(), auth.RequireRole("administrador"), payH.PatchStatus)

	// Gateway callbacks (server-only, no auth)
	api.Post("/payments/stripe/webhook", payH.StripeWebhook)

	// Only in dev mode with the mock payment provider
	if os.Getenv("APP_ENV") == "dev" && os.Getenv("PAYMENT_PROVIDER") != "stripe" {
		api.Post("/payments/mock/complete", payH.MockComplete) // Protected by X-Dev-Secret
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	go func() {
		log.Println("Server running on :" + port)
		if err := app.Listen(":" + port); err != nil {
			log.Fatal(err)
		}
	}()

	// Drain on SIGINT/SIGTERM: stop accepting, flush the audit queue, close
	// the pool.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	_ = app.Shutdown()
	auditLog.Close()
	if err := database.Close(); err != nil {
		log.Println("pool close:", err)
	}
}
