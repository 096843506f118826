package consultations

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lexconnect/lexconnect-backend/pkg/audit"
	"github.com/lexconnect/lexconnect-backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

// openTestDB loads TEST_DATABASE_URL, opens a real Postgres connection,
// runs migrations, and registers a cleanup that truncates test tables after run.
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
	if err := db.AutoMigrate(
		&models.User{}, &models.LawyerProfile{}, &models.LawyerService{},
		&models.Consultation{}, &models.Payment{}, &models.Message{},
		&models.ActivityLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	activity_logs,
	messages,
	payments,
	consultations,
	lawyer_services,
	lawyer_profiles,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

// injectAuth puts the auth locals into Fiber context so MustUserID/MustRole
// work without a real JWT.
func injectAuth(userID uuid.UUID, role string) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		c.Locals("role", role)
		return c.Next()
	}
}

// newTestApp registers the consultation routes. Static segments go before
// the bare :id so they don't get shadowed.
func newTestApp(h *Handler, userID uuid.UUID, role string) *fiber.App {
	app := fiber.New()
	app.Use(injectAuth(userID, role))

	app.Post("/api/consultations", h.Create)
	app.Get("/api/consultations", h.List)
	app.Get("/api/consultations/:id/activity", h.Activity)
	app.Post("/api/consultations/:id/accept", h.Accept)
	app.Post("/api/consultations/:id/complete", h.Complete)
	app.Post("/api/consultations/:id/cancel", h.Cancel)
	app.Get("/api/consultations/:id", h.Get)
	app.Put("/api/consultations/:id", h.Update)

	return app
}

func createUser(t *testing.T, db *gorm.DB, role models.Role) *models.User {
	t.Helper()
	u := models.User{
		ID:    uuid.New(),
		Email: string(role) + "_" + uuid.NewString()[:8] + "@test.local",
		Role:  role,
		Name:  "User " + uuid.NewString()[:6],
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatal(err)
	}
	return &u
}

func createLawyer(t *testing.T, db *gorm.DB) (*models.User, *models.LawyerProfile) {
	t.Helper()
	u := createUser(t, db, models.RoleAbogado)
	p := models.LawyerProfile{
		ID:           uuid.New(),
		UserID:       u.ID,
		Jurisdiction: "MX",
		BarNumber:    "CDMX-1234",
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatal(err)
	}
	return u, &p
}

func seedConsultation(t *testing.T, db *gorm.DB, clientID, lawyerProfileID uuid.UUID, status models.ConsultationStatus) *models.Consultation {
	t.Helper()
	cs := models.Consultation{
		ID:       uuid.New(),
		ClientID: clientID,
		LawyerID: lawyerProfileID,
		Title:    "Asunto legal",
		Priority: models.PriorityMedia,
		Status:   status,
	}
	if err := db.Create(&cs).Error; err != nil {
		t.Fatal(err)
	}
	return &cs
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

/* ============================================================================
   Tests — lifecycle end to end
   ============================================================================ */

// Full §happy-path scenario: create → accept → en_proceso → complete, then a
// cancel attempt on the terminal row must no-op with a conflict.
func Test_EndToEnd_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	al := audit.NewLogger(db)
	h := NewHandler(db, al)

	client := createUser(t, db, models.RoleCliente)
	lawyerUser, profile := createLawyer(t, db)

	clientApp := newTestApp(h, client.ID, string(models.RoleCliente))
	lawyerApp := newTestApp(h, lawyerUser.ID, string(models.RoleAbogado))

	// Client creates with priority omitted.
	code, body := doJSON(t, clientApp, "POST", "/api/consultations",
		`{"lawyer_id":"`+profile.ID.String()+`","title":"Revisión de contrato","description":"Necesito revisar un contrato de arrendamiento"}`)
	if code != 201 {
		t.Fatalf("create got %d: %s", code, body)
	}
	var created models.Consultation
	_ = json.Unmarshal(body, &created)
	if created.Status != models.ConsultationPendiente {
		t.Fatalf("want pendiente, got %s", created.Status)
	}
	if created.Priority != models.PriorityMedia {
		t.Fatalf("priority should default to media, got %s", created.Priority)
	}
	id := created.ID.String()

	// Lawyer accepts with an estimate.
	code, body = doJSON(t, lawyerApp, "POST", "/api/consultations/"+id+"/accept",
		`{"estimated_price_cents":20000}`)
	if code != 200 {
		t.Fatalf("accept got %d: %s", code, body)
	}
	var accepted models.Consultation
	_ = json.Unmarshal(body, &accepted)
	if accepted.Status != models.ConsultationAceptada {
		t.Fatalf("want aceptada, got %s", accepted.Status)
	}
	if accepted.EstimatedPriceCents == nil || *accepted.EstimatedPriceCents != 20000 {
		t.Fatalf("estimate not recorded: %+v", accepted.EstimatedPriceCents)
	}

	var p models.LawyerProfile
	_ = db.First(&p, "id = ?", profile.ID).Error
	if p.TotalConsultations != 1 {
		t.Fatalf("counter should be 1, got %d", p.TotalConsultations)
	}

	// Lawyer moves to en_proceso through the generic update path.
	code, body = doJSON(t, lawyerApp, "PUT", "/api/consultations/"+id,
		`{"status":"en_proceso"}`)
	if code != 200 {
		t.Fatalf("update got %d: %s", code, body)
	}
	var working models.Consultation
	_ = json.Unmarshal(body, &working)
	if working.Status != models.ConsultationEnProceso {
		t.Fatalf("want en_proceso, got %s", working.Status)
	}
	if working.UpdatedAt.Before(working.CreatedAt) {
		t.Fatal("updated_at must never precede created_at")
	}

	// Client completes with the final price.
	code, body = doJSON(t, clientApp, "POST", "/api/consultations/"+id+"/complete",
		`{"final_price_cents":18000}`)
	if code != 200 {
		t.Fatalf("complete got %d: %s", code, body)
	}
	var done models.Consultation
	_ = json.Unmarshal(body, &done)
	if done.Status != models.ConsultationCompletada {
		t.Fatalf("want completada, got %s", done.Status)
	}
	if done.FinalPriceCents == nil || *done.FinalPriceCents != 18000 {
		t.Fatalf("final price not recorded: %+v", done.FinalPriceCents)
	}

	// Cancel on the terminal row is a conflict and changes nothing.
	code, _ = doJSON(t, clientApp, "POST", "/api/consultations/"+id+"/cancel", "")
	if code != 409 {
		t.Fatalf("cancel on completada should be 409, got %d", code)
	}
	var final models.Consultation
	_ = db.First(&final, "id = ?", created.ID).Error
	if final.Status != models.ConsultationCompletada {
		t.Fatalf("terminal status must survive, got %s", final.Status)
	}

	// Drain the audit queue, then the trail must hold the status changes.
	al.Close()
	var cnt int64
	_ = db.Model(&models.ActivityLog{}).
		Where("resource_type = ? AND resource_id = ?", "consultation", created.ID).
		Count(&cnt).Error
	if cnt < 4 { // created, accepted, updated, completed
		t.Fatalf("want >=4 audit entries, got %d", cnt)
	}
}

/* ============================================================================
   Tests — accept idempotency and the counter
   ============================================================================ */

// An accepted consultation can be closed without ever passing through
// en_proceso; short engagements end straight from aceptada.
func Test_Complete_DirectlyFromAceptada(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	client := createUser(t, db, models.RoleCliente)
	_, profile := createLawyer(t, db)
	cs := seedConsultation(t, db, client.ID, profile.ID, models.ConsultationAceptada)

	app := newTestApp(h, client.ID, string(models.RoleCliente))
	code, body := doJSON(t, app, "POST", "/api/consultations/"+cs.ID.String()+"/complete",
		`{"final_price_cents":12000}`)
	if code != 200 {
		t.Fatalf("complete from aceptada got %d: %s", code, body)
	}
	var done models.Consultation
	_ = json.Unmarshal(body, &done)
	if done.Status != models.ConsultationCompletada {
		t.Fatalf("want completada, got %s", done.Status)
	}
	if done.FinalPriceCents == nil || *done.FinalPriceCents != 12000 {
		t.Fatalf("final price not recorded: %+v", done.FinalPriceCents)
	}

	// The generic update path honors the same edge.
	cs2 := seedConsultation(t, db, client.ID, profile.ID, models.ConsultationAceptada)
	code, _ = doJSON(t, app, "PUT", "/api/consultations/"+cs2.ID.String(), `{"status":"completada"}`)
	if code != 200 {
		t.Fatalf("update to completada from aceptada got %d", code)
	}
	var after models.Consultation
	_ = db.First(&after, "id = ?", cs2.ID).Error
	if after.Status != models.ConsultationCompletada {
		t.Fatalf("want completada, got %s", after.Status)
	}
}

func Test_Accept_SecondCallNoEffect_CounterOnce(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	client := createUser(t, db, models.RoleCliente)
	lawyerUser, profile := createLawyer(t, db)
	cs := seedConsultation(t, db, client.ID, profile.ID, models.ConsultationPendiente)

	app := newTestApp(h, lawyerUser.ID, string(models.RoleAbogado))

	code, _ := doJSON(t, app, "POST", "/api/consultations/"+cs.ID.String()+"/accept", `{"estimated_price_cents":5000}`)
	if code != 200 {
		t.Fatalf("first accept got %d", code)
	}
	code, _ = doJSON(t, app, "POST", "/api/consultations/"+cs.ID.String()+"/accept", `{"estimated_price_cents":5000}`)
	if code != 409 {
		t.Fatalf("second accept should be 409, got %d", code)
	}

	var p models.LawyerProfile
	_ = db.First(&p, "id = ?", profile.ID).Error
	if p.TotalConsultations != 1 {
		t.Fatalf("counter must increment exactly once, got %d", p.TotalConsultations)
	}
}

func Test_Accept_WrongLawyer_Forbidden(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	client := createUser(t, db, models.RoleCliente)
	_, profile := createLawyer(t, db)
	otherLawyerUser, _ := createLawyer(t, db)
	cs := seedConsultation(t, db, client.ID, profile.ID, models.ConsultationPendiente)

	app := newTestApp(h, otherLawyerUser.ID, string(models.RoleAbogado))
	code, _ := doJSON(t, app, "POST", "/api/consultations/"+cs.ID.String()+"/accept", "")
	if code != 403 {
		t.Fatalf("want 403, got %d", code)
	}

	var after models.Consultation
	_ = db.First(&after, "id = ?", cs.ID).Error
	if after.Status != models.ConsultationPendiente {
		t.Fatalf("status must not move, got %s", after.Status)
	}
}

/* ============================================================================
   Tests — the generic update path is gated
   ============================================================================ */

func Test_Update_RejectsIllegalTransition(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	client := createUser(t, db, models.RoleCliente)
	_, profile := createLawyer(t, db)

	// pendiente → completada skips the graph.
	cs := seedConsultation(t, db, client.ID, profile.ID, models.ConsultationPendiente)
	app := newTestApp(h, client.ID, string(models.RoleCliente))
	code, _ := doJSON(t, app, "PUT", "/api/consultations/"+cs.ID.String(), `{"status":"completada"}`)
	if code != 409 {
		t.Fatalf("want 409, got %d", code)
	}

	// Terminal rows cannot be revived, not even by an admin.
	done := seedConsultation(t, db, client.ID, profile.ID, models.ConsultationCompletada)
	admin := createUser(t, db, models.RoleAdmin)
	adminApp := newTestApp(h, admin.ID, string(models.RoleAdmin))
	code, _ = doJSON(t, adminApp, "PUT", "/api/consultations/"+done.ID.String(), `{"status":"pendiente"}`)
	if code != 409 {
		t.Fatalf("terminal revive should be 409, got %d", code)
	}
}

func Test_Update_ClientCannotDriveLawyerTransitions(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	client := createUser(t, db, models.RoleCliente)
	_, profile := createLawyer(t, db)
	cs := seedConsultation(t, db, client.ID, profile.ID, models.ConsultationPendiente)

	app := newTestApp(h, client.ID, string(models.RoleCliente))
	code, _ := doJSON(t, app, "PUT", "/api/consultations/"+cs.ID.String(), `{"status":"aceptada"}`)
	if code != 403 {
		t.Fatalf("client accepting via update should be 403, got %d", code)
	}
}

func Test_Update_NoFields_BadRequest(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	client := createUser(t, db, models.RoleCliente)
	_, profile := createLawyer(t, db)
	cs := seedConsultation(t, db, client.ID, profile.ID, models.ConsultationPendiente)

	app := newTestApp(h, client.ID, string(models.RoleCliente))
	code, _ := doJSON(t, app, "PUT", "/api/consultations/"+cs.ID.String(), `{}`)
	if code != 400 {
		t.Fatalf("empty update should be 400, got %d", code)
	}
}

func Test_Update_SameStatus_IsNotATransition(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	client := createUser(t, db, models.RoleCliente)
	_, profile := createLawyer(t, db)
	cs := seedConsultation(t, db, client.ID, profile.ID, models.ConsultationAceptada)

	// Re-sending the current status alongside a real field is fine.
	app := newTestApp(h, client.ID, string(models.RoleCliente))
	code, body := doJSON(t, app, "PUT", "/api/consultations/"+cs.ID.String(),
		`{"status":"aceptada","client_notes":"gracias"}`)
	if code != 200 {
		t.Fatalf("same-status update got %d: %s", code, body)
	}
}

/* ============================================================================
   Tests — access control
   ============================================================================ */

func Test_Stranger_GetsNoAccess(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	client := createUser(t, db, models.RoleCliente)
	_, profile := createLawyer(t, db)
	cs := seedConsultation(t, db, client.ID, profile.ID, models.ConsultationPendiente)

	stranger := createUser(t, db, models.RoleCliente)
	app := newTestApp(h, stranger.ID, string(models.RoleCliente))

	code, _ := doJSON(t, app, "GET", "/api/consultations/"+cs.ID.String(), "")
	if code != 403 {
		t.Fatalf("stranger read should be 403, got %d", code)
	}
	code, _ = doJSON(t, app, "PUT", "/api/consultations/"+cs.ID.String(), `{"title":"hijack"}`)
	if code != 403 {
		t.Fatalf("stranger write should be 403, got %d", code)
	}
	code, _ = doJSON(t, app, "POST", "/api/consultations/"+cs.ID.String()+"/cancel", "")
	if code != 403 {
		t.Fatalf("stranger cancel should be 403, got %d", code)
	}
}

func Test_Admin_CancelOverride(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	client := createUser(t, db, models.RoleCliente)
	_, profile := createLawyer(t, db)
	cs := seedConsultation(t, db, client.ID, profile.ID, models.ConsultationEnProceso)

	admin := createUser(t, db, models.RoleAdmin)
	app := newTestApp(h, admin.ID, string(models.RoleAdmin))

	code, body := doJSON(t, app, "POST", "/api/consultations/"+cs.ID.String()+"/cancel", "")
	if code != 200 {
		t.Fatalf("admin cancel got %d: %s", code, body)
	}
	var after models.Consultation
	_ = db.First(&after, "id = ?", cs.ID).Error
	if after.Status != models.ConsultationCancelada {
		t.Fatalf("want cancelada, got %s", after.Status)
	}
}

func Test_Get_NotFound(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	u := createUser(t, db, models.RoleCliente)
	app := newTestApp(h, u.ID, string(models.RoleCliente))

	code, _ := doJSON(t, app, "GET", "/api/consultations/"+uuid.NewString(), "")
	if code != 404 {
		t.Fatalf("want 404, got %d", code)
	}
}

/* ============================================================================
   Tests — redaction and lists
   ============================================================================ */

func Test_Lawyer_SeesRedactedDescription_WhilePendiente(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	client := createUser(t, db, models.RoleCliente)
	lawyerUser, profile := createLawyer(t, db)

	cs := models.Consultation{
		ID:          uuid.New(),
		ClientID:    client.ID,
		LawyerID:    profile.ID,
		Title:       "Contrato",
		Description: "Contácteme en test@example.com o al 5512345678",
		Priority:    models.PriorityMedia,
		Status:      models.ConsultationPendiente,
	}
	if err := db.Create(&cs).Error; err != nil {
		t.Fatal(err)
	}

	lawyerApp := newTestApp(h, lawyerUser.ID, string(models.RoleAbogado))
	code, body := doJSON(t, lawyerApp, "GET", "/api/consultations/"+cs.ID.String(), "")
	if code != 200 {
		t.Fatalf("got %d: %s", code, body)
	}
	if strings.Contains(string(body), "test@example.com") || strings.Contains(string(body), "5512345678") {
		t.Fatalf("description should be redacted while pendiente: %s", body)
	}

	// The client always sees the original.
	clientApp := newTestApp(h, client.ID, string(models.RoleCliente))
	code, body = doJSON(t, clientApp, "GET", "/api/consultations/"+cs.ID.String(), "")
	if code != 200 {
		t.Fatalf("got %d", code)
	}
	if !strings.Contains(string(body), "test@example.com") {
		t.Fatalf("client should see the original description: %s", body)
	}
}

func Test_List_RoleScoped_WithStatusFilter(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	clientA := createUser(t, db, models.RoleCliente)
	clientB := createUser(t, db, models.RoleCliente)
	_, profile := createLawyer(t, db)

	seedConsultation(t, db, clientA.ID, profile.ID, models.ConsultationPendiente)
	seedConsultation(t, db, clientA.ID, profile.ID, models.ConsultationCancelada)
	seedConsultation(t, db, clientB.ID, profile.ID, models.ConsultationPendiente)

	app := newTestApp(h, clientA.ID, string(models.RoleCliente))
	code, body := doJSON(t, app, "GET", "/api/consultations?status=pendiente", "")
	if code != 200 {
		t.Fatalf("got %d", code)
	}
	var out struct {
		Total int64 `json:"total"`
	}
	_ = json.Unmarshal(body, &out)
	if out.Total != 1 {
		t.Fatalf("client A should see exactly 1 pendiente row, got %d", out.Total)
	}

	// Admin sees everything.
	admin := createUser(t, db, models.RoleAdmin)
	adminApp := newTestApp(h, admin.ID, string(models.RoleAdmin))
	code, body = doJSON(t, adminApp, "GET", "/api/consultations", "")
	if code != 200 {
		t.Fatalf("got %d", code)
	}
	_ = json.Unmarshal(body, &out)
	if out.Total != 3 {
		t.Fatalf("admin should see 3 rows, got %d", out.Total)
	}

	// Invalid status filter is rejected.
	code, _ = doJSON(t, adminApp, "GET", "/api/consultations?status=archivada", "")
	if code != 400 {
		t.Fatalf("invalid filter should be 400, got %d", code)
	}
}

func Test_Create_UnknownLawyer_NotFound(t *testing.T) {
	db := openTestDB(t)
	h := NewHandler(db, audit.NewLogger(db))

	client := createUser(t, db, models.RoleCliente)
	app := newTestApp(h, client.ID, string(models.RoleCliente))

	code, _ := doJSON(t, app, "POST", "/api/consultations",
		`{"lawyer_id":"`+uuid.NewString()+`","title":"T"}`)
	if code != 404 {
		t.Fatalf("want 404, got %d", code)
	}
}
