package models

import (
	"time"

	"github.com/google/uuid"
)

/* =============================== Enums ================================== */

// Role defines the type of user in the system.
type Role string

const (
	RoleCliente Role = "cliente"
	RoleAbogado Role = "abogado"
	RoleAdmin   Role = "administrador"
)

// ConsultationStatus defines lifecycle states for a consultation.
type ConsultationStatus string

const (
	ConsultationPendiente  ConsultationStatus = "pendiente"
	ConsultationAceptada   ConsultationStatus = "aceptada"
	ConsultationEnProceso  ConsultationStatus = "en_proceso"
	ConsultationCompletada ConsultationStatus = "completada"
	ConsultationCancelada  ConsultationStatus = "cancelada"
)

// Priority defines urgency levels for a consultation.
type Priority string

const (
	PriorityBaja    Priority = "baja"
	PriorityMedia   Priority = "media"
	PriorityAlta    Priority = "alta"
	PriorityUrgente Priority = "urgente"
)

// PayStatus defines lifecycle states for a payment, independent of the
// consultation status (payments may settle out of band).
type PayStatus string

const (
	PayPendiente   PayStatus = "pendiente"
	PayProcesando  PayStatus = "procesando"
	PayCompletado  PayStatus = "completado"
	PayFallido     PayStatus = "fallido"
	PayReembolsado PayStatus = "reembolsado"
)

/* =============================== Entities =============================== */

// User represents a client, a lawyer, or an administrator.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         Role      `gorm:"type:varchar(20);not null"`
	Name         string
	CreatedAt    time.Time
}

// LawyerProfile is the professional identity a lawyer exposes on the
// marketplace. Consultations reference this profile id, never the user id.
type LawyerProfile struct {
	ID                 uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID             uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	Bio                string    `gorm:"type:text"`
	Jurisdiction       string    `gorm:"type:varchar(2)"`
	BarNumber          string
	HourlyRateCents    int
	Specialties        string `gorm:"type:text"` // comma-separated slugs
	TotalConsultations int    `gorm:"not null;default:0"`
	Verified           bool   `gorm:"not null;default:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LawyerService is a fixed-price offering published by a lawyer.
type LawyerService struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	LawyerID    uuid.UUID `gorm:"type:uuid;not null;index"` // lawyer_profiles.id
	Title       string    `gorm:"not null"`
	ServiceType string    `gorm:"type:varchar(40);not null"`
	Description string    `gorm:"type:text"`
	PriceCents  int       `gorm:"not null"`
	Active      bool      `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Consultation is the core engagement between a client and a lawyer.
// Status only moves along edges the lifecycle policy allows; amounts are
// stored in cents to avoid float issues.
type Consultation struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClientID  uuid.UUID  `gorm:"type:uuid;not null;index"`
	LawyerID  uuid.UUID  `gorm:"type:uuid;not null;index"` // lawyer_profiles.id
	ServiceID *uuid.UUID `gorm:"type:uuid"`

	Title       string `gorm:"not null"`
	Description string `gorm:"type:text"`
	ClientNotes string `gorm:"type:text"`
	LawyerNotes string `gorm:"type:text"`

	Priority Priority           `gorm:"type:varchar(10);default:'media'"`
	Status   ConsultationStatus `gorm:"type:varchar(20);default:'pendiente'"`

	EstimatedPriceCents *int // set on acceptance
	FinalPriceCents     *int // set on completion

	Deadline  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payment records the monetary split for a consultation payment.
// platform + processing + earnings always sums back to amount.
type Payment struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ConsultationID uuid.UUID `gorm:"type:uuid;not null;index"`
	ClientID       uuid.UUID `gorm:"type:uuid;not null"` // denormalized from consultation
	LawyerID       uuid.UUID `gorm:"type:uuid;not null"` // lawyer_profiles.id, denormalized

	AmountCents         int    `gorm:"not null"`
	PlatformFeeCents    int    `gorm:"not null"`
	ProcessingFeeCents  int    `gorm:"not null"`
	LawyerEarningsCents int    `gorm:"not null"`
	Currency            string `gorm:"type:varchar(3);default:'MXN'"`
	Method              string `gorm:"type:varchar(20);not null"`

	ProviderIntentID *string   `gorm:"uniqueIndex:ux_pay_intent_filled"`
	Status           PayStatus `gorm:"type:varchar(20);default:'pendiente'"`
	PaidAt           *time.Time
	CreatedAt        time.Time `gorm:"not null;default:now()"`
	UpdatedAt        time.Time `gorm:"not null;default:now()"`
}

// Message is a note exchanged inside a consultation thread.
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ConsultationID uuid.UUID `gorm:"type:uuid;not null;index"`
	SenderID       uuid.UUID `gorm:"type:uuid;not null"`
	Body           string    `gorm:"type:text;not null"`
	CreatedAt      time.Time
}

// ActivityLog is an audit entry for important mutations. Written best-effort:
// a failed write never fails the originating operation.
type ActivityLog struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;index"`
	Action       string    `gorm:"type:varchar(80);not null"`
	ResourceType string    `gorm:"type:varchar(40);not null"`
	ResourceID   uuid.UUID `gorm:"type:uuid;not null;index"`
	OldValues    string    `gorm:"type:text"` // JSON snapshot
	NewValues    string    `gorm:"type:text"` // JSON snapshot
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}
