package consultations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lexconnect/lexconnect-backend/pkg/models"
)

// Business errors. The HTTP layer maps these to status codes; nothing below
// this package ever reports "no effect" as a bare nil row.
var (
	ErrNotFound          = errors.New("consultation not found")
	ErrForbidden         = errors.New("actor may not touch this consultation")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrNoFields          = errors.New("no updatable fields supplied")
)

// ActorInfo carries the caller's identity, resolved once per request.
// LawyerProfileID is set only for abogado callers that own a profile.
type ActorInfo struct {
	UserID          uuid.UUID
	Role            models.Role
	LawyerProfileID *uuid.UUID
}

// relation resolves the actor's standing toward a specific row.
func (a ActorInfo) relation(cs *models.Consultation) Actor {
	if a.Role == models.RoleAdmin {
		return ActorAdmin
	}
	if cs.ClientID == a.UserID {
		return ActorClient
	}
	if a.LawyerProfileID != nil && cs.LawyerID == *a.LawyerProfileID {
		return ActorLawyer
	}
	return ActorNone
}

// IsParty reports whether the actor may read the row at all.
func (a ActorInfo) IsParty(cs *models.Consultation) bool {
	return a.relation(cs) != ActorNone
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// ResolveActor builds an ActorInfo, fetching the lawyer profile id when the
// caller is an abogado. Abogados without a profile simply resolve to no
// lawyer standing.
func (s *Store) ResolveActor(ctx context.Context, userID uuid.UUID, role models.Role) (ActorInfo, error) {
	a := ActorInfo{UserID: userID, Role: role}
	if role != models.RoleAbogado {
		return a, nil
	}
	var p models.LawyerProfile
	err := s.db.WithContext(ctx).Select("id").Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return a, nil
	}
	if err != nil {
		return a, err
	}
	a.LawyerProfileID = &p.ID
	return a, nil
}

/* ================================ Create ================================ */

type CreateInput struct {
	LawyerID    uuid.UUID
	ServiceID   *uuid.UUID
	Title       string
	Description string
	ClientNotes string
	Priority    models.Priority
	Deadline    *time.Time
}

// Create inserts a new consultation for the client. Status is always forced
// to pendiente and priority defaults to media.
func (s *Store) Create(ctx context.Context, clientID uuid.UUID, in CreateInput) (*models.Consultation, error) {
	var cnt int64
	if err := s.db.WithContext(ctx).Model(&models.LawyerProfile{}).
		Where("id = ?", in.LawyerID).Count(&cnt).Error; err != nil {
		return nil, err
	}
	if cnt == 0 {
		return nil, ErrNotFound
	}

	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedia
	}

	cs := models.Consultation{
		ClientID:    clientID,
		LawyerID:    in.LawyerID,
		ServiceID:   in.ServiceID,
		Title:       in.Title,
		Description: in.Description,
		ClientNotes: in.ClientNotes,
		Priority:    priority,
		Status:      models.ConsultationPendiente,
		Deadline:    in.Deadline,
	}
	if err := s.db.WithContext(ctx).Create(&cs).Error; err != nil {
		return nil, err
	}
	return &cs, nil
}

/* ================================ Update ================================ */

// UpdateInput holds the partial-update fields; nil pointers are left alone.
type UpdateInput struct {
	Title       *string
	Description *string
	ClientNotes *string
	LawyerNotes *string
	Priority    *models.Priority
	Status      *models.ConsultationStatus
	Deadline    *time.Time
}

// Update applies a partial update under a row lock. Ownership is enforced
// for non-admin actors, and every status change — this generic path
// included — passes through the lifecycle policy.
func (s *Store) Update(ctx context.Context, id uuid.UUID, actor ActorInfo, in UpdateInput) (*models.Consultation, error) {
	var out models.Consultation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cs models.Consultation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cs, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		rel := actor.relation(&cs)
		if rel == ActorNone {
			return ErrForbidden
		}

		fields := map[string]any{}
		if in.Title != nil {
			fields["title"] = *in.Title
		}
		if in.Description != nil {
			fields["description"] = *in.Description
		}
		if in.ClientNotes != nil {
			fields["client_notes"] = *in.ClientNotes
		}
		if in.LawyerNotes != nil {
			fields["lawyer_notes"] = *in.LawyerNotes
		}
		if in.Priority != nil {
			fields["priority"] = *in.Priority
		}
		if in.Deadline != nil {
			fields["deadline"] = *in.Deadline
		}
		if in.Status != nil && *in.Status != cs.Status {
			if !ValidStatus(*in.Status) || !CanTransition(cs.Status, *in.Status) {
				return ErrInvalidTransition
			}
			if !AllowedFor(rel, cs.Status, *in.Status) {
				return ErrForbidden
			}
			fields["status"] = *in.Status
		}
		if len(fields) == 0 {
			return ErrNoFields
		}
		fields["updated_at"] = time.Now()

		if err := tx.Model(&cs).Updates(fields).Error; err != nil {
			return err
		}
		// Re-read so the caller sees the persisted row, updated_at included.
		return tx.First(&out, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

/* ================================= Read ================================= */

// Detail is the joined read shape: the row plus display fields for both
// parties and the optional service.
type Detail struct {
	models.Consultation
	ClientName   string `json:"client_name"`
	ClientEmail  string `json:"client_email"`
	LawyerName   string `json:"lawyer_name"`
	LawyerEmail  string `json:"lawyer_email"`
	ServiceTitle string `json:"service_title,omitempty"`
	ServiceType  string `json:"service_type,omitempty"`
}

// GetByID fetches a single consultation with joined display fields. No
// access filtering happens here; callers apply their own check.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Detail, error) {
	var d Detail
	err := s.db.WithContext(ctx).
		Table("consultations").
		Select(`consultations.*,
	        clients.name AS client_name, clients.email AS client_email,
	        lawyers.name AS lawyer_name, lawyers.email AS lawyer_email,
	        lawyer_services.title AS service_title, lawyer_services.service_type AS service_type`).
		Joins("JOIN users clients ON clients.id = consultations.client_id").
		Joins("JOIN lawyer_profiles ON lawyer_profiles.id = consultations.lawyer_id").
		Joins("JOIN users lawyers ON lawyers.id = lawyer_profiles.user_id").
		Joins("LEFT JOIN lawyer_services ON lawyer_services.id = consultations.service_id").
		Where("consultations.id = ?", id).
		Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

/* ================================= List ================================= */

// Filters narrows the role-scoped list queries. LawyerID and ClientID are
// honored only by the admin variant.
type Filters struct {
	Status   models.ConsultationStatus
	Priority models.Priority
	DateFrom *time.Time
	DateTo   *time.Time
	LawyerID *uuid.UUID
	ClientID *uuid.UUID
	Page     int
	PageSize int
}

func (f Filters) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.DateFrom != nil {
		q = q.Where("created_at >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("created_at <= ?", *f.DateTo)
	}
	return q
}

func (s *Store) list(ctx context.Context, base *gorm.DB, f Filters) ([]models.Consultation, int64, error) {
	q := f.apply(base.WithContext(ctx).Model(&models.Consultation{}))

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	rows := make([]models.Consultation, 0, f.PageSize)
	if err := q.Order("created_at DESC").
		Offset((f.Page - 1) * f.PageSize).Limit(f.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (s *Store) ListForClient(ctx context.Context, clientID uuid.UUID, f Filters) ([]models.Consultation, int64, error) {
	return s.list(ctx, s.db.Where("client_id = ?", clientID), f)
}

func (s *Store) ListForLawyer(ctx context.Context, lawyerProfileID uuid.UUID, f Filters) ([]models.Consultation, int64, error) {
	return s.list(ctx, s.db.Where("lawyer_id = ?", lawyerProfileID), f)
}

func (s *Store) ListForAdmin(ctx context.Context, f Filters) ([]models.Consultation, int64, error) {
	base := s.db.Session(&gorm.Session{})
	if f.LawyerID != nil {
		base = base.Where("lawyer_id = ?", *f.LawyerID)
	}
	if f.ClientID != nil {
		base = base.Where("client_id = ?", *f.ClientID)
	}
	return s.list(ctx, base, f)
}

/* ============================== Transitions ============================= */

// Accept moves pendiente → aceptada for the owning lawyer, records the
// estimate, and bumps the profile's consultation counter in the same
// transaction. The row lock is what serializes two racing accepts.
func (s *Store) Accept(ctx context.Context, id uuid.UUID, actor ActorInfo, estimatedPriceCents *int) (*models.Consultation, error) {
	if actor.LawyerProfileID == nil {
		return nil, ErrForbidden
	}
	var out models.Consultation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cs models.Consultation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cs, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if cs.LawyerID != *actor.LawyerProfileID {
			return ErrForbidden
		}
		if cs.Status != models.ConsultationPendiente {
			return ErrInvalidTransition
		}

		fields := map[string]any{
			"status":     models.ConsultationAceptada,
			"updated_at": time.Now(),
		}
		if estimatedPriceCents != nil {
			fields["estimated_price_cents"] = *estimatedPriceCents
		}
		if err := tx.Model(&cs).Updates(fields).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.LawyerProfile{}).
			Where("id = ?", cs.LawyerID).
			UpdateColumn("total_consultations", gorm.Expr("total_consultations + 1")).Error; err != nil {
			return err
		}
		cs.Status = models.ConsultationAceptada
		cs.EstimatedPriceCents = estimatedPriceCents
		out = cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Complete moves aceptada|en_proceso → completada for either party and
// records the final price. Admins use the generic update path instead.
func (s *Store) Complete(ctx context.Context, id uuid.UUID, actor ActorInfo, finalPriceCents *int) (*models.Consultation, error) {
	var out models.Consultation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cs models.Consultation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cs, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		rel := actor.relation(&cs)
		if rel != ActorClient && rel != ActorLawyer {
			return ErrForbidden
		}
		if !CanTransition(cs.Status, models.ConsultationCompletada) {
			return ErrInvalidTransition
		}

		fields := map[string]any{
			"status":     models.ConsultationCompletada,
			"updated_at": time.Now(),
		}
		if finalPriceCents != nil {
			fields["final_price_cents"] = *finalPriceCents
		}
		if err := tx.Model(&cs).Updates(fields).Error; err != nil {
			return err
		}
		cs.Status = models.ConsultationCompletada
		if finalPriceCents != nil {
			cs.FinalPriceCents = finalPriceCents
		}
		out = cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel moves any non-terminal status → cancelada. Parties cancel their own
// rows; admins may cancel anything.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID, actor ActorInfo) (*models.Consultation, error) {
	var out models.Consultation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cs models.Consultation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cs, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		rel := actor.relation(&cs)
		if rel == ActorNone {
			return ErrForbidden
		}
		if !CanTransition(cs.Status, models.ConsultationCancelada) {
			return ErrInvalidTransition
		}
		if !AllowedFor(rel, cs.Status, models.ConsultationCancelada) {
			return ErrForbidden
		}

		if err := tx.Model(&cs).Updates(map[string]any{
			"status":     models.ConsultationCancelada,
			"updated_at": time.Now(),
		}).Error; err != nil {
			return err
		}
		cs.Status = models.ConsultationCancelada
		out = cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
