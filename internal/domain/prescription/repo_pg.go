package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/infrastructure/postgres"
	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
)

const pgUniqueViolation = "23505"

// PGRepository is the PostgreSQL Repository.
type PGRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewPGRepository creates a new repository
func NewPGRepository(pool *pgxpool.Pool, logger *zap.Logger) *PGRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGRepository{pool: pool, logger: logger, tracer: otel.Tracer("prescription-repo")}
}

var _ Repository = (*PGRepository)(nil)

const prescriptionCols = `id, consultation_id, patient_id, status, notes_for_patient,
	revision_of, signed_at, signed_by, created_at, updated_at`

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PGRepository) getOne(ctx context.Context, q queryable, where string, args ...any) (*Prescription, error) {
	var p Prescription
	err := q.QueryRow(ctx, `SELECT `+prescriptionCols+` FROM prescriptions WHERE `+where, args...).Scan(
		&p.ID, &p.ConsultationID, &p.PatientID, &p.Status, &p.NotesForPatient,
		&p.RevisionOf, &p.SignedAt, &p.SignedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	items, err := r.loadItems(ctx, q, p.ID)
	if err != nil {
		return nil, err
	}
	p.Items = items
	return &p, nil
}

func (r *PGRepository) loadItems(ctx context.Context, q queryable, id uuid.UUID) ([]LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT medication_id, generic_name, strength, form, brand_name, route,
		       dose_amount, dose_unit, frequency_code, duration_days, quantity,
		       instructions, unit_price
		FROM prescription_items
		WHERE prescription_id = $1
		ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []LineItem{}
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(
			&li.MedicationID, &li.GenericName, &li.Strength, &li.Form, &li.BrandName, &li.Route,
			&li.DoseAmount, &li.DoseUnit, &li.FrequencyCode, &li.DurationDays, &li.Quantity,
			&li.Instructions, &li.UnitPrice,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

// GetDraft returns the consultation's draft.
func (r *PGRepository) GetDraft(ctx context.Context, consultationID uuid.UUID) (*Prescription, error) {
	ctx, span := r.tracer.Start(ctx, "prescription.get_draft",
		trace.WithAttributes(attribute.String("consultation_id", consultationID.String())))
	defer span.End()

	p, err := r.getOne(ctx, r.pool, `consultation_id = $1 AND status = 'draft'`, consultationID)
	return p, notFound(err, ErrDraftNotFound)
}

// GetActiveSigned returns the consultation's current signed prescription.
func (r *PGRepository) GetActiveSigned(ctx context.Context, consultationID uuid.UUID) (*Prescription, error) {
	ctx, span := r.tracer.Start(ctx, "prescription.get_signed",
		trace.WithAttributes(attribute.String("consultation_id", consultationID.String())))
	defer span.End()

	p, err := r.getOne(ctx, r.pool, `consultation_id = $1 AND status = 'signed'`, consultationID)
	return p, notFound(err, ErrNoSignedPrescription)
}

// GetByID returns a prescription in any status.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := r.getOne(ctx, r.pool, `id = $1`, id)
	return p, notFound(err, ErrNotFound)
}

// SaveDraft upserts the draft header and rewrites its items.
func (r *PGRepository) SaveDraft(ctx context.Context, p *Prescription) error {
	ctx, span := r.tracer.Start(ctx, "prescription.save_draft",
		trace.WithAttributes(
			attribute.String("prescription_id", p.ID.String()),
			attribute.Int("item_count", len(p.Items)),
		))
	defer span.End()

	err := postgres.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return r.upsertDraft(ctx, tx, p)
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *PGRepository) upsertDraft(ctx context.Context, tx pgx.Tx, p *Prescription) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO prescriptions (id, consultation_id, patient_id, status, notes_for_patient,
			revision_of, created_at, updated_at)
		VALUES ($1, $2, $3, 'draft', $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET notes_for_patient = EXCLUDED.notes_for_patient, updated_at = EXCLUDED.updated_at
		WHERE prescriptions.status = 'draft'`,
		p.ID, p.ConsultationID, p.PatientID, p.NotesForPatient, p.RevisionOf, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDraftConflict
		}
		return fmt.Errorf("upsert draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLocked
	}
	return r.replaceItems(ctx, tx, p)
}

func (r *PGRepository) replaceItems(ctx context.Context, tx pgx.Tx, p *Prescription) error {
	if _, err := tx.Exec(ctx, `DELETE FROM prescription_items WHERE prescription_id = $1`, p.ID); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}
	if len(p.Items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, li := range p.Items {
		batch.Queue(`
			INSERT INTO prescription_items (prescription_id, position, medication_id, generic_name,
				strength, form, brand_name, route, dose_amount, dose_unit, frequency_code,
				duration_days, quantity, instructions, unit_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			p.ID, i, li.MedicationID, li.GenericName, li.Strength, li.Form, li.BrandName,
			li.Route, li.DoseAmount, li.DoseUnit, li.FrequencyCode, li.DurationDays,
			li.Quantity, li.Instructions, li.UnitPrice)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert items: %w", err)
	}
	return nil
}

// CreateRevision stores the revision draft together with its outbox event.
func (r *PGRepository) CreateRevision(ctx context.Context, p *Prescription, ev *Event) error {
	ctx, span := r.tracer.Start(ctx, "prescription.create_revision",
		trace.WithAttributes(attribute.String("prescription_id", p.ID.String())))
	defer span.End()

	return postgres.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.upsertDraft(ctx, tx, p); err != nil {
			return err
		}
		return writeEvent(ctx, tx, ev)
	})
}

// DeleteDraft deletes the consultation's draft, items cascading.
func (r *PGRepository) DeleteDraft(ctx context.Context, consultationID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM prescriptions WHERE consultation_id = $1 AND status = 'draft'`, consultationID)
	if err != nil {
		return false, fmt.Errorf("delete draft: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Sign persists the signed state. The draft row is updated in place, so a
// concurrent delete or second sign makes this fail with ErrNotDraft.
func (r *PGRepository) Sign(ctx context.Context, p *Prescription, ev *Event) error {
	ctx, span := r.tracer.Start(ctx, "prescription.sign",
		trace.WithAttributes(
			attribute.String("prescription_id", p.ID.String()),
			attribute.String("consultation_id", p.ConsultationID.String()),
		))
	defer span.End()

	err := postgres.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE prescriptions SET status = 'superseded', updated_at = NOW()
			WHERE consultation_id = $1 AND status = 'signed' AND id <> $2`,
			p.ConsultationID, p.ID); err != nil {
			return fmt.Errorf("supersede previous: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE prescriptions
			SET status = 'signed', signed_at = $2, signed_by = $3, updated_at = $4
			WHERE id = $1 AND status = 'draft'`,
			p.ID, p.SignedAt, p.SignedBy, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("mark signed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotDraft
		}
		return writeEvent(ctx, tx, ev)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	r.logger.Info("prescription signed",
		zap.String("prescription_id", p.ID.String()),
		zap.String("consultation_id", p.ConsultationID.String()))
	return nil
}

func writeEvent(ctx context.Context, tx pgx.Tx, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
		AggregateID:   ev.AggregateID,
		AggregateType: ev.AggregateType,
		EventType:     string(ev.EventType),
		Payload:       payload,
		Topic:         redpanda.TopicPrescriptionEvents,
		Key:           ev.ConsultationID,
	})
}
