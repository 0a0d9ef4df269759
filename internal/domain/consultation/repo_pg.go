package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drfirst/go-clinic/internal/infrastructure/postgres"
	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
)

type consultationRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the PostgreSQL Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &consultationRepoPG{pool: pool}
}

func (r *consultationRepoPG) Get(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	var c Consultation
	err := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, type, status, encounter_id, finalized_at
		FROM consultations WHERE id = $1`, id).Scan(
		&c.ID, &c.PatientID, &c.DoctorID, &c.Type, &c.Status, &c.EncounterID, &c.FinalizedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load consultation: %w", err)
	}
	return &c, nil
}

func (r *consultationRepoPG) HasScheduledFollowUp(ctx context.Context, consultationID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM follow_ups WHERE consultation_id = $1 AND status = $2)`,
		consultationID, FollowUpScheduled).Scan(&exists)
	return exists, err
}

func (r *consultationRepoPG) MarkFinished(ctx context.Context, id uuid.UUID, at time.Time, ev *FinalizedEvent) (time.Time, error) {
	var finalizedAt time.Time
	err := postgres.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE consultations
			SET status = 'finished', finalized_at = COALESCE(finalized_at, $2), updated_at = NOW()
			WHERE id = $1
			RETURNING finalized_at`, id, at).Scan(&finalizedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("mark finished: %w", err)
		}

		ev.FinalizedAt = finalizedAt
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		return postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
			AggregateID:   id.String(),
			AggregateType: "Consultation",
			EventType:     EventFinalized,
			Payload:       payload,
			Topic:         redpanda.TopicConsultationEvents,
			Key:           id.String(),
		})
	})
	return finalizedAt, err
}
