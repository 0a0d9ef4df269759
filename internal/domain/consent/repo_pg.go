package consent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type consentRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the PostgreSQL Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &consentRepoPG{pool: pool}
}

func (r *consentRepoPG) Create(ctx context.Context, rec *Record) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO consents (id, consultation_id, encounter_id, patient_id, doctor_id,
			template_slug, template_version, doctor_attest, doctor_signature_source,
			doctor_signature_png, patient_method, patient_signature_png, patient_typed_name,
			signer_kind, signer_name, signer_relation)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at`,
		rec.ID, rec.ConsultationID, rec.EncounterID, rec.PatientID, rec.DoctorID,
		rec.TemplateSlug, rec.TemplateVersion, rec.DoctorAttest, rec.DoctorSignatureSource,
		rec.DoctorSignaturePNG, rec.PatientMethod, rec.PatientSignaturePNG, rec.PatientTypedName,
		rec.SignerKind, rec.SignerName, rec.SignerRelation,
	).Scan(&rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyRecorded
		}
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

func (r *consentRepoPG) ExistsForEncounter(ctx context.Context, encounterID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM consents WHERE encounter_id = $1)`, encounterID).Scan(&exists)
	return exists, err
}

func (r *consentRepoPG) Exists(ctx context.Context, consultationID, encounterID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM consents WHERE consultation_id = $1 AND encounter_id = $2)`,
		consultationID, encounterID).Scan(&exists)
	return exists, err
}

func (r *consentRepoPG) GetDoctorSignature(ctx context.Context, doctorID uuid.UUID) ([]byte, error) {
	var sig []byte
	err := r.pool.QueryRow(ctx, `SELECT signature_png FROM doctors WHERE id = $1`, doctorID).Scan(&sig)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && len(sig) == 0) {
		return nil, ErrNoStoredSignature
	}
	if err != nil {
		return nil, fmt.Errorf("load doctor signature: %w", err)
	}
	return sig, nil
}

func (r *consentRepoPG) SaveDoctorSignature(ctx context.Context, doctorID uuid.UUID, png []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctors (id, signature_png, signature_updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET signature_png = EXCLUDED.signature_png, signature_updated_at = NOW()`,
		doctorID, png)
	if err != nil {
		return fmt.Errorf("save doctor signature: %w", err)
	}
	return nil
}
