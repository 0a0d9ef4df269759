package consent

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngDataURL(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return EncodePNGDataURL(buf.Bytes())
}

func TestRequirements_GuardianNeedsNameAndRelation(t *testing.T) {
	r := Requirements{
		DoctorAttest:  true,
		UseStored:     true,
		Method:        MethodDrawn,
		PatientHasInk: true,
		Signer:        SignerGuardian,
		SignerName:    "Maria Santos",
	}
	assert.False(t, r.Satisfied(), "empty relation")

	r.SignerRelation = "   "
	assert.False(t, r.Satisfied(), "blank relation")

	r.SignerRelation = "mother"
	assert.True(t, r.Satisfied())
}

func TestRequirements(t *testing.T) {
	base := Requirements{DoctorAttest: true, UseStored: true, Method: MethodDrawn, PatientHasInk: true, Signer: SignerPatient}
	require.True(t, base.Satisfied())

	tests := []struct {
		name   string
		mutate func(*Requirements)
		want   bool
	}{
		{"no attestation", func(r *Requirements) { r.DoctorAttest = false }, false},
		{"fresh doctor signature without ink", func(r *Requirements) { r.UseStored = false }, false},
		{"fresh doctor signature with ink", func(r *Requirements) { r.UseStored = false; r.DoctorHasInk = true }, true},
		{"drawn without ink", func(r *Requirements) { r.PatientHasInk = false }, false},
		{"typed blank", func(r *Requirements) { r.Method = MethodTyped; r.PatientTypedName = "  " }, false},
		{"typed name", func(r *Requirements) { r.Method = MethodTyped; r.PatientHasInk = false; r.PatientTypedName = "Juan" }, true},
		{"unknown method", func(r *Requirements) { r.Method = "voice" }, false},
		{"representative complete", func(r *Requirements) {
			r.Signer = SignerRepresentative
			r.SignerName = "A. Cruz"
			r.SignerRelation = "spouse"
		}, true},
		{"unknown signer", func(r *Requirements) {
			r.Signer = "neighbour"
			r.SignerName = "x"
			r.SignerRelation = "y"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mutate(&r)
			assert.Equal(t, tt.want, r.Satisfied())
		})
	}
}

func validInput(t *testing.T) CreateInput {
	return CreateInput{
		ConsultationID:          uuid.New(),
		EncounterID:             uuid.New(),
		PatientID:               uuid.New(),
		TemplateSlug:            "general-consult",
		TemplateVersion:         2,
		DoctorAttest:            true,
		DoctorSignatureDataURL:  pngDataURL(t),
		PatientMethod:           MethodDrawn,
		PatientSignatureDataURL: pngDataURL(t),
		SignerKind:              SignerPatient,
	}
}

func TestRecord_DrawnSignatures(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	ctx := context.Background()
	in := validInput(t)

	rec, err := svc.Record(ctx, uuid.New(), in)
	require.NoError(t, err)
	assert.Equal(t, SourceDrawn, rec.DoctorSignatureSource)
	assert.NotEmpty(t, rec.PatientSignaturePNG)

	exists, err := svc.ExistsForEncounter(ctx, in.EncounterID)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = svc.Record(ctx, uuid.New(), in)
	assert.ErrorIs(t, err, ErrAlreadyRecorded)
}

func TestRecord_StoredSignature(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	ctx := context.Background()
	doctor := uuid.New()

	in := validInput(t)
	in.UseStoredDoctorSignature = true
	in.DoctorSignatureDataURL = ""

	_, err := svc.Record(ctx, doctor, in)
	assert.ErrorIs(t, err, ErrNoStoredSignature)

	require.NoError(t, svc.StoreDoctorSignature(ctx, doctor, pngDataURL(t)))
	rec, err := svc.Record(ctx, doctor, in)
	require.NoError(t, err)
	assert.Equal(t, SourceStored, rec.DoctorSignatureSource)
	assert.NotEmpty(t, rec.DoctorSignaturePNG)
}

func TestRecord_TypedNameAndSignerIdentity(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	in := validInput(t)
	in.PatientMethod = MethodTyped
	in.PatientSignatureDataURL = ""
	in.PatientTypedName = "Lola Basyang"
	in.SignerKind = SignerGuardian
	in.SignerName = "Lola Basyang"
	in.SignerRelation = "grandmother"

	rec, err := svc.Record(context.Background(), uuid.New(), in)
	require.NoError(t, err)
	assert.Equal(t, "Lola Basyang", rec.PatientTypedName)
	assert.Equal(t, "grandmother", rec.SignerRelation)
	assert.Nil(t, rec.PatientSignaturePNG)
}

func TestRecord_RejectsIncompleteAndNonPNG(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	in := validInput(t)
	in.DoctorAttest = false
	_, err := svc.Record(ctx, uuid.New(), in)
	assert.ErrorIs(t, err, ErrIncomplete)

	in = validInput(t)
	in.PatientSignatureDataURL = "data:image/jpeg;base64,/9j/4AAQ"
	_, err = svc.Record(ctx, uuid.New(), in)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	in = validInput(t)
	in.DoctorSignatureDataURL = "data:image/png;base64,bm90IGEgcG5n"
	_, err = svc.Record(ctx, uuid.New(), in)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	in = validInput(t)
	in.EncounterID = uuid.Nil
	_, err = svc.Record(ctx, uuid.New(), in)
	assert.ErrorIs(t, err, ErrIncomplete)
}
