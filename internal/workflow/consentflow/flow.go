// Package consentflow drives the consent capture modal: two signature
// pads, the patient method and signer identity, and a single submit.
package consentflow

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/client"
	"github.com/drfirst/go-clinic/internal/domain/consent"
	"github.com/drfirst/go-clinic/internal/events"
	"github.com/drfirst/go-clinic/internal/workflow/signature"
)

const saveFailed = "Failed to save consent"

// Recorder stores a consent.
type Recorder interface {
	CreateConsent(ctx context.Context, in consent.CreateInput) error
}

// Target identifies what the consent is for.
type Target struct {
	ConsultationID  uuid.UUID
	EncounterID     uuid.UUID
	PatientID       uuid.UUID
	TemplateSlug    string
	TemplateVersion int
}

// Flow is the consent capture state machine. It is reset every time it
// opens and is safe for concurrent use.
type Flow struct {
	mu      sync.Mutex
	rec     Recorder
	bus     *events.Bus
	logger  *zap.Logger
	doctor  *signature.Pad
	patient *signature.Pad

	doctorBounds  signature.Rect
	patientBounds signature.Rect

	open    bool
	busy    bool
	err     string
	target  Target
	onSaved func()

	attest         bool
	useStored      bool
	method         consent.PatientMethod
	typedName      string
	signer         consent.SignerKind
	signerName     string
	signerRelation string
}

// New creates a closed flow. Opening it publishes consent:opened on bus.
func New(rec Recorder, bus *events.Bus, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		rec:           rec,
		bus:           bus,
		logger:        logger,
		doctor:        signature.NewPad(signature.DefaultOptions()),
		patient:       signature.NewPad(signature.DefaultOptions()),
		doctorBounds:  signature.Rect{Width: 480, Height: 160},
		patientBounds: signature.Rect{Width: 480, Height: 160},
		useStored:     true,
		method:        consent.MethodDrawn,
		signer:        consent.SignerPatient,
	}
}

// SetSurfaces sets where the two pads are laid out.
func (f *Flow) SetSurfaces(doctor, patient signature.Rect) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doctorBounds = doctor
	f.patientBounds = patient
	if f.open {
		f.mount()
	}
}

// DoctorPad is the doctor's signature surface.
func (f *Flow) DoctorPad() *signature.Pad { return f.doctor }

// PatientPad is the patient's signature surface.
func (f *Flow) PatientPad() *signature.Pad { return f.patient }

// Open resets every field and both pads and shows the flow for target.
// onSaved runs once after a successful submit. Open does nothing while a
// submit is in flight.
func (f *Flow) Open(target Target, onSaved func()) {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return
	}
	f.target = target
	f.onSaved = onSaved
	f.open = true
	f.err = ""
	f.attest = false
	f.useStored = true
	f.method = consent.MethodDrawn
	f.typedName = ""
	f.signer = consent.SignerPatient
	f.signerName = ""
	f.signerRelation = ""
	f.doctor.Clear()
	f.patient.Clear()
	f.mount()
	f.mu.Unlock()

	if f.bus != nil {
		f.bus.Publish(events.Event{Topic: events.TopicConsentOpened, ConsultationID: target.ConsultationID.String()})
	}
}

// Close hides the flow and detaches both pads.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.close()
}

func (f *Flow) close() {
	f.open = false
	f.onSaved = nil
	f.doctor.Deactivate()
	f.patient.Deactivate()
}

// mount activates exactly the pads that are visible in the current state.
func (f *Flow) mount() {
	if f.open && !f.useStored {
		f.doctor.Activate(f.doctorBounds)
	} else {
		f.doctor.Deactivate()
	}
	if f.open && f.method == consent.MethodDrawn {
		f.patient.Activate(f.patientBounds)
	} else {
		f.patient.Deactivate()
	}
}

// IsOpen reports whether the flow is showing.
func (f *Flow) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// SetAttest sets the doctor attestation.
func (f *Flow) SetAttest(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attest = v
}

// SetUseStored chooses the doctor's stored signature over drawing one.
func (f *Flow) SetUseStored(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.useStored = v
	f.mount()
}

// SetPatientMethod switches between a drawn and a typed patient signature.
func (f *Flow) SetPatientMethod(m consent.PatientMethod) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.method = m
	f.mount()
}

// SetTypedName sets the typed patient name.
func (f *Flow) SetTypedName(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typedName = s
}

// SetSigner sets who signs on the patient side.
func (f *Flow) SetSigner(kind consent.SignerKind, name, relation string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signer = kind
	f.signerName = name
	f.signerRelation = relation
}

// SignerFieldsVisible reports whether signer name and relation apply.
func (f *Flow) SignerFieldsVisible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signer != consent.SignerPatient
}

func (f *Flow) requirements() consent.Requirements {
	return consent.Requirements{
		DoctorAttest:     f.attest,
		UseStored:        f.useStored,
		DoctorHasInk:     f.doctor.HasInk(),
		Method:           f.method,
		PatientHasInk:    f.patient.HasInk(),
		PatientTypedName: f.typedName,
		Signer:           f.signer,
		SignerName:       f.signerName,
		SignerRelation:   f.signerRelation,
	}
}

// CanSubmit reports whether every required part is present.
func (f *Flow) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requirements().Satisfied()
}

// Busy reports whether a submit is in flight.
func (f *Flow) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

// Err returns the message of the last failed submit.
func (f *Flow) Err() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Flow) payload() consent.CreateInput {
	in := consent.CreateInput{
		ConsultationID:           f.target.ConsultationID,
		EncounterID:              f.target.EncounterID,
		PatientID:                f.target.PatientID,
		TemplateSlug:             f.target.TemplateSlug,
		TemplateVersion:          f.target.TemplateVersion,
		DoctorAttest:             f.attest,
		UseStoredDoctorSignature: f.useStored,
		PatientMethod:            f.method,
		SignerKind:               f.signer,
	}
	if !f.useStored {
		in.DoctorSignatureDataURL = f.doctor.Export()
	}
	if f.method == consent.MethodDrawn {
		in.PatientSignatureDataURL = f.patient.Export()
	} else {
		in.PatientTypedName = strings.TrimSpace(f.typedName)
	}
	if f.signer != consent.SignerPatient {
		in.SignerName = strings.TrimSpace(f.signerName)
		in.SignerRelation = strings.TrimSpace(f.signerRelation)
	}
	return in
}

// Submit posts the consent. A call while another is in flight, while the
// flow is closed, or before CanSubmit holds does nothing. On success the
// flow closes and onSaved runs; on failure it stays open with Err set.
func (f *Flow) Submit(ctx context.Context) error {
	f.mu.Lock()
	if f.busy || !f.open || !f.requirements().Satisfied() {
		f.mu.Unlock()
		return nil
	}
	f.busy = true
	f.err = ""
	in := f.payload()
	f.mu.Unlock()

	err := f.rec.CreateConsent(ctx, in)

	f.mu.Lock()
	f.busy = false
	if err != nil {
		f.err = client.Message(err, saveFailed)
		f.mu.Unlock()
		f.logger.Warn("consent submit failed",
			zap.String("consultation_id", in.ConsultationID.String()),
			zap.Error(err))
		return err
	}
	onSaved := f.onSaved
	f.close()
	f.mu.Unlock()

	if onSaved != nil {
		onSaved()
	}
	return nil
}
