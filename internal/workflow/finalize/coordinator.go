// Package finalize decides which finishing action a consultation offers and
// runs it, routing "finish without a prescription" through consent capture.
package finalize

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/client"
	"github.com/drfirst/go-clinic/internal/domain/consultation"
	"github.com/drfirst/go-clinic/internal/domain/prescription"
	"github.com/drfirst/go-clinic/internal/events"
	"github.com/drfirst/go-clinic/internal/workflow/consentflow"
)

// Consent template used when finishing without a prescription.
const (
	ConsentTemplateSlug    = "general-consent"
	ConsentTemplateVersion = 1
)

const (
	ReasonPreparing    = "Preparing…"
	ReasonNoEncounter  = "Link an encounter first"
	ReasonDraftPending = "Sign or delete the draft prescription first"

	msgPreviewFailed  = "Failed to load consultation"
	msgConsentFailed  = "Failed to check consent"
	msgFinalizeFailed = "Failed to finish consultation"
)

var ErrUnavailable = errors.New("finish without prescription is not available")

// API is the part of the clinic API the coordinator uses.
type API interface {
	Preview(ctx context.Context, consultationID uuid.UUID) (*consultation.Preview, error)
	ConsentExists(ctx context.Context, consultationID, encounterID uuid.UUID) (bool, error)
	Finalize(ctx context.Context, consultationID, encounterID uuid.UUID) (*consultation.FinalizeResult, error)
}

// ConsentOpener opens consent capture and calls onSaved once it is stored.
type ConsentOpener interface {
	Open(target consentflow.Target, onSaved func())
}

// ActionKind is the finishing action on offer.
type ActionKind int

const (
	ActionDisabled ActionKind = iota
	ActionFinished
	ActionBlocked
	ActionFinishWithoutRx
)

func (k ActionKind) String() string {
	switch k {
	case ActionFinished:
		return "finished"
	case ActionBlocked:
		return "blocked"
	case ActionFinishWithoutRx:
		return "finish_without_rx"
	default:
		return "disabled"
	}
}

// Action is the finishing action with the reason shown when it is not
// available.
type Action struct {
	Kind   ActionKind
	Reason string
}

// Coordinator tracks one consultation's preview.
type Coordinator struct {
	mu      sync.Mutex
	api     API
	consent ConsentOpener
	reload  func()
	logger  *zap.Logger

	consultationID uuid.UUID
	patientID      uuid.UUID
	gen            uint64
	preview        *consultation.Preview
	resolving      bool
	busy           bool
	err            string
}

// New creates a coordinator. reload runs after a successful finalize and
// may be nil.
func New(api API, consent ConsentOpener, reload func(), logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reload == nil {
		reload = func() {}
	}
	return &Coordinator{api: api, consent: consent, reload: reload, logger: logger}
}

// Refresh loads the preview for a consultation. A refresh superseded by a
// later one is discarded.
func (c *Coordinator) Refresh(ctx context.Context, consultationID, patientID uuid.UUID) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.consultationID != consultationID {
		c.preview = nil
	}
	c.consultationID = consultationID
	c.patientID = patientID
	c.resolving = true
	c.err = ""
	c.mu.Unlock()

	p, err := c.api.Preview(ctx, consultationID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	c.resolving = false
	if err != nil {
		c.err = client.Message(err, msgPreviewFailed)
		return err
	}
	c.preview = p
	return nil
}

// Watch refreshes the preview whenever a prescription is signed for the
// current consultation. The returned func stops watching.
func (c *Coordinator) Watch(ctx context.Context, bus *events.Bus) (stop func()) {
	return bus.Subscribe(events.TopicRxSigned, func(ev events.Event) {
		c.mu.Lock()
		cid, pid := c.consultationID, c.patientID
		c.mu.Unlock()
		if cid == uuid.Nil || ev.ConsultationID != cid.String() {
			return
		}
		if err := c.Refresh(ctx, cid, pid); err != nil {
			c.logger.Warn("preview refresh failed", zap.String("consultation_id", cid.String()), zap.Error(err))
		}
	})
}

// Preview returns the last loaded preview.
func (c *Coordinator) Preview() *consultation.Preview {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview
}

// Busy reports whether a finish is in flight.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Err returns the message of the last failed call.
func (c *Coordinator) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Action returns the finishing action on offer.
func (c *Coordinator) Action() Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.action()
}

func (c *Coordinator) action() Action {
	p := c.preview
	if p == nil {
		switch {
		case c.resolving:
			return Action{Kind: ActionDisabled, Reason: ReasonPreparing}
		case c.err != "":
			return Action{Kind: ActionDisabled, Reason: c.err}
		}
		return Action{Kind: ActionDisabled, Reason: ReasonNoEncounter}
	}
	if p.Consultation.Status == consultation.StatusFinished {
		return Action{Kind: ActionFinished}
	}
	if p.Prescription != nil && p.Prescription.Status == string(prescription.StatusSigned) {
		return Action{Kind: ActionFinished}
	}
	if p.Encounter == nil {
		if c.resolving {
			return Action{Kind: ActionDisabled, Reason: ReasonPreparing}
		}
		return Action{Kind: ActionDisabled, Reason: ReasonNoEncounter}
	}
	if p.Prescription != nil {
		return Action{Kind: ActionBlocked, Reason: ReasonDraftPending}
	}
	return Action{Kind: ActionFinishWithoutRx}
}

// FinishWithoutRx finishes a consultation that has no prescription. When no
// consent is recorded for this consultation and encounter yet, consent capture opens and the finalize
// runs from its onSaved callback. A call while one is in flight does nothing.
func (c *Coordinator) FinishWithoutRx(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil
	}
	if c.action().Kind != ActionFinishWithoutRx {
		c.mu.Unlock()
		return ErrUnavailable
	}
	c.busy = true
	c.err = ""
	target := consentflow.Target{
		ConsultationID:  c.consultationID,
		EncounterID:     c.preview.Encounter.ID,
		PatientID:       c.patientID,
		TemplateSlug:    ConsentTemplateSlug,
		TemplateVersion: ConsentTemplateVersion,
	}
	c.mu.Unlock()

	exists, err := c.api.ConsentExists(ctx, target.ConsultationID, target.EncounterID)
	if err != nil {
		c.fail(err, msgConsentFailed)
		return err
	}
	if exists {
		return c.finalize(ctx, target)
	}

	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	c.consent.Open(target, func() {
		c.mu.Lock()
		if c.busy {
			c.mu.Unlock()
			return
		}
		c.busy = true
		c.mu.Unlock()
		if err := c.finalize(detached, target); err != nil {
			c.logger.Warn("finalize after consent failed",
				zap.String("consultation_id", target.ConsultationID.String()),
				zap.Error(err))
		}
	})
	return nil
}

// finalize runs with busy set and clears it.
func (c *Coordinator) finalize(ctx context.Context, target consentflow.Target) error {
	res, err := c.api.Finalize(ctx, target.ConsultationID, target.EncounterID)
	if err != nil {
		c.fail(err, msgFinalizeFailed)
		return err
	}

	c.mu.Lock()
	c.busy = false
	if c.consultationID == target.ConsultationID && c.preview != nil {
		c.preview.Consultation.Status = consultation.StatusFinished
	}
	c.mu.Unlock()

	c.logger.Info("consultation finalized",
		zap.String("consultation_id", target.ConsultationID.String()),
		zap.Bool("replayed", res.Replayed))
	c.reload()
	return nil
}

func (c *Coordinator) fail(err error, fallback string) {
	c.mu.Lock()
	c.busy = false
	c.err = client.Message(err, fallback)
	c.mu.Unlock()
}
