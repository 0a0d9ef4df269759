// Package rxpanel is the prescription editor state machine: NoDraft,
// Draft (dirty or clean) and SignedLocked, driven against the clinic API.
package rxpanel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/client"
	"github.com/drfirst/go-clinic/internal/domain/catalog"
	"github.com/drfirst/go-clinic/internal/domain/prescription"
	"github.com/drfirst/go-clinic/internal/events"
)

var (
	ErrDraftDirty       = errors.New("draft has unsaved changes")
	ErrRevisionDeclined = errors.New("revision declined")
	ErrNoConsultation   = errors.New("no consultation loaded")
)

const (
	PromptRevise      = "This prescription is signed. Create a revision to edit it?"
	PromptDeleteDraft = "Delete this draft prescription?"

	msgLoadFailed     = "Failed to load prescription"
	msgSaveFailed     = "Failed to save prescription"
	msgSignFailed     = "Failed to sign prescription"
	msgDeleteFailed   = "Failed to delete draft"
	msgRevisionFailed = "Failed to create revision"
	msgSearchFailed   = "Failed to search medications"
)

// API is the part of the clinic API the panel uses.
type API interface {
	LoadDraft(ctx context.Context, consultationID uuid.UUID) (*prescription.Prescription, error)
	LoadActiveSigned(ctx context.Context, consultationID uuid.UUID) (*prescription.Prescription, error)
	SaveDraft(ctx context.Context, in client.DraftInput) (uuid.UUID, error)
	DeleteDraft(ctx context.Context, consultationID uuid.UUID) error
	CreateRevision(ctx context.Context, consultationID uuid.UUID) (*prescription.Prescription, error)
	Sign(ctx context.Context, prescriptionID uuid.UUID) error
	SearchMedications(ctx context.Context, query string) ([]catalog.Medication, error)
}

// ConfirmFunc asks the user to confirm prompt.
type ConfirmFunc func(prompt string) bool

// Mode is the editor state.
type Mode int

const (
	ModeNoDraft Mode = iota
	ModeDraft
	ModeSignedLocked
)

func (m Mode) String() string {
	switch m {
	case ModeDraft:
		return "draft"
	case ModeSignedLocked:
		return "signed"
	default:
		return "none"
	}
}

// Panel edits the prescription of one consultation at a time. It is safe
// for concurrent use; network calls run without holding the lock.
type Panel struct {
	mu      sync.Mutex
	api     API
	bus     *events.Bus
	confirm ConfirmFunc
	logger  *zap.Logger

	consultationID uuid.UUID
	patientID      uuid.UUID
	loadGen        uint64
	cancelLoad     context.CancelFunc

	mode     Mode
	draftID  uuid.UUID
	signedID uuid.UUID
	items    []prescription.LineItem
	notes    string
	dirty    bool
	edits    uint64

	loading  bool
	saving   bool
	saveDone chan struct{}
	signing  bool
	warning string
	err     string
}

// New creates a panel. confirm may be nil, in which case every
// confirmation is declined.
func New(api API, bus *events.Bus, confirm ConfirmFunc, logger *zap.Logger) *Panel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if confirm == nil {
		confirm = func(string) bool { return false }
	}
	return &Panel{api: api, bus: bus, confirm: confirm, logger: logger}
}

// Snapshot is a read-only copy of the panel state.
type Snapshot struct {
	ConsultationID uuid.UUID
	Mode           Mode
	DraftID        uuid.UUID
	SignedID       uuid.UUID
	Items          []prescription.LineItem
	Notes          string
	Dirty          bool
	Loading        bool
	Saving         bool
	Signing        bool
	Warning        string
	Err            string
	Subtotal       float64
}

// Snapshot returns the current state.
func (p *Panel) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		ConsultationID: p.consultationID,
		Mode:           p.mode,
		DraftID:        p.draftID,
		SignedID:       p.signedID,
		Items:          append([]prescription.LineItem(nil), p.items...),
		Notes:          p.notes,
		Dirty:          p.dirty,
		Loading:        p.loading,
		Saving:         p.saving,
		Signing:        p.signing,
		Warning:        p.warning,
		Err:            p.err,
		Subtotal:       prescription.Subtotal(p.items),
	}
}

// Mode returns the editor state.
func (p *Panel) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Warning returns the last local warning, e.g. a rejected duplicate line.
func (p *Panel) Warning() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.warning
}

// Err returns the message of the last failed call.
func (p *Panel) Err() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close cancels an in-flight load. Its result is discarded.
func (p *Panel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadGen++
	if p.cancelLoad != nil {
		p.cancelLoad()
		p.cancelLoad = nil
	}
	p.loading = false
}

// Load switches the panel to a consultation and resolves its prescription:
// the draft if one exists, else the active signed record, else nothing.
// A load superseded by a later Load or Close is discarded.
func (p *Panel) Load(ctx context.Context, consultationID, patientID uuid.UUID) error {
	p.mu.Lock()
	if p.cancelLoad != nil {
		p.cancelLoad()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.loadGen++
	gen := p.loadGen
	p.cancelLoad = cancel
	if p.consultationID != consultationID {
		p.resetLocked()
	}
	p.consultationID = consultationID
	p.patientID = patientID
	p.loading = true
	p.err = ""
	p.mu.Unlock()
	defer cancel()

	res, err := p.resolve(ctx, consultationID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.loadGen {
		return nil
	}
	p.loading = false
	p.cancelLoad = nil
	if err != nil {
		p.err = client.Message(err, msgLoadFailed)
		return err
	}
	p.applyLocked(res)
	return nil
}

func (p *Panel) resolve(ctx context.Context, consultationID uuid.UUID) (prescription.Resolution, error) {
	draft, err := p.api.LoadDraft(ctx, consultationID)
	if err == nil {
		return prescription.DraftFound{Draft: draft}, nil
	}
	if !errors.Is(err, prescription.ErrDraftNotFound) {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	signed, err := p.api.LoadActiveSigned(ctx, consultationID)
	if err == nil {
		return prescription.SignedFound{Signed: signed}, nil
	}
	if !errors.Is(err, prescription.ErrNoSignedPrescription) {
		return nil, fmt.Errorf("load signed: %w", err)
	}
	return prescription.NoPrescription{}, nil
}

func (p *Panel) resetLocked() {
	p.mode = ModeNoDraft
	p.draftID = uuid.Nil
	p.signedID = uuid.Nil
	p.items = nil
	p.notes = ""
	p.dirty = false
	p.warning = ""
	p.err = ""
}

func (p *Panel) applyLocked(res prescription.Resolution) {
	p.resetLocked()
	switch r := res.(type) {
	case prescription.DraftFound:
		p.mode = ModeDraft
		p.draftID = r.Draft.ID
		p.items = append([]prescription.LineItem(nil), r.Draft.Items...)
		p.notes = r.Draft.NotesForPatient
	case prescription.SignedFound:
		p.mode = ModeSignedLocked
		p.signedID = r.Signed.ID
		p.items = append([]prescription.LineItem(nil), r.Signed.Items...)
		p.notes = r.Signed.NotesForPatient
	}
	p.edits++
}

// Search queries the medication catalog.
func (p *Panel) Search(ctx context.Context, query string) ([]catalog.Medication, error) {
	meds, err := p.api.SearchMedications(ctx, query)
	if err != nil {
		p.mu.Lock()
		p.err = client.Message(err, msgSearchFailed)
		p.mu.Unlock()
		return nil, err
	}
	return meds, nil
}

// edit applies fn to the line list. Editing a signed prescription first
// asks for confirmation and creates a revision. fn reports whether it
// changed anything.
func (p *Panel) edit(ctx context.Context, fn func() bool) error {
	p.mu.Lock()
	if p.consultationID == uuid.Nil {
		p.mu.Unlock()
		return ErrNoConsultation
	}
	p.warning = ""
	locked := p.mode == ModeSignedLocked
	p.mu.Unlock()

	if locked {
		if !p.confirm(PromptRevise) {
			return ErrRevisionDeclined
		}
		if err := p.revise(ctx); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if fn() {
		p.mode = ModeDraft
		p.dirty = true
		p.edits++
	}
	return nil
}

// AddFromCatalog adds a catalog medication with the default dosing. A line
// with the same generic, strength and form is rejected with a warning.
func (p *Panel) AddFromCatalog(ctx context.Context, med catalog.Medication) error {
	return p.add(ctx, med.LineItem())
}

// AddCustom adds a free-text "generic, strength, form" line.
func (p *Panel) AddCustom(ctx context.Context, text string) error {
	item, err := prescription.ParseCustom(text)
	if err != nil {
		p.mu.Lock()
		p.warning = "Enter at least a generic name"
		p.mu.Unlock()
		return nil
	}
	return p.add(ctx, item)
}

func (p *Panel) add(ctx context.Context, item prescription.LineItem) error {
	return p.edit(ctx, func() bool {
		if prescription.ContainsKey(p.items, item.Key()) {
			p.warning = duplicateWarning(item)
			return false
		}
		p.items = append(p.items, item)
		return true
	})
}

func duplicateWarning(it prescription.LineItem) string {
	return fmt.Sprintf("%s %s %s is already on this prescription", it.GenericName, it.Strength, it.Form)
}

// UpdateItem changes line idx. A change that would duplicate another
// line is rejected with a warning.
func (p *Panel) UpdateItem(ctx context.Context, idx int, fn func(*prescription.LineItem)) error {
	return p.edit(ctx, func() bool {
		if idx < 0 || idx >= len(p.items) {
			return false
		}
		updated := p.items[idx]
		fn(&updated)
		for i, other := range p.items {
			if i != idx && other.Key() == updated.Key() {
				p.warning = duplicateWarning(updated)
				return false
			}
		}
		p.items[idx] = updated
		return true
	})
}

// RemoveItem removes line idx.
func (p *Panel) RemoveItem(ctx context.Context, idx int) error {
	return p.edit(ctx, func() bool {
		if idx < 0 || idx >= len(p.items) {
			return false
		}
		p.items = append(p.items[:idx:idx], p.items[idx+1:]...)
		return true
	})
}

// SetNotes replaces the instructions for the patient.
func (p *Panel) SetNotes(ctx context.Context, notes string) error {
	return p.edit(ctx, func() bool {
		if p.notes == notes {
			return false
		}
		p.notes = notes
		return true
	})
}

// ApplySuggestedQty sets line idx's quantity from its dose, frequency and
// duration. PRN lines have no suggestion and are left alone.
func (p *Panel) ApplySuggestedQty(ctx context.Context, idx int) error {
	return p.edit(ctx, func() bool {
		if idx < 0 || idx >= len(p.items) {
			return false
		}
		q := p.items[idx].SuggestedQty()
		if q == nil {
			p.warning = "No suggested quantity for this frequency"
			return false
		}
		p.items[idx].Quantity = q
		return true
	})
}

// Save persists the draft. Edits made while the save is in flight keep the
// draft dirty.
func (p *Panel) Save(ctx context.Context) error {
	p.mu.Lock()
	if p.saving {
		p.mu.Unlock()
		return nil
	}
	p.startSaveLocked()
	p.mu.Unlock()

	defer p.endSave()
	return p.save(ctx)
}

func (p *Panel) startSaveLocked() {
	p.saving = true
	p.saveDone = make(chan struct{})
}

func (p *Panel) endSave() {
	p.mu.Lock()
	p.saving = false
	close(p.saveDone)
	p.saveDone = nil
	p.mu.Unlock()
}

// claimSave waits for a save in flight to finish and then marks one as
// started by the caller, who must call endSave.
func (p *Panel) claimSave(ctx context.Context) error {
	for {
		p.mu.Lock()
		if !p.saving {
			p.startSaveLocked()
			p.mu.Unlock()
			return nil
		}
		done := p.saveDone
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}
}

func (p *Panel) save(ctx context.Context) error {
	p.mu.Lock()
	if p.mode != ModeDraft {
		p.mu.Unlock()
		return nil
	}
	p.err = ""
	in := client.DraftInput{
		ConsultationID:  p.consultationID,
		PatientID:       p.patientID,
		NotesForPatient: p.notes,
		Items:           append([]prescription.LineItem{}, p.items...),
	}
	edits := p.edits
	p.mu.Unlock()

	id, err := p.api.SaveDraft(ctx, in)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.err = client.Message(err, msgSaveFailed)
		return err
	}
	if p.consultationID != in.ConsultationID {
		return nil
	}
	p.draftID = id
	if p.edits == edits {
		p.dirty = false
	}
	return nil
}

// CreateRevision copies the signed prescription into a new draft.
func (p *Panel) CreateRevision(ctx context.Context) error {
	p.mu.Lock()
	locked := p.mode == ModeSignedLocked
	p.mu.Unlock()
	if !locked {
		return nil
	}
	return p.revise(ctx)
}

func (p *Panel) revise(ctx context.Context) error {
	p.mu.Lock()
	cid := p.consultationID
	p.err = ""
	p.mu.Unlock()

	rev, err := p.api.CreateRevision(ctx, cid)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.err = client.Message(err, msgRevisionFailed)
		return err
	}
	if p.consultationID != cid {
		return nil
	}
	p.mode = ModeDraft
	p.draftID = rev.ID
	p.items = append([]prescription.LineItem(nil), rev.Items...)
	p.notes = rev.NotesForPatient
	p.dirty = true
	p.edits++
	return nil
}

// Sign signs the draft. Calls while a sign is in flight are ignored. A
// signed prescription is revised first; an unsaved or dirty draft is saved
// silently first. On success rx:signed is published and the panel reloads.
func (p *Panel) Sign(ctx context.Context) error {
	p.mu.Lock()
	if p.signing {
		p.mu.Unlock()
		return nil
	}
	if p.consultationID == uuid.Nil {
		p.mu.Unlock()
		return ErrNoConsultation
	}
	p.signing = true
	p.err = ""
	locked := p.mode == ModeSignedLocked
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.signing = false
		p.mu.Unlock()
	}()

	if locked {
		if err := p.revise(ctx); err != nil {
			return err
		}
	}

	// a save already in flight may be for a draft not created yet
	if err := p.claimSave(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	needSave := p.draftID == uuid.Nil || p.dirty
	p.mu.Unlock()
	var err error
	if needSave {
		err = p.save(ctx)
	}
	p.endSave()
	if err != nil {
		return err
	}

	p.mu.Lock()
	id, dirty := p.draftID, p.dirty
	cid, pid := p.consultationID, p.patientID
	p.mu.Unlock()
	if id == uuid.Nil || dirty {
		return ErrDraftDirty
	}

	if err := p.api.Sign(ctx, id); err != nil {
		p.mu.Lock()
		p.err = client.Message(err, msgSignFailed)
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.draftID = uuid.Nil
	p.mu.Unlock()
	p.logger.Info("prescription signed", zap.String("prescription_id", id.String()), zap.String("consultation_id", cid.String()))

	if p.bus != nil {
		p.bus.Publish(events.Event{Topic: events.TopicRxSigned, ConsultationID: cid.String()})
	}
	return p.Load(ctx, cid, pid)
}

// DeleteDraft deletes the draft after confirmation and re-resolves, which
// leaves the panel in NoDraft or SignedLocked.
func (p *Panel) DeleteDraft(ctx context.Context) error {
	p.mu.Lock()
	if p.mode != ModeDraft {
		p.mu.Unlock()
		return nil
	}
	cid, pid, id := p.consultationID, p.patientID, p.draftID
	p.mu.Unlock()

	if !p.confirm(PromptDeleteDraft) {
		return nil
	}

	if id != uuid.Nil {
		if err := p.api.DeleteDraft(ctx, cid); err != nil && client.StatusOf(err) != 404 {
			p.mu.Lock()
			p.err = client.Message(err, msgDeleteFailed)
			p.mu.Unlock()
			return err
		}
	}
	return p.Load(ctx, cid, pid)
}
