package prescription

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return svc, repo
}

func amox() LineItem {
	li := NewLineItem("Amoxicillin", "500 mg", "cap")
	li.UnitPrice = ptrF(2.5)
	return li
}

func TestSaveDraft_CreatesThenUpdatesSingleDraft(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	cid, pid := uuid.New(), uuid.New()

	first, err := svc.SaveDraft(ctx, SaveDraftInput{ConsultationID: cid, PatientID: pid, Items: []LineItem{amox()}})
	require.NoError(t, err)

	second, err := svc.SaveDraft(ctx, SaveDraftInput{ConsultationID: cid, PatientID: pid, NotesForPatient: "after meals"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	loaded, err := svc.LoadDraft(ctx, cid)
	require.NoError(t, err)
	assert.Empty(t, loaded.Items)
	assert.Equal(t, "after meals", loaded.NotesForPatient)
}

func TestSaveDraft_RejectsDuplicates(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.SaveDraft(context.Background(), SaveDraftInput{
		ConsultationID: uuid.New(),
		PatientID:      uuid.New(),
		Items:          []LineItem{amox(), amox()},
	})
	assert.ErrorIs(t, err, ErrDuplicateItem)
}

func TestSaveDraft_RequiresPatientForNewDraft(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.SaveDraft(context.Background(), SaveDraftInput{ConsultationID: uuid.New()})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSign_LocksAndEmitsEvent(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	cid, signer := uuid.New(), uuid.New()

	draft, err := svc.SaveDraft(ctx, SaveDraftInput{ConsultationID: cid, PatientID: uuid.New(), Items: []LineItem{amox()}})
	require.NoError(t, err)

	signed, err := svc.Sign(ctx, draft.ID, signer, "req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSigned, signed.Status)

	res, err := svc.Resolve(ctx, cid)
	require.NoError(t, err)
	got, ok := res.(SignedFound)
	require.True(t, ok)
	assert.Equal(t, draft.Items, got.Signed.Items)

	require.Len(t, repo.Events, 1)
	ev := repo.Events[0]
	assert.Equal(t, EventPrescriptionSigned, ev.EventType)
	assert.Equal(t, "req-1", ev.CorrelationID)
	var data SignedData
	require.NoError(t, json.Unmarshal(ev.EventData, &data))
	assert.Equal(t, 1, data.ItemCount)
	assert.Equal(t, 35.0, data.Subtotal)
	assert.Nil(t, data.Superseded)
}

func TestSign_EmptyDraftRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	draft, err := svc.SaveDraft(ctx, SaveDraftInput{ConsultationID: uuid.New(), PatientID: uuid.New()})
	require.NoError(t, err)

	_, err = svc.Sign(ctx, draft.ID, uuid.New(), "")
	assert.ErrorIs(t, err, ErrEmptyDraft)
}

func TestSign_TwiceRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	draft, err := svc.SaveDraft(ctx, SaveDraftInput{ConsultationID: uuid.New(), PatientID: uuid.New(), Items: []LineItem{amox()}})
	require.NoError(t, err)
	_, err = svc.Sign(ctx, draft.ID, uuid.New(), "")
	require.NoError(t, err)

	_, err = svc.Sign(ctx, draft.ID, uuid.New(), "")
	assert.ErrorIs(t, err, ErrNotDraft)
}

func TestRevision_CopiesSignedAndSupersedesOnSign(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	cid, pid := uuid.New(), uuid.New()

	draft, err := svc.SaveDraft(ctx, SaveDraftInput{ConsultationID: cid, PatientID: pid, NotesForPatient: "n", Items: []LineItem{amox()}})
	require.NoError(t, err)
	original, err := svc.Sign(ctx, draft.ID, uuid.New(), "")
	require.NoError(t, err)

	rev, err := svc.CreateRevision(ctx, cid)
	require.NoError(t, err)
	require.NotNil(t, rev.RevisionOf)
	assert.Equal(t, original.ID, *rev.RevisionOf)
	assert.Equal(t, original.Items, rev.Items)
	assert.Equal(t, "n", rev.NotesForPatient)

	again, err := svc.CreateRevision(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, rev.ID, again.ID, "existing draft is returned")

	res, err := svc.Resolve(ctx, cid)
	require.NoError(t, err)
	df, ok := res.(DraftFound)
	require.True(t, ok)
	assert.NotNil(t, df.Signed)

	items := append(rev.Items, NewLineItem("Ibuprofen", "400 mg", "tab"))
	_, err = svc.SaveDraft(ctx, SaveDraftInput{ConsultationID: cid, Items: items})
	require.NoError(t, err)

	_, err = svc.Sign(ctx, rev.ID, uuid.New(), "")
	require.NoError(t, err)

	old, err := svc.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, old.Status)

	active, err := svc.LoadActiveSigned(ctx, cid)
	require.NoError(t, err)
	assert.Len(t, active.Items, 2)

	require.Len(t, repo.Events, 3)
	assert.Equal(t, EventRevisionCreated, repo.Events[1].EventType)
	var data SignedData
	require.NoError(t, json.Unmarshal(repo.Events[2].EventData, &data))
	require.NotNil(t, data.Superseded)
	assert.Equal(t, original.ID, *data.Superseded)
}

func TestCreateRevision_NothingSigned(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.CreateRevision(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNoSignedPrescription)
}

func TestDeleteDraft_ReResolves(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	cid := uuid.New()

	_, err := svc.DeleteDraft(ctx, cid)
	assert.ErrorIs(t, err, ErrDraftNotFound)

	draft, err := svc.SaveDraft(ctx, SaveDraftInput{ConsultationID: cid, PatientID: uuid.New(), Items: []LineItem{amox()}})
	require.NoError(t, err)
	res, err := svc.DeleteDraft(ctx, cid)
	require.NoError(t, err)
	assert.IsType(t, NoPrescription{}, res)

	draft, err = svc.SaveDraft(ctx, SaveDraftInput{ConsultationID: cid, PatientID: uuid.New(), Items: []LineItem{amox()}})
	require.NoError(t, err)
	_, err = svc.Sign(ctx, draft.ID, uuid.New(), "")
	require.NoError(t, err)
	_, err = svc.CreateRevision(ctx, cid)
	require.NoError(t, err)

	res, err = svc.DeleteDraft(ctx, cid)
	require.NoError(t, err)
	assert.IsType(t, SignedFound{}, res)
	assert.Equal(t, "signed", StatusOf(res))
}
