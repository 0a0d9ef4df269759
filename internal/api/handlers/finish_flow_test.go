package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-clinic/internal/client"
	"github.com/drfirst/go-clinic/internal/domain/consent"
	"github.com/drfirst/go-clinic/internal/domain/consultation"
	"github.com/drfirst/go-clinic/internal/workflow/consentflow"
	"github.com/drfirst/go-clinic/internal/workflow/finalize"
)

type countingOpener struct {
	flow   *consentflow.Flow
	opened int
}

func (o *countingOpener) Open(target consentflow.Target, onSaved func()) {
	o.opened++
	o.flow.Open(target, onSaved)
}

// Two consultations share an encounter; consent recorded for the first must
// not let the second skip consent capture.
func TestFinishWithoutRx_SecondConsultationInEncounter(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	require.Equal(t, http.StatusOK,
		e.do(http.MethodPut, "/api/doctors/me/signature", e.doctor,
			map[string]string{"signature_data_url": pngDataURL(t)}).Code)
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/api/consents", e.doctor, e.consentBody()).Code)

	second := e.c
	second.ID = uuid.New()
	e.consults.Put(second)

	api, err := client.New(srv.URL, client.WithToken(e.doctor))
	require.NoError(t, err)

	opener := &countingOpener{flow: consentflow.New(api, e.bus, nil)}
	reloads := 0
	coord := finalize.New(api, opener, func() { reloads++ }, nil)
	ctx := context.Background()
	require.NoError(t, coord.Refresh(ctx, second.ID, second.PatientID))
	require.Equal(t, finalize.ActionFinishWithoutRx, coord.Action().Kind)

	require.NoError(t, coord.FinishWithoutRx(ctx))
	require.Equal(t, 1, opener.opened)
	require.True(t, opener.flow.IsOpen())
	assert.Zero(t, reloads)

	opener.flow.SetAttest(true)
	opener.flow.SetPatientMethod(consent.MethodTyped)
	opener.flow.SetTypedName("Ana Cruz")
	require.NoError(t, opener.flow.Submit(ctx))

	assert.Empty(t, coord.Err())
	assert.Equal(t, 1, reloads)
	assert.Equal(t, finalize.ActionFinished, coord.Action().Kind)

	rec := e.do(http.MethodGet, "/api/consultations/preview?consultation_id="+second.ID.String(), e.doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, consultation.StatusFinished, decode[consultation.Preview](t, rec).Consultation.Status)
}
