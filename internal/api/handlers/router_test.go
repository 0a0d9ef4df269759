package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-clinic/internal/api/middleware"
	"github.com/drfirst/go-clinic/internal/domain/catalog"
	"github.com/drfirst/go-clinic/internal/domain/consent"
	"github.com/drfirst/go-clinic/internal/domain/consultation"
	"github.com/drfirst/go-clinic/internal/domain/labreport"
	"github.com/drfirst/go-clinic/internal/domain/prescription"
	"github.com/drfirst/go-clinic/internal/events"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
	"github.com/drfirst/go-clinic/pkg/idempotency"
)

var testSecret = []byte("test-secret-test-secret-test-sec")

type env struct {
	t        *testing.T
	handler  http.Handler
	bus      *events.Bus
	consults *consultation.MemoryRepository
	labs     *labreport.MemoryRepository
	doctor   string
	patient  string
	c        consultation.Consultation
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		t:        t,
		bus:      events.NewBus(),
		consults: consultation.NewMemoryRepository(),
		labs:     labreport.NewMemoryRepository(),
	}

	rxSvc := prescription.NewService(prescription.NewMemoryRepository(), nil)
	consentSvc := consent.NewService(consent.NewMemoryRepository(), nil)
	inbox := idempotency.NewInbox(idempotency.NewMemoryStore(), idempotency.DefaultInboxConfig(), nil)
	price := 2.5
	catalogSvc := catalog.NewService(catalog.NewStaticRepository(
		catalog.Medication{ID: uuid.New(), GenericName: "Amoxicillin", Strength: "500 mg", Form: "capsule", UnitPrice: &price},
		catalog.Medication{ID: uuid.New(), GenericName: "Ibuprofen", Strength: "400 mg", Form: "tablet"},
	))

	e.handler = NewRouter(Deps{
		Prescriptions: rxSvc,
		Consents:      consentSvc,
		Consultations: consultation.NewService(e.consults, rxSvc, consentSvc, inbox, nil),
		Catalog:       catalogSvc,
		LabReports:    labreport.NewService(e.labs, nil),
		Bus:           e.bus,
		Metrics:       metrics.New(nil),
		SessionSecret: testSecret,
		Currency:      "USD",
	})

	doctorID := uuid.New()
	e.doctor = e.token(middleware.Principal{UserID: doctorID, Role: middleware.RoleDoctor})
	e.patient = e.token(middleware.Principal{UserID: uuid.New(), Role: middleware.RolePatient})

	enc := uuid.New()
	e.c = consultation.Consultation{
		ID:          uuid.New(),
		PatientID:   uuid.New(),
		DoctorID:    doctorID,
		Type:        "general",
		Status:      consultation.StatusOpen,
		EncounterID: &enc,
	}
	e.consults.Put(e.c)
	return e
}

func (e *env) token(p middleware.Principal) string {
	tok, err := middleware.IssueToken(testSecret, p, time.Hour)
	require.NoError(e.t, err)
	return tok
}

func (e *env) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func f64Ptr(v float64) *float64 { return &v }

func (e *env) item(generic string) prescription.LineItem {
	it := prescription.NewLineItem(generic, "500 mg", "capsule")
	it.UnitPrice = f64Ptr(2.5)
	return it
}

func (e *env) saveDraft(items ...prescription.LineItem) uuid.UUID {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/rx/draft", e.doctor, map[string]any{
		"consultationId":  e.c.ID,
		"patientId":       e.c.PatientID,
		"notesForPatient": "after meals",
		"items":           items,
	})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[map[string]uuid.UUID](e.t, rec)["id"]
}

func pngDataURL(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return consent.EncodePNGDataURL(buf.Bytes())
}

func TestHealthAndAuth(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/ready", "", nil).Code)

	rec := e.do(http.MethodGet, "/api/rx/draft?consultation_id="+e.c.ID.String(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec), "error")
}

func TestRx_SaveLoadSign(t *testing.T) {
	e := newEnv(t)
	var signed []events.Event
	unsub := e.bus.Subscribe(events.TopicRxSigned, func(ev events.Event) { signed = append(signed, ev) })
	defer unsub()

	rec := e.do(http.MethodGet, "/api/rx/draft?consultation_id="+e.c.ID.String(), e.doctor, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := e.saveDraft(e.item("Amoxicillin"))

	rec = e.do(http.MethodGet, "/api/rx/draft?consultation_id="+e.c.ID.String(), e.doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	draft := decode[prescription.Prescription](t, rec)
	assert.Equal(t, id, draft.ID)
	assert.Equal(t, "after meals", draft.NotesForPatient)
	require.Len(t, draft.Items, 1)

	rec = e.do(http.MethodPost, "/api/rx/sign", e.patient, map[string]any{"prescriptionId": id})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPost, "/api/rx/sign", e.doctor, map[string]any{"prescriptionId": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[SignResponse](t, rec).OK)

	require.Len(t, signed, 1)
	assert.Equal(t, e.c.ID.String(), signed[0].ConsultationID)

	rec = e.do(http.MethodGet, "/api/rx/draft?consultation_id="+e.c.ID.String(), e.doctor, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(http.MethodGet, "/api/rx/signed?consultation_id="+e.c.ID.String(), e.doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[prescription.Prescription](t, rec)
	assert.Equal(t, prescription.StatusSigned, got.Status)
	assert.Len(t, got.Items, 1)

	rec = e.do(http.MethodGet, "/api/rx/"+id.String()+"/fhir", e.doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/fhir+json", rec.Header().Get("Content-Type"))
	bundle := decode[map[string]any](t, rec)
	assert.Equal(t, "Bundle", bundle["resourceType"])
}

func TestRx_DuplicateAndEmpty(t *testing.T) {
	e := newEnv(t)

	dup := e.item("amoxicillin")
	rec := e.do(http.MethodPost, "/api/rx/draft", e.doctor, map[string]any{
		"consultationId": e.c.ID,
		"patientId":      e.c.PatientID,
		"items":          []prescription.LineItem{e.item("Amoxicillin"), dup},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	id := e.saveDraft()
	rec = e.do(http.MethodPost, "/api/rx/sign", e.doctor, map[string]any{"prescriptionId": id})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(http.MethodGet, "/api/rx/"+id.String()+"/fhir", e.doctor, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRx_RevisionAndDelete(t *testing.T) {
	e := newEnv(t)
	id := e.saveDraft(e.item("Amoxicillin"))
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/rx/sign", e.doctor, map[string]any{"prescriptionId": id}).Code)

	rec := e.do(http.MethodPost, "/api/rx/revision", e.doctor, map[string]any{"consultationId": e.c.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	rev := decode[prescription.Prescription](t, rec)
	assert.NotEqual(t, id, rev.ID)
	require.NotNil(t, rev.RevisionOf)
	assert.Equal(t, id, *rev.RevisionOf)
	assert.Len(t, rev.Items, 1)

	// saving the revision leaves the signed record alone
	e.saveDraft(e.item("Amoxicillin"), e.item("Ibuprofen"))
	rec = e.do(http.MethodGet, "/api/rx/signed?consultation_id="+e.c.ID.String(), e.doctor, nil)
	assert.Len(t, decode[prescription.Prescription](t, rec).Items, 1)

	rec = e.do(http.MethodDelete, "/api/rx/draft?consultationId="+e.c.ID.String(), e.doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DeleteDraftResponse{OK: true, State: "signed"}, decode[DeleteDraftResponse](t, rec))

	rec = e.do(http.MethodDelete, "/api/rx/draft?consultationId="+e.c.ID.String(), e.doctor, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func (e *env) consentBody() map[string]any {
	return map[string]any{
		"consultation_id":             e.c.ID,
		"encounter_id":                *e.c.EncounterID,
		"patient_id":                  e.c.PatientID,
		"template_slug":               "general-consent",
		"template_version":            1,
		"doctor_attest":               true,
		"use_stored_doctor_signature": false,
		"doctor_signature_data_url":   pngDataURL(e.t),
		"patient_method":              "typed",
		"patient_typed_name":          "Ana Cruz",
		"signer_kind":                 "patient",
	}
}

func TestConsent_CreateAndExists(t *testing.T) {
	e := newEnv(t)
	existsPath := "/api/consents/exists?encounter_id=" + e.c.EncounterID.String()

	rec := e.do(http.MethodGet, existsPath, e.doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[map[string]bool](t, rec)["exists"])

	body := e.consentBody()
	body["doctor_attest"] = false
	rec = e.do(http.MethodPost, "/api/consents", e.doctor, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/consents", e.doctor, e.consentBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decode[CreateConsentResponse](t, rec).OK)

	rec = e.do(http.MethodGet, existsPath, e.doctor, nil)
	assert.True(t, decode[map[string]bool](t, rec)["exists"])

	rec = e.do(http.MethodPost, "/api/consents", e.doctor, e.consentBody())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConsent_StoredSignature(t *testing.T) {
	e := newEnv(t)
	body := e.consentBody()
	body["use_stored_doctor_signature"] = true
	delete(body, "doctor_signature_data_url")

	rec := e.do(http.MethodPost, "/api/consents", e.doctor, body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(http.MethodPut, "/api/doctors/me/signature", e.doctor, StoreSignatureRequest{SignatureDataURL: "data:text/plain;base64,aGk="})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPut, "/api/doctors/me/signature", e.doctor, StoreSignatureRequest{SignatureDataURL: pngDataURL(t)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(http.MethodPost, "/api/consents", e.doctor, body)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestConsultation_PreviewAndFinalize(t *testing.T) {
	e := newEnv(t)
	finalize := map[string]any{"consultation_id": e.c.ID, "encounter_id": *e.c.EncounterID}

	rec := e.do(http.MethodGet, "/api/consultations/preview?consultation_id="+e.c.ID.String(), e.doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decode[consultation.Preview](t, rec)
	assert.Equal(t, "general", preview.Consultation.Type)
	assert.Nil(t, preview.Prescription)

	rec = e.do(http.MethodPost, "/api/consultations/finalize", e.doctor, finalize)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "consent")

	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/api/consents", e.doctor, e.consentBody()).Code)

	rec = e.do(http.MethodPost, "/api/consultations/finalize", e.doctor, finalize)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[consultation.FinalizeResult](t, rec)
	assert.True(t, res.OK)
	assert.False(t, res.WithPrescription)

	rec = e.do(http.MethodPost, "/api/consultations/finalize", e.doctor, finalize)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[consultation.FinalizeResult](t, rec).Replayed)
}

func TestConsultation_DraftBlocksFinalize(t *testing.T) {
	e := newEnv(t)
	e.saveDraft(e.item("Amoxicillin"))

	rec := e.do(http.MethodGet, "/api/consultations/preview?consultation_id="+e.c.ID.String(), e.doctor, nil)
	preview := decode[consultation.Preview](t, rec)
	require.NotNil(t, preview.Prescription)
	assert.Equal(t, "draft", preview.Prescription.Status)

	rec = e.do(http.MethodPost, "/api/consultations/finalize", e.doctor,
		map[string]any{"consultation_id": e.c.ID, "encounter_id": *e.c.EncounterID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(http.MethodGet, "/api/consultations/preview?consultation_id="+uuid.NewString(), e.doctor, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalogSearch(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodGet, "/api/medications/search?q=amox", e.doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[SearchResponse](t, rec)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "Amoxicillin", res.Results[0].GenericName)

	rec = e.do(http.MethodGet, "/api/medications/search?q=a", e.doctor, nil)
	assert.Empty(t, decode[SearchResponse](t, rec).Results)
}

func TestLabReports(t *testing.T) {
	e := newEnv(t)
	pid := uuid.New()
	report := func(date, hb string) labreport.Report {
		return labreport.Report{
			Patient: labreport.Patient{ID: pid.String()},
			Visit:   labreport.Visit{Date: date},
			Sections: []labreport.Section{{Name: "CBC", Items: []labreport.Item{
				{Key: "hb", Label: "Hemoglobin", Value: labreport.Value(hb), Unit: "g/dL"},
			}}},
		}
	}
	e.labs.Add(pid, report("12/31/23", "12.0"), report("01/05/24", "13.5"))

	rec := e.do(http.MethodGet, "/api/patients/"+pid.String()+"/lab-reports?compare=true", e.doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[labreport.View](t, rec)
	assert.Equal(t, "01/05/24", view.Selected)
	require.NotNil(t, view.Sections[0].Rows[0].Delta)
	assert.InDelta(t, 1.5, *view.Sections[0].Rows[0].Delta, 1e-9)

	rec = e.do(http.MethodGet, "/api/patients/"+pid.String()+"/lab-reports?visit=02/02/24", e.doctor, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodGet, "/api/patients/"+pid.String()+"/lab-reports/trend?key=hb", e.doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "echarts")

	rec = e.do(http.MethodGet, "/api/patients/"+uuid.NewString()+"/lab-reports", e.doctor, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
