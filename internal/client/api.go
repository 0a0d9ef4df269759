package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/drfirst/go-clinic/internal/domain/catalog"
	"github.com/drfirst/go-clinic/internal/domain/consent"
	"github.com/drfirst/go-clinic/internal/domain/consultation"
	"github.com/drfirst/go-clinic/internal/domain/prescription"
)

// DraftInput is the body of a draft save.
type DraftInput struct {
	ConsultationID  uuid.UUID               `json:"consultationId"`
	PatientID       uuid.UUID               `json:"patientId"`
	NotesForPatient string                  `json:"notesForPatient"`
	Items           []prescription.LineItem `json:"items"`
}

// CreateConsent records a consent.
func (c *Client) CreateConsent(ctx context.Context, in consent.CreateInput) error {
	return c.do(ctx, http.MethodPost, "/api/consents", nil, in, nil)
}

// ConsentExists reports whether a consent is recorded for the consultation
// in the encounter.
func (c *Client) ConsentExists(ctx context.Context, consultationID, encounterID uuid.UUID) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	q := url.Values{
		"consultation_id": {consultationID.String()},
		"encounter_id":    {encounterID.String()},
	}
	if err := c.do(ctx, http.MethodGet, "/api/consents/exists", q, nil, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// StoreDoctorSignature keeps the caller's signature on file.
func (c *Client) StoreDoctorSignature(ctx context.Context, dataURL string) error {
	body := map[string]string{"signature_data_url": dataURL}
	return c.do(ctx, http.MethodPut, "/api/doctors/me/signature", nil, body, nil)
}

// LoadDraft returns the consultation's draft, or prescription.ErrDraftNotFound.
func (c *Client) LoadDraft(ctx context.Context, consultationID uuid.UUID) (*prescription.Prescription, error) {
	var p prescription.Prescription
	q := url.Values{"consultation_id": {consultationID.String()}}
	if err := c.do(ctx, http.MethodGet, "/api/rx/draft", q, nil, &p); err != nil {
		if StatusOf(err) == http.StatusNotFound {
			return nil, prescription.ErrDraftNotFound
		}
		return nil, err
	}
	return &p, nil
}

// LoadActiveSigned returns the signed record, or
// prescription.ErrNoSignedPrescription.
func (c *Client) LoadActiveSigned(ctx context.Context, consultationID uuid.UUID) (*prescription.Prescription, error) {
	var p prescription.Prescription
	q := url.Values{"consultation_id": {consultationID.String()}}
	if err := c.do(ctx, http.MethodGet, "/api/rx/signed", q, nil, &p); err != nil {
		if StatusOf(err) == http.StatusNotFound {
			return nil, prescription.ErrNoSignedPrescription
		}
		return nil, err
	}
	return &p, nil
}

// SaveDraft writes the draft and returns its id.
func (c *Client) SaveDraft(ctx context.Context, in DraftInput) (uuid.UUID, error) {
	if in.Items == nil {
		in.Items = []prescription.LineItem{}
	}
	var out struct {
		ID uuid.UUID `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/rx/draft", nil, in, &out); err != nil {
		return uuid.Nil, err
	}
	return out.ID, nil
}

// DeleteDraft deletes the draft.
func (c *Client) DeleteDraft(ctx context.Context, consultationID uuid.UUID) error {
	q := url.Values{"consultationId": {consultationID.String()}}
	return c.do(ctx, http.MethodDelete, "/api/rx/draft", q, nil, nil)
}

// CreateRevision returns a draft copied from the signed record.
func (c *Client) CreateRevision(ctx context.Context, consultationID uuid.UUID) (*prescription.Prescription, error) {
	var p prescription.Prescription
	body := map[string]uuid.UUID{"consultationId": consultationID}
	if err := c.do(ctx, http.MethodPost, "/api/rx/revision", nil, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Sign signs a saved draft.
func (c *Client) Sign(ctx context.Context, prescriptionID uuid.UUID) error {
	body := map[string]uuid.UUID{"prescriptionId": prescriptionID}
	return c.do(ctx, http.MethodPost, "/api/rx/sign", nil, body, nil)
}

// SearchMedications searches the catalog.
func (c *Client) SearchMedications(ctx context.Context, query string) ([]catalog.Medication, error) {
	var out struct {
		Results []catalog.Medication `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/medications/search", url.Values{"q": {query}}, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Preview returns the finalize preview of a consultation.
func (c *Client) Preview(ctx context.Context, consultationID uuid.UUID) (*consultation.Preview, error) {
	var p consultation.Preview
	q := url.Values{"consultation_id": {consultationID.String()}}
	if err := c.do(ctx, http.MethodGet, "/api/consultations/preview", q, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Finalize finishes a consultation.
func (c *Client) Finalize(ctx context.Context, consultationID, encounterID uuid.UUID) (*consultation.FinalizeResult, error) {
	var res consultation.FinalizeResult
	in := consultation.FinalizeInput{ConsultationID: consultationID, EncounterID: encounterID}
	if err := c.do(ctx, http.MethodPost, "/api/consultations/finalize", nil, in, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
