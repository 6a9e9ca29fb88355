package api

import "github.com/openreach/trialconsent/internal/services"

type consentStoreAdapter struct {
	store Store
}

func newConsentStoreAdapter(store Store) services.ConsentStore {
	return &consentStoreAdapter{store: store}
}

func (a *consentStoreAdapter) GetStudy(id string) (*services.Study, error) {
	return toServiceStudy(a.store.GetStudy(id)), nil
}

func (a *consentStoreAdapter) GetParticipant(id string) (*services.Participant, error) {
	p := a.store.GetParticipant(id)
	if p == nil {
		return nil, nil
	}
	return &services.Participant{ID: p.ID, SelfToken: p.SelfToken, CreatedAt: p.CreatedAt}, nil
}

func (a *consentStoreAdapter) ListCategories(studyID string) ([]*services.DataCategory, error) {
	return toServiceCategories(a.store.ListCategories(studyID)), nil
}

func (a *consentStoreAdapter) MaxConsentVersion(studyID, participantID string) (int, error) {
	return a.store.MaxConsentVersion(studyID, participantID), nil
}

func (a *consentStoreAdapter) AddConsentWithChoices(c *services.Consent, choices []*services.ConsentChoice, entry *services.AuditEntry) error {
	rows := make([]*ConsentChoice, 0, len(choices))
	for _, ch := range choices {
		rows = append(rows, &ConsentChoice{ConsentID: ch.ConsentID, CategoryID: ch.CategoryID, Allowed: ch.Allowed})
	}
	auditRow := fromServiceAudit(entry)
	err := a.store.AddConsentWithChoices(&Consent{
		ID:            c.ID,
		StudyID:       c.StudyID,
		ParticipantID: c.ParticipantID,
		Version:       c.Version,
		Granted:       c.Granted,
		WithdrawnAt:   c.WithdrawnAt,
		ReceiptHash:   c.ReceiptHash,
		ReceiptJSON:   c.ReceiptJSON,
		CreatedAt:     c.CreatedAt,
	}, rows, auditRow)
	if err != nil {
		return err
	}
	if entry != nil {
		entry.ID = auditRow.ID
	}
	return nil
}

func (a *consentStoreAdapter) GetConsentByID(id string) (*services.Consent, error) {
	return toServiceConsent(a.store.GetConsentByID(id)), nil
}

func (a *consentStoreAdapter) ListConsentsByParticipant(studyID, participantID string) ([]*services.Consent, error) {
	return toServiceConsents(a.store.ListConsentsByParticipant(studyID, participantID)), nil
}

func (a *consentStoreAdapter) ListChoices(consentID string) ([]*services.ConsentChoice, error) {
	rows := a.store.ListChoices(consentID)
	out := make([]*services.ConsentChoice, 0, len(rows))
	for _, ch := range rows {
		out = append(out, &services.ConsentChoice{ConsentID: ch.ConsentID, CategoryID: ch.CategoryID, Allowed: ch.Allowed})
	}
	return out, nil
}

var _ services.ConsentStore = (*consentStoreAdapter)(nil)
