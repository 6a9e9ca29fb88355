package api

import (
	"time"

	"github.com/openreach/trialconsent/internal/services"
)

type exportStoreAdapter struct {
	store Store
}

func newExportStoreAdapter(store Store) services.ExportStore {
	return &exportStoreAdapter{store: store}
}

func (a *exportStoreAdapter) GetStudy(id string) (*services.Study, error) {
	return toServiceStudy(a.store.GetStudy(id)), nil
}

func (a *exportStoreAdapter) ListCategories(studyID string) ([]*services.DataCategory, error) {
	return toServiceCategories(a.store.ListCategories(studyID)), nil
}

func (a *exportStoreAdapter) ListConsentsByStudy(studyID string) ([]*services.Consent, error) {
	return toServiceConsents(a.store.ListConsentsByStudy(studyID)), nil
}

func (a *exportStoreAdapter) ListChoices(consentID string) ([]*services.ConsentChoice, error) {
	rows := a.store.ListChoices(consentID)
	out := make([]*services.ConsentChoice, 0, len(rows))
	for _, ch := range rows {
		out = append(out, &services.ConsentChoice{ConsentID: ch.ConsentID, CategoryID: ch.CategoryID, Allowed: ch.Allowed})
	}
	return out, nil
}

func (a *exportStoreAdapter) ListAudit(studyID string) ([]*services.AuditEntry, error) {
	rows := a.store.ListAudit(studyID)
	out := make([]*services.AuditEntry, 0, len(rows))
	for _, e := range rows {
		out = append(out, toServiceAudit(e))
	}
	return out, nil
}

func (a *exportStoreAdapter) AllowExport(ownerID string, minInterval time.Duration) bool {
	return a.store.AllowExport(ownerID, minInterval)
}

var _ services.ExportStore = (*exportStoreAdapter)(nil)
