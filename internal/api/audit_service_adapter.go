package api

import "github.com/openreach/trialconsent/internal/services"

type auditStoreAdapter struct {
	store Store
}

func newAuditStoreAdapter(store Store) services.AuditStore {
	return &auditStoreAdapter{store: store}
}

func (a *auditStoreAdapter) LatestAudit(studyID string) (*services.AuditEntry, error) {
	return toServiceAudit(a.store.LatestAudit(studyID)), nil
}

func (a *auditStoreAdapter) AppendAudit(e *services.AuditEntry) error {
	row := fromServiceAudit(e)
	if err := a.store.AppendAudit(row); err != nil {
		return err
	}
	e.ID = row.ID
	return nil
}

func (a *auditStoreAdapter) ListAudit(studyID string) ([]*services.AuditEntry, error) {
	rows := a.store.ListAudit(studyID)
	out := make([]*services.AuditEntry, 0, len(rows))
	for _, e := range rows {
		out = append(out, toServiceAudit(e))
	}
	return out, nil
}

var _ services.AuditStore = (*auditStoreAdapter)(nil)
