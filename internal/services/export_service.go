package services

import (
	"time"
)

type ExportStore interface {
	GetStudy(id string) (*Study, error)
	ListCategories(studyID string) ([]*DataCategory, error)
	ListConsentsByStudy(studyID string) ([]*Consent, error)
	ListChoices(consentID string) ([]*ConsentChoice, error)
	ListAudit(studyID string) ([]*AuditEntry, error)
	AllowExport(ownerID string, minInterval time.Duration) bool
}

// ExportService produces researcher downloads. Exports per researcher are
// throttled to one per minInterval.
type ExportService struct {
	store       ExportStore
	minInterval time.Duration
}

func NewExportService(store ExportStore) *ExportService {
	return &ExportService{store: store, minInterval: 30 * time.Second}
}

func (s *ExportService) ownedStudy(studyID, ownerID string) (*Study, error) {
	st, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("study not found")
	}
	if st.OwnerID != ownerID {
		return nil, NewForbiddenError("forbidden")
	}
	return st, nil
}

// ConsentMatrixCSV exports the latest consent version per participant.
func (s *ExportService) ConsentMatrixCSV(studyID, ownerID string) ([]byte, error) {
	if _, err := s.ownedStudy(studyID, ownerID); err != nil {
		return nil, err
	}
	if !s.store.AllowExport(ownerID, s.minInterval) {
		return nil, NewConflictError("export rate limited, retry later")
	}
	cats, err := s.store.ListCategories(studyID)
	if err != nil {
		return nil, err
	}
	consents, err := s.store.ListConsentsByStudy(studyID)
	if err != nil {
		return nil, err
	}
	latest := map[string]*Consent{}
	for _, c := range consents {
		if cur := latest[c.ParticipantID]; cur == nil || c.Version > cur.Version {
			latest[c.ParticipantID] = c
		}
	}
	rows := make([]MatrixRow, 0, len(latest))
	for pid, c := range latest {
		choices, err := s.store.ListChoices(c.ID)
		if err != nil {
			return nil, err
		}
		m := make(map[string]bool, len(choices))
		for _, ch := range choices {
			m[ch.CategoryID] = ch.Allowed
		}
		withdrawn := ""
		if c.WithdrawnAt != nil {
			withdrawn = c.WithdrawnAt.UTC().Format(time.RFC3339Nano)
		}
		rows = append(rows, MatrixRow{ParticipantID: pid, Version: c.Version, Granted: c.Granted, WithdrawnAt: withdrawn, Choices: m})
	}
	return ExportConsentMatrixCSV(cats, rows)
}

// AuditChainCSV exports the full chain for offline verification.
func (s *ExportService) AuditChainCSV(studyID, ownerID string) ([]byte, error) {
	if _, err := s.ownedStudy(studyID, ownerID); err != nil {
		return nil, err
	}
	if !s.store.AllowExport(ownerID, s.minInterval) {
		return nil, NewConflictError("export rate limited, retry later")
	}
	entries, err := s.store.ListAudit(studyID)
	if err != nil {
		return nil, err
	}
	return ExportAuditCSV(entries)
}
