package services

import (
	"time"
)

// stubStore is an in-memory backend for service tests. It implements every
// narrow store interface the services declare.
type stubStore struct {
	studies      map[string]*Study
	categories   []*DataCategory
	participants map[string]*Participant
	enrollments  map[string]*Enrollment
	consents     []*Consent
	choices      map[string][]*ConsentChoice
	audits       []*AuditEntry
	users        map[string]*User
	auditSeq     int64
	exportOK     bool
}

func newStubStore() *stubStore {
	return &stubStore{
		studies:      map[string]*Study{},
		participants: map[string]*Participant{},
		enrollments:  map[string]*Enrollment{},
		choices:      map[string][]*ConsentChoice{},
		users:        map[string]*User{},
		exportOK:     true,
	}
}

func enrollKey(studyID, participantID string) string { return studyID + "/" + participantID }

func (s *stubStore) AddStudy(st *Study) error {
	copy := *st
	s.studies[st.ID] = &copy
	return nil
}

func (s *stubStore) UpdateStudy(st *Study) error {
	if _, ok := s.studies[st.ID]; !ok {
		return NewNotFoundError("study not found")
	}
	copy := *st
	s.studies[st.ID] = &copy
	return nil
}

func (s *stubStore) DeleteStudy(id string) error {
	delete(s.studies, id)
	var cats []*DataCategory
	for _, c := range s.categories {
		if c.StudyID != id {
			cats = append(cats, c)
		}
	}
	s.categories = cats
	return nil
}

func (s *stubStore) GetStudy(id string) (*Study, error) {
	if st, ok := s.studies[id]; ok {
		copy := *st
		return &copy, nil
	}
	return nil, nil
}

func (s *stubStore) GetStudyBySlug(slug string) (*Study, error) {
	for _, st := range s.studies {
		if st.Slug == slug {
			copy := *st
			return &copy, nil
		}
	}
	return nil, nil
}

func (s *stubStore) ListStudiesByOwner(ownerID string) ([]*Study, error) {
	var out []*Study
	for _, st := range s.studies {
		if st.OwnerID == ownerID {
			copy := *st
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *stubStore) AddCategory(c *DataCategory) error {
	copy := *c
	s.categories = append(s.categories, &copy)
	return nil
}

func (s *stubStore) UpdateCategory(c *DataCategory) error {
	for i, cur := range s.categories {
		if cur.ID == c.ID && cur.StudyID == c.StudyID {
			copy := *c
			s.categories[i] = &copy
			return nil
		}
	}
	return NewNotFoundError("category not found")
}

func (s *stubStore) ListCategories(studyID string) ([]*DataCategory, error) {
	var out []*DataCategory
	for _, c := range s.categories {
		if c.StudyID == studyID {
			copy := *c
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *stubStore) AddParticipant(p *Participant) error {
	copy := *p
	s.participants[p.ID] = &copy
	return nil
}

func (s *stubStore) GetParticipant(id string) (*Participant, error) {
	if p, ok := s.participants[id]; ok {
		copy := *p
		return &copy, nil
	}
	return nil, nil
}

func (s *stubStore) AddEnrollment(e *Enrollment) error {
	copy := *e
	s.enrollments[enrollKey(e.StudyID, e.ParticipantID)] = &copy
	return nil
}

func (s *stubStore) GetEnrollment(studyID, participantID string) (*Enrollment, error) {
	if e, ok := s.enrollments[enrollKey(studyID, participantID)]; ok {
		copy := *e
		return &copy, nil
	}
	return nil, nil
}

func (s *stubStore) DeleteEnrollment(studyID, participantID string) (bool, error) {
	key := enrollKey(studyID, participantID)
	if _, ok := s.enrollments[key]; !ok {
		return false, nil
	}
	delete(s.enrollments, key)
	return true, nil
}

func (s *stubStore) ListEnrollments(studyID string) ([]*Enrollment, error) {
	var out []*Enrollment
	for _, e := range s.enrollments {
		if e.StudyID == studyID {
			copy := *e
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *stubStore) MaxConsentVersion(studyID, participantID string) (int, error) {
	max := 0
	for _, c := range s.consents {
		if c.StudyID == studyID && c.ParticipantID == participantID && c.Version > max {
			max = c.Version
		}
	}
	return max, nil
}

func (s *stubStore) AddConsentWithChoices(c *Consent, choices []*ConsentChoice, entry *AuditEntry) error {
	copy := *c
	s.consents = append(s.consents, &copy)
	for _, ch := range choices {
		chCopy := *ch
		s.choices[ch.ConsentID] = append(s.choices[ch.ConsentID], &chCopy)
	}
	if entry != nil {
		if err := s.AppendAudit(entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubStore) GetConsentByID(id string) (*Consent, error) {
	for _, c := range s.consents {
		if c.ID == id {
			copy := *c
			return &copy, nil
		}
	}
	return nil, nil
}

func (s *stubStore) ListConsentsByParticipant(studyID, participantID string) ([]*Consent, error) {
	var out []*Consent
	for _, c := range s.consents {
		if c.StudyID == studyID && c.ParticipantID == participantID {
			copy := *c
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *stubStore) ListConsentsByStudy(studyID string) ([]*Consent, error) {
	var out []*Consent
	for _, c := range s.consents {
		if c.StudyID == studyID {
			copy := *c
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *stubStore) ListChoices(consentID string) ([]*ConsentChoice, error) {
	var out []*ConsentChoice
	for _, ch := range s.choices[consentID] {
		copy := *ch
		out = append(out, &copy)
	}
	return out, nil
}

func (s *stubStore) LatestAudit(studyID string) (*AuditEntry, error) {
	var latest *AuditEntry
	for _, e := range s.audits {
		if e.StudyID == studyID {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	copy := *latest
	return &copy, nil
}

func (s *stubStore) AppendAudit(e *AuditEntry) error {
	s.auditSeq++
	e.ID = s.auditSeq
	copy := *e
	s.audits = append(s.audits, &copy)
	return nil
}

func (s *stubStore) ListAudit(studyID string) ([]*AuditEntry, error) {
	var out []*AuditEntry
	for _, e := range s.audits {
		if e.StudyID == studyID {
			copy := *e
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *stubStore) AddUser(u *User) error {
	copy := *u
	s.users[u.ID] = &copy
	return nil
}

func (s *stubStore) FindUserByEmail(email string) (*User, error) {
	for _, u := range s.users {
		if u.Email == email {
			copy := *u
			return &copy, nil
		}
	}
	return nil, nil
}

func (s *stubStore) AllowExport(ownerID string, minInterval time.Duration) bool {
	return s.exportOK
}

func (s *stubStore) auditActions(studyID string) []string {
	var out []string
	for _, e := range s.audits {
		if e.StudyID == studyID {
			out = append(out, e.Action)
		}
	}
	return out
}

var (
	_ AuditStore      = (*stubStore)(nil)
	_ StudyStore      = (*stubStore)(nil)
	_ CategoryStore   = (*stubStore)(nil)
	_ EnrollmentStore = (*stubStore)(nil)
	_ ConsentStore    = (*stubStore)(nil)
	_ ExportStore     = (*stubStore)(nil)
	_ AuthStore       = (*stubStore)(nil)
)
