package api

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryStore backs tests and codeless dev boots. Audit ids are assigned
// sequentially so chain order survives round trips.
type memoryStore struct {
	mu           sync.RWMutex
	studies      map[string]*Study
	categories   map[string][]*DataCategory
	participants map[string]*Participant
	enrollments  map[string]*Enrollment
	consents     map[string]*Consent
	choices      map[string][]*ConsentChoice
	audit        map[string][]*AuditEntry
	auditSeq     int64
	usersByEmail map[string]*User
	lastExport   map[string]time.Time
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		studies:      map[string]*Study{},
		categories:   map[string][]*DataCategory{},
		participants: map[string]*Participant{},
		enrollments:  map[string]*Enrollment{},
		consents:     map[string]*Consent{},
		choices:      map[string][]*ConsentChoice{},
		audit:        map[string][]*AuditEntry{},
		usersByEmail: map[string]*User{},
		lastExport:   map[string]time.Time{},
	}
}

func enrollKey(studyID, participantID string) string { return studyID + "\x00" + participantID }

func (s *memoryStore) AddStudy(st *Study) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *st
	s.studies[st.ID] = &copy
	return nil
}

func (s *memoryStore) UpdateStudy(st *Study) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *st
	s.studies[st.ID] = &copy
	return nil
}

func (s *memoryStore) DeleteStudy(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.studies, id)
	delete(s.categories, id)
	delete(s.audit, id)
	for k, e := range s.enrollments {
		if e.StudyID == id {
			delete(s.enrollments, k)
		}
	}
	for cid, c := range s.consents {
		if c.StudyID == id {
			delete(s.consents, cid)
			delete(s.choices, cid)
		}
	}
	return nil
}

func (s *memoryStore) GetStudy(id string) *Study {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.studies[id]
	if st == nil {
		return nil
	}
	copy := *st
	return &copy
}

func (s *memoryStore) GetStudyBySlug(slug string) *Study {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.studies {
		if st.Slug == slug {
			copy := *st
			return &copy
		}
	}
	return nil
}

func (s *memoryStore) ListStudiesByOwner(ownerID string) []*Study {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Study{}
	for _, st := range s.studies {
		if st.OwnerID == ownerID {
			copy := *st
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryStore) AddCategory(c *DataCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *c
	s.categories[c.StudyID] = append(s.categories[c.StudyID], &copy)
	return nil
}

func (s *memoryStore) UpdateCategory(c *DataCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.categories[c.StudyID] {
		if existing.ID == c.ID {
			copy := *c
			copy.CreatedAt = existing.CreatedAt
			s.categories[c.StudyID][i] = &copy
			return nil
		}
	}
	return nil
}

func (s *memoryStore) ListCategories(studyID string) []*DataCategory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cats := s.categories[studyID]
	out := make([]*DataCategory, 0, len(cats))
	for _, c := range cats {
		copy := *c
		out = append(out, &copy)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memoryStore) AddParticipant(p *Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *p
	s.participants[p.ID] = &copy
	return nil
}

func (s *memoryStore) GetParticipant(id string) *Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.participants[id]
	if p == nil {
		return nil
	}
	copy := *p
	return &copy
}

func (s *memoryStore) AddEnrollment(e *Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := enrollKey(e.StudyID, e.ParticipantID)
	if _, ok := s.enrollments[key]; ok {
		return nil
	}
	copy := *e
	s.enrollments[key] = &copy
	return nil
}

func (s *memoryStore) GetEnrollment(studyID, participantID string) *Enrollment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.enrollments[enrollKey(studyID, participantID)]
	if e == nil {
		return nil
	}
	copy := *e
	return &copy
}

func (s *memoryStore) DeleteEnrollment(studyID, participantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := enrollKey(studyID, participantID)
	if _, ok := s.enrollments[key]; !ok {
		return false
	}
	delete(s.enrollments, key)
	return true
}

func (s *memoryStore) ListEnrollments(studyID string) []*Enrollment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Enrollment{}
	for _, e := range s.enrollments {
		if e.StudyID == studyID {
			copy := *e
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memoryStore) MaxConsentVersion(studyID, participantID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, c := range s.consents {
		if c.StudyID == studyID && c.ParticipantID == participantID && c.Version > max {
			max = c.Version
		}
	}
	return max
}

func (s *memoryStore) AddConsentWithChoices(c *Consent, choices []*ConsentChoice, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *c
	s.consents[c.ID] = &copy
	stored := make([]*ConsentChoice, 0, len(choices))
	for _, ch := range choices {
		cc := *ch
		stored = append(stored, &cc)
	}
	s.choices[c.ID] = stored
	if entry != nil {
		s.appendAuditLocked(entry)
	}
	return nil
}

func (s *memoryStore) GetConsentByID(id string) *Consent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.consents[id]
	if c == nil {
		return nil
	}
	copy := *c
	return &copy
}

func (s *memoryStore) ListConsentsByParticipant(studyID, participantID string) []*Consent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Consent{}
	for _, c := range s.consents {
		if c.StudyID == studyID && c.ParticipantID == participantID {
			copy := *c
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (s *memoryStore) ListConsentsByStudy(studyID string) []*Consent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Consent{}
	for _, c := range s.consents {
		if c.StudyID == studyID {
			copy := *c
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParticipantID == out[j].ParticipantID {
			return out[i].Version < out[j].Version
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}

func (s *memoryStore) ListChoices(consentID string) []*ConsentChoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ConsentChoice, 0, len(s.choices[consentID]))
	for _, ch := range s.choices[consentID] {
		copy := *ch
		out = append(out, &copy)
	}
	return out
}

func (s *memoryStore) appendAuditLocked(e *AuditEntry) {
	s.auditSeq++
	copy := *e
	copy.ID = s.auditSeq
	e.ID = s.auditSeq
	s.audit[e.StudyID] = append(s.audit[e.StudyID], &copy)
}

func (s *memoryStore) LatestAudit(studyID string) *AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.audit[studyID]
	if len(entries) == 0 {
		return nil
	}
	copy := *entries[len(entries)-1]
	return &copy
}

func (s *memoryStore) AppendAudit(e *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendAuditLocked(e)
	return nil
}

func (s *memoryStore) ListAudit(studyID string) []*AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditEntry, 0, len(s.audit[studyID]))
	for _, e := range s.audit[studyID] {
		copy := *e
		out = append(out, &copy)
	}
	return out
}

func (s *memoryStore) AddUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *u
	s.usersByEmail[strings.ToLower(u.Email)] = &copy
	return nil
}

func (s *memoryStore) FindUserByEmail(email string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.usersByEmail[strings.ToLower(email)]
	if u == nil {
		return nil
	}
	copy := *u
	return &copy
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) AllowExport(ownerID string, minInterval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastExport[ownerID]
	if !last.IsZero() && time.Since(last) < minInterval {
		return false
	}
	s.lastExport[ownerID] = time.Now().UTC()
	return true
}
