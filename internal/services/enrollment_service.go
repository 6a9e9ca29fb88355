package services

import (
	"crypto/rand"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EnrollmentStore interface {
	GetStudy(id string) (*Study, error)
	UpdateStudy(st *Study) error
	AddParticipant(p *Participant) error
	GetParticipant(id string) (*Participant, error)
	GetEnrollment(studyID, participantID string) (*Enrollment, error)
	AddEnrollment(e *Enrollment) error
	DeleteEnrollment(studyID, participantID string) (bool, error)
	ListEnrollments(studyID string) ([]*Enrollment, error)
}

type EnrollmentService struct {
	store   EnrollmentStore
	audit   AuditAppender
	now     func() time.Time
	idGen   func() string
	codeGen func() string
}

// JoinResult reports the enrollment plus the participant record, including
// the self token when the participant was created during this join.
type JoinResult struct {
	Enrollment  *Enrollment
	Participant *Participant
	Created     bool
}

func NewEnrollmentService(store EnrollmentStore, audit AuditAppender) *EnrollmentService {
	return &EnrollmentService{
		store:   store,
		audit:   audit,
		now:     func() time.Time { return time.Now().UTC() },
		idGen:   func() string { return shortID(12) },
		codeGen: func() string { return JoinCode(8) },
	}
}

// Join admits a participant into a study. Draft studies are invisible; invite
// studies with a configured code require an exact match after trimming and
// upper-casing. Joining twice is a no-op success.
func (s *EnrollmentService) Join(studyID, participantID, suppliedCode string) (*JoinResult, error) {
	st, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if st == nil || st.Status == StudyStatusDraft {
		return nil, NewNotFoundError("study not found")
	}
	if st.Status == StudyStatusInvite && st.JoinCode != "" {
		code := strings.ToUpper(strings.TrimSpace(suppliedCode))
		if code != st.JoinCode {
			return nil, NewConflictError("invalid join code")
		}
	}

	var p *Participant
	created := false
	if participantID != "" {
		p, err = s.store.GetParticipant(participantID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, NewNotFoundError("participant not found")
		}
	} else {
		p = &Participant{ID: s.idGen(), SelfToken: selfToken(24), CreatedAt: s.now()}
		if err := s.store.AddParticipant(p); err != nil {
			return nil, err
		}
		created = true
	}

	existing, err := s.store.GetEnrollment(studyID, p.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &JoinResult{Enrollment: existing, Participant: p, Created: created}, nil
	}
	e := &Enrollment{StudyID: studyID, ParticipantID: p.ID, CreatedAt: s.now()}
	if err := s.store.AddEnrollment(e); err != nil {
		return nil, err
	}
	if _, err := s.audit.Append(studyID, "participant", p.ID, ActionEnrolled, map[string]any{"participant_id": p.ID}); err != nil {
		return nil, err
	}
	return &JoinResult{Enrollment: e, Participant: p, Created: created}, nil
}

// Unenroll drops the enrollment row regardless of study status. Consent
// history stays. Removing an absent enrollment is a silent no-op.
func (s *EnrollmentService) Unenroll(studyID, participantID string) error {
	st, err := s.store.GetStudy(studyID)
	if err != nil {
		return err
	}
	if st == nil {
		return NewNotFoundError("study not found")
	}
	removed, err := s.store.DeleteEnrollment(studyID, participantID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	_, err = s.audit.Append(studyID, "participant", participantID, ActionUnenrolled, map[string]any{"participant_id": participantID})
	return err
}

// RegenerateJoinCode replaces the study's code immediately; the previous code
// stops admitting the moment the new one is stored.
func (s *EnrollmentService) RegenerateJoinCode(studyID, ownerID string) (string, error) {
	st, err := s.store.GetStudy(studyID)
	if err != nil {
		return "", err
	}
	if st == nil {
		return "", NewNotFoundError("study not found")
	}
	if st.OwnerID != ownerID {
		return "", NewForbiddenError("forbidden")
	}
	st.JoinCode = s.codeGen()
	if err := s.store.UpdateStudy(st); err != nil {
		return "", err
	}
	if _, err := s.audit.Append(studyID, "researcher", ownerID, ActionJoinCodeRegenerated, nil); err != nil {
		return "", err
	}
	return st.JoinCode, nil
}

func (s *EnrollmentService) ListEnrollments(studyID, ownerID string) ([]*Enrollment, error) {
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
	return s.store.ListEnrollments(studyID)
}

const joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// JoinCode returns an uppercase alphanumeric token of length n.
func JoinCode(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Printf("join code: %v", err)
		return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:n])
	}
	for i := range b {
		b[i] = joinCodeAlphabet[int(b[i])%len(joinCodeAlphabet)]
	}
	return string(b)
}

func selfToken(n int) string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")[:n]
}
