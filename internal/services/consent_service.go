package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

const receiptSchema = "trialconsent.receipt/v1"

type ConsentStore interface {
	GetStudy(id string) (*Study, error)
	GetParticipant(id string) (*Participant, error)
	ListCategories(studyID string) ([]*DataCategory, error)
	MaxConsentVersion(studyID, participantID string) (int, error)
	// AddConsentWithChoices persists the consent row, its choices and the
	// audit entry as one atomic unit.
	AddConsentWithChoices(c *Consent, choices []*ConsentChoice, entry *AuditEntry) error
	GetConsentByID(id string) (*Consent, error)
	ListConsentsByParticipant(studyID, participantID string) ([]*Consent, error)
	ListChoices(consentID string) ([]*ConsentChoice, error)
}

// TxAuditAppender extends plain appends with a commit hook so a chain entry
// can be persisted inside the caller's transaction.
type TxAuditAppender interface {
	AuditAppender
	AppendWith(studyID, actorRole, actorID, action string, details map[string]any, commit func(*AuditEntry) error) (*AuditEntry, error)
}

// ConsentService turns submitted decisions into immutable, hash-receipted
// consent versions. Versions per (study, participant) are gapless from 1;
// the per-pair lock keeps the max-version read and the insert together.
type ConsentService struct {
	store ConsentStore
	audit TxAuditAppender
	now   func() time.Time
	idGen func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Receipt is the canonical body handed to the participant. ReceiptHash is
// computed over the JSON serialization with the hash field left empty.
type Receipt struct {
	Schema               string          `json:"schema"`
	StudySlug            string          `json:"study_slug"`
	StudyTitle           string          `json:"study_title"`
	Version              int             `json:"version"`
	Contact              string          `json:"contact,omitempty"`
	ParticipantID        string          `json:"participant_id"`
	Choices              []ReceiptChoice `json:"choices"`
	RetentionDefaultDays int             `json:"retention_default_days,omitempty"`
	EffectiveAt          string          `json:"effective_at"`
	Withdrawal           *string         `json:"withdrawal"`
	ReceiptHash          string          `json:"receipt_hash,omitempty"`
}

type ReceiptChoice struct {
	Category string `json:"category"`
	Allowed  bool   `json:"allowed"`
}

func NewConsentService(store ConsentStore, audit TxAuditAppender) *ConsentService {
	return &ConsentService{
		store: store,
		audit: audit,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
		locks: map[string]*sync.Mutex{},
	}
}

func (s *ConsentService) pairLock(studyID, participantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := studyID + "\x00" + participantID
	l := s.locks[key]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// RecordDecision writes the next consent version. Decisions are keyed by
// category id; entries for categories not on the study are ignored, required
// categories are force-allowed, and a withdrawal forces every choice to
// denied and stamps WithdrawnAt.
func (s *ConsentService) RecordDecision(studyID, participantID string, decisions map[string]bool, isWithdrawal bool) (*Consent, error) {
	st, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("study not found")
	}
	if participantID == "" {
		return nil, NewInvalidError("participant id required")
	}
	p, err := s.store.GetParticipant(participantID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	cats, err := s.store.ListCategories(studyID)
	if err != nil {
		return nil, err
	}

	l := s.pairLock(studyID, participantID)
	l.Lock()
	defer l.Unlock()

	max, err := s.store.MaxConsentVersion(studyID, participantID)
	if err != nil {
		return nil, err
	}
	version := max + 1

	effectiveAt := s.now().UTC()
	granted := false
	receiptChoices := make([]ReceiptChoice, 0, len(cats))
	choices := make([]*ConsentChoice, 0, len(cats))
	consentID := s.idGen()
	for _, cat := range cats {
		allowed := decisions[cat.ID]
		if cat.Required {
			allowed = true
		}
		if isWithdrawal {
			allowed = false
		}
		if allowed {
			granted = true
		}
		receiptChoices = append(receiptChoices, ReceiptChoice{Category: cat.Name, Allowed: allowed})
		choices = append(choices, &ConsentChoice{ConsentID: consentID, CategoryID: cat.ID, Allowed: allowed})
	}

	receipt := Receipt{
		Schema:               receiptSchema,
		StudySlug:            st.Slug,
		StudyTitle:           st.Title,
		Version:              version,
		Contact:              st.Contact,
		ParticipantID:        participantID,
		Choices:              receiptChoices,
		RetentionDefaultDays: st.RetentionDefaultDays,
		EffectiveAt:          effectiveAt.Format(time.RFC3339Nano),
	}
	var withdrawnAt *time.Time
	if isWithdrawal {
		ts := effectiveAt
		withdrawnAt = &ts
		receipt.Withdrawal = &receipt.EffectiveAt
	}
	hash, err := receiptHash(receipt)
	if err != nil {
		return nil, err
	}
	receipt.ReceiptHash = hash
	stored, err := json.Marshal(receipt)
	if err != nil {
		return nil, err
	}

	consent := &Consent{
		ID:            consentID,
		StudyID:       studyID,
		ParticipantID: participantID,
		Version:       version,
		Granted:       granted,
		WithdrawnAt:   withdrawnAt,
		ReceiptHash:   hash,
		ReceiptJSON:   string(stored),
		CreatedAt:     effectiveAt,
	}

	action := ActionConsentGiven
	switch {
	case isWithdrawal:
		action = ActionWithdrawn
	case version > 1:
		action = ActionConsentEdited
	}
	details := map[string]any{"participant_id": participantID, "version": version, "granted": granted}
	_, err = s.audit.AppendWith(studyID, "participant", participantID, action, details, func(entry *AuditEntry) error {
		return s.store.AddConsentWithChoices(consent, choices, entry)
	})
	if err != nil {
		return nil, err
	}
	return consent, nil
}

// Withdraw records a new all-denied version; prior versions stay readable.
func (s *ConsentService) Withdraw(studyID, participantID string) (*Consent, error) {
	return s.RecordDecision(studyID, participantID, nil, true)
}

// receiptHash serializes the receipt with the hash field cleared and returns
// "sha256:" plus the hex digest of that body.
func receiptHash(r Receipt) (string, error) {
	r.ReceiptHash = ""
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// VerifyReceipt recomputes the hash over the stored body, excluding the hash
// field, and compares it to the embedded value.
func VerifyReceipt(receiptJSON string) (bool, error) {
	var r Receipt
	if err := json.Unmarshal([]byte(receiptJSON), &r); err != nil {
		return false, NewInvalidError("malformed receipt body")
	}
	embedded := r.ReceiptHash
	if embedded == "" {
		return false, nil
	}
	recomputed, err := receiptHash(r)
	if err != nil {
		return false, err
	}
	return recomputed == embedded, nil
}

// History returns every consent version for the pair, newest last, after
// checking the participant's self token.
func (s *ConsentService) History(studyID, participantID, token string) ([]*Consent, error) {
	p, err := s.store.GetParticipant(participantID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.SelfToken == "" || token != p.SelfToken {
		return nil, NewForbiddenError("forbidden")
	}
	return s.store.ListConsentsByParticipant(studyID, participantID)
}

// Receipt fetches one consent's receipt for its participant and records the
// download on the study chain.
func (s *ConsentService) Receipt(consentID, participantID, token string) (*Consent, error) {
	p, err := s.store.GetParticipant(participantID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.SelfToken == "" || token != p.SelfToken {
		return nil, NewForbiddenError("forbidden")
	}
	c, err := s.store.GetConsentByID(consentID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.ParticipantID != participantID {
		return nil, NewNotFoundError("consent not found")
	}
	_, err = s.audit.Append(c.StudyID, "participant", participantID, ActionReceiptDownloaded, map[string]any{"consent_id": c.ID, "version": c.Version})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// StudyConsents lists a participant's versions for the owning researcher.
func (s *ConsentService) StudyConsents(studyID, ownerID, participantID string) ([]*Consent, error) {
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
	return s.store.ListConsentsByParticipant(studyID, participantID)
}

// Choices returns the per-category rows for one consent version.
func (s *ConsentService) Choices(consentID string) ([]*ConsentChoice, error) {
	return s.store.ListChoices(consentID)
}
