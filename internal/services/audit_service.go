package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type AuditStore interface {
	LatestAudit(studyID string) (*AuditEntry, error)
	AppendAudit(e *AuditEntry) error
	ListAudit(studyID string) ([]*AuditEntry, error)
}

// AuditService maintains one append-only hash chain per study. Every append
// takes the study's lock across the read of the previous hash and the insert,
// so two writers can never fork the chain.
type AuditService struct {
	store AuditStore
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		locks: map[string]*sync.Mutex{},
	}
}

func (s *AuditService) studyLock(studyID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.locks[studyID]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[studyID] = l
	}
	return l
}

// Append writes the next chain entry for the study.
func (s *AuditService) Append(studyID, actorRole, actorID, action string, details map[string]any) (*AuditEntry, error) {
	return s.AppendWith(studyID, actorRole, actorID, action, details, s.store.AppendAudit)
}

// AppendWith builds the next entry under the study lock and hands it to
// commit, which must persist it (typically inside the caller's transaction
// together with the business rows). The entry is chained only if commit
// returns nil.
func (s *AuditService) AppendWith(studyID, actorRole, actorID, action string, details map[string]any, commit func(*AuditEntry) error) (*AuditEntry, error) {
	if studyID == "" {
		return nil, NewInvalidError("study id required")
	}
	if action == "" {
		return nil, NewInvalidError("action required")
	}
	l := s.studyLock(studyID)
	l.Lock()
	defer l.Unlock()

	prev, err := s.store.LatestAudit(studyID)
	if err != nil {
		return nil, err
	}
	prevHash := ""
	if prev != nil {
		prevHash = prev.EntryHash
	}
	createdAt := s.now().UTC()
	entry := &AuditEntry{
		StudyID:   studyID,
		ActorRole: actorRole,
		ActorID:   actorID,
		Action:    action,
		Details:   details,
		PrevHash:  prevHash,
		CreatedAt: createdAt,
	}
	hash, err := entryHash(entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash
	if err := commit(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// entryHash recomputes the hash from the entry's stored fields only.
func entryHash(e *AuditEntry) (string, error) {
	details, err := canonicalJSON(e.Details)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(e.PrevHash + e.Action + details + e.CreatedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON serializes details deterministically. encoding/json emits map
// keys in sorted order, which is the canonical form the chain relies on.
func canonicalJSON(details map[string]any) (string, error) {
	if details == nil {
		return "null", nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ChainReport is the outcome of a verification pass.
type ChainReport struct {
	StudyID string `json:"study_id"`
	Entries int    `json:"entries"`
	OK      bool   `json:"ok"`
	BadID   int64  `json:"bad_entry_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Verify walks the stored chain oldest to newest, recomputing every entry
// hash and checking each prev-hash link. A mismatch is reported, never
// repaired.
func (s *AuditService) Verify(studyID string) (*ChainReport, error) {
	entries, err := s.store.ListAudit(studyID)
	if err != nil {
		return nil, err
	}
	report := &ChainReport{StudyID: studyID, Entries: len(entries), OK: true}
	prevHash := ""
	for i, e := range entries {
		if e.PrevHash != prevHash {
			report.OK = false
			report.BadID = e.ID
			if i == 0 {
				report.Reason = "first entry has a prev hash"
			} else {
				report.Reason = "prev hash does not match previous entry"
			}
			return report, NewIntegrityError(fmt.Sprintf("audit chain broken at entry %d: %s", e.ID, report.Reason))
		}
		recomputed, err := entryHash(e)
		if err != nil {
			return nil, err
		}
		if recomputed != e.EntryHash {
			report.OK = false
			report.BadID = e.ID
			report.Reason = "entry hash does not recompute"
			return report, NewIntegrityError(fmt.Sprintf("audit chain broken at entry %d: %s", e.ID, report.Reason))
		}
		prevHash = e.EntryHash
	}
	return report, nil
}

func (s *AuditService) List(studyID string) ([]*AuditEntry, error) {
	return s.store.ListAudit(studyID)
}

var _ AuditAppender = (*AuditService)(nil)
