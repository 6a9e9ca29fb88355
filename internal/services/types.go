package services

import "time"

const (
	StudyStatusDraft  = "draft"
	StudyStatusPublic = "public"
	StudyStatusInvite = "invite"
)

// Audit actions recorded on a study's chain.
const (
	ActionStudyCreated        = "STUDY_CREATED"
	ActionStudyUpdated        = "STUDY_UPDATED"
	ActionStudyCloned         = "STUDY_CLONED"
	ActionEnrolled            = "ENROLLED"
	ActionUnenrolled          = "UNENROLLED"
	ActionConsentGiven        = "CONSENT_GIVEN"
	ActionConsentEdited       = "CONSENT_EDITED"
	ActionWithdrawn           = "WITHDRAWN"
	ActionFileUploaded        = "FILE_UPLOADED"
	ActionJoinCodeRegenerated = "JOIN_CODE_REGENERATED"
	ActionReceiptDownloaded   = "RECEIPT_DOWNLOADED"
)

type Study struct {
	ID                   string    `json:"id"`
	Slug                 string    `json:"slug"`
	OwnerID              string    `json:"owner_id,omitempty"`
	Title                string    `json:"title"`
	Summary              string    `json:"summary,omitempty"`
	Purpose              string    `json:"purpose,omitempty"`
	Contact              string    `json:"contact,omitempty"`
	Status               string    `json:"status"`
	JoinCode             string    `json:"join_code,omitempty"`
	RetentionDefaultDays int       `json:"retention_default_days,omitempty"`
	CreatedAt            time.Time `json:"created_at,omitempty"`
}

type DataCategory struct {
	ID            string    `json:"id"`
	StudyID       string    `json:"study_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Required      bool      `json:"required"`
	RetentionDays int       `json:"retention_days,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

type Participant struct {
	ID        string    `json:"id"`
	SelfToken string    `json:"self_token,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Enrollment struct {
	StudyID       string    `json:"study_id"`
	ParticipantID string    `json:"participant_id"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// Consent is one immutable version of a participant's decisions. Rows are
// append-only: a new decision creates the next version, never an update.
type Consent struct {
	ID            string     `json:"id"`
	StudyID       string     `json:"study_id"`
	ParticipantID string     `json:"participant_id"`
	Version       int        `json:"version"`
	Granted       bool       `json:"granted"`
	WithdrawnAt   *time.Time `json:"withdrawn_at,omitempty"`
	ReceiptHash   string     `json:"receipt_hash"`
	ReceiptJSON   string     `json:"receipt_json,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type ConsentChoice struct {
	ConsentID  string `json:"consent_id"`
	CategoryID string `json:"category_id"`
	Allowed    bool   `json:"allowed"`
}

// AuditEntry is one link of a study's hash chain. EntryHash covers PrevHash,
// Action, the canonical JSON of Details and the RFC3339Nano CreatedAt, so the
// stored fields alone reproduce it.
type AuditEntry struct {
	ID        int64          `json:"id,omitempty"`
	StudyID   string         `json:"study_id"`
	ActorRole string         `json:"actor_role"`
	ActorID   string         `json:"actor_id,omitempty"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prev_hash,omitempty"`
	EntryHash string         `json:"entry_hash"`
	CreatedAt time.Time      `json:"created_at"`
}

type User struct {
	ID        string
	Email     string
	PassHash  []byte
	CreatedAt time.Time
}

// AuditAppender is what the domain services use to reach the chain. The
// concrete AuditService serializes appends per study.
type AuditAppender interface {
	Append(studyID, actorRole, actorID, action string, details map[string]any) (*AuditEntry, error)
}
