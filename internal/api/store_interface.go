package api

import "time"

// Store is the persistence boundary shared by the SQLite store and the
// in-memory store. Reads return nil when the row does not exist; lookup
// failures are logged by the implementation. Writes that the core's
// invariants depend on return errors.
type Store interface {
	AddStudy(st *Study) error
	UpdateStudy(st *Study) error
	DeleteStudy(id string) error
	GetStudy(id string) *Study
	GetStudyBySlug(slug string) *Study
	ListStudiesByOwner(ownerID string) []*Study

	AddCategory(c *DataCategory) error
	UpdateCategory(c *DataCategory) error
	ListCategories(studyID string) []*DataCategory

	AddParticipant(p *Participant) error
	GetParticipant(id string) *Participant

	AddEnrollment(e *Enrollment) error
	GetEnrollment(studyID, participantID string) *Enrollment
	DeleteEnrollment(studyID, participantID string) bool
	ListEnrollments(studyID string) []*Enrollment

	MaxConsentVersion(studyID, participantID string) int
	AddConsentWithChoices(c *Consent, choices []*ConsentChoice, entry *AuditEntry) error
	GetConsentByID(id string) *Consent
	ListConsentsByParticipant(studyID, participantID string) []*Consent
	ListConsentsByStudy(studyID string) []*Consent
	ListChoices(consentID string) []*ConsentChoice

	LatestAudit(studyID string) *AuditEntry
	AppendAudit(e *AuditEntry) error
	ListAudit(studyID string) []*AuditEntry

	AddUser(u *User) error
	FindUserByEmail(email string) *User

	AllowExport(ownerID string, minInterval time.Duration) bool

	// Close releases the backing resources. Safe to call once at shutdown.
	Close() error
}

var _ Store = (*memoryStore)(nil)
