package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/openreach/trialconsent/internal/api"
)

type SQLiteStore struct {
	db         *sql.DB
	exportMu   sync.Mutex
	lastExport map[string]time.Time
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{
		db:         db,
		lastExport: map[string]time.Time{},
	}, nil
}

func NewStore(db *sql.DB) (api.Store, error) {
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) logErr(prefix string, err error) {
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Printf("sqlite store: %s: %v", prefix, err)
	}
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func int64ToBool(v int64) bool { return v != 0 }

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullInt(i int) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(i), Valid: true}
}

// Timestamps are stored as RFC3339Nano text. Audit entry hashes cover the
// formatted timestamp, so the same format must survive a write/read cycle.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		log.Printf("sqlite store: parse time %q: %v", s, err)
		return time.Time{}
	}
	return t
}

func encodeDetails(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeDetails(ns sql.NullString) map[string]any {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		log.Printf("sqlite store: decode audit details: %v", err)
		return nil
	}
	return out
}

// --- studies ---

func (s *SQLiteStore) AddStudy(st *api.Study) error {
	_, err := s.db.Exec(`INSERT INTO studies (id, slug, owner_id, title, summary, purpose, contact, status, join_code, retention_default_days, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Slug, st.OwnerID, st.Title, toNullString(st.Summary), toNullString(st.Purpose), toNullString(st.Contact),
		st.Status, toNullString(st.JoinCode), toNullInt(st.RetentionDefaultDays), formatTime(st.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert study: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateStudy(st *api.Study) error {
	_, err := s.db.Exec(`UPDATE studies SET title = ?, summary = ?, purpose = ?, contact = ?, status = ?, join_code = ?, retention_default_days = ? WHERE id = ?`,
		st.Title, toNullString(st.Summary), toNullString(st.Purpose), toNullString(st.Contact),
		st.Status, toNullString(st.JoinCode), toNullInt(st.RetentionDefaultDays), st.ID)
	if err != nil {
		return fmt.Errorf("update study: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteStudy(id string) error {
	// child rows go with the study via ON DELETE CASCADE
	_, err := s.db.Exec(`DELETE FROM studies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete study: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanStudy(row *sql.Row) *api.Study {
	var st api.Study
	var summary, purpose, contact, joinCode sql.NullString
	var retention sql.NullInt64
	var createdAt string
	err := row.Scan(&st.ID, &st.Slug, &st.OwnerID, &st.Title, &summary, &purpose, &contact, &st.Status, &joinCode, &retention, &createdAt)
	if err != nil {
		s.logErr("scan study", err)
		return nil
	}
	st.Summary = summary.String
	st.Purpose = purpose.String
	st.Contact = contact.String
	st.JoinCode = joinCode.String
	st.RetentionDefaultDays = int(retention.Int64)
	st.CreatedAt = parseTime(createdAt)
	return &st
}

const studyColumns = `id, slug, owner_id, title, summary, purpose, contact, status, join_code, retention_default_days, created_at`

func (s *SQLiteStore) GetStudy(id string) *api.Study {
	return s.scanStudy(s.db.QueryRow(`SELECT `+studyColumns+` FROM studies WHERE id = ?`, id))
}

func (s *SQLiteStore) GetStudyBySlug(slug string) *api.Study {
	return s.scanStudy(s.db.QueryRow(`SELECT `+studyColumns+` FROM studies WHERE slug = ?`, slug))
}

func (s *SQLiteStore) ListStudiesByOwner(ownerID string) []*api.Study {
	rows, err := s.db.Query(`SELECT `+studyColumns+` FROM studies WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		s.logErr("list studies", err)
		return nil
	}
	defer rows.Close()
	var out []*api.Study
	for rows.Next() {
		var st api.Study
		var summary, purpose, contact, joinCode sql.NullString
		var retention sql.NullInt64
		var createdAt string
		if err := rows.Scan(&st.ID, &st.Slug, &st.OwnerID, &st.Title, &summary, &purpose, &contact, &st.Status, &joinCode, &retention, &createdAt); err != nil {
			s.logErr("scan study row", err)
			continue
		}
		st.Summary = summary.String
		st.Purpose = purpose.String
		st.Contact = contact.String
		st.JoinCode = joinCode.String
		st.RetentionDefaultDays = int(retention.Int64)
		st.CreatedAt = parseTime(createdAt)
		out = append(out, &st)
	}
	s.logErr("list studies rows", rows.Err())
	return out
}

// --- data categories ---

func (s *SQLiteStore) AddCategory(c *api.DataCategory) error {
	_, err := s.db.Exec(`INSERT INTO data_categories (id, study_id, name, description, required, retention_days, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StudyID, c.Name, toNullString(c.Description), boolToInt64(c.Required), toNullInt(c.RetentionDays), formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateCategory(c *api.DataCategory) error {
	res, err := s.db.Exec(`UPDATE data_categories SET name = ?, description = ?, required = ?, retention_days = ? WHERE id = ? AND study_id = ?`,
		c.Name, toNullString(c.Description), boolToInt64(c.Required), toNullInt(c.RetentionDays), c.ID, c.StudyID)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update category: no row for id %s", c.ID)
	}
	return nil
}

func (s *SQLiteStore) ListCategories(studyID string) []*api.DataCategory {
	rows, err := s.db.Query(`SELECT id, study_id, name, description, required, retention_days, created_at
		FROM data_categories WHERE study_id = ? ORDER BY created_at, id`, studyID)
	if err != nil {
		s.logErr("list categories", err)
		return nil
	}
	defer rows.Close()
	var out []*api.DataCategory
	for rows.Next() {
		var c api.DataCategory
		var desc sql.NullString
		var required int64
		var retention sql.NullInt64
		var createdAt string
		if err := rows.Scan(&c.ID, &c.StudyID, &c.Name, &desc, &required, &retention, &createdAt); err != nil {
			s.logErr("scan category row", err)
			continue
		}
		c.Description = desc.String
		c.Required = int64ToBool(required)
		c.RetentionDays = int(retention.Int64)
		c.CreatedAt = parseTime(createdAt)
		out = append(out, &c)
	}
	s.logErr("list categories rows", rows.Err())
	return out
}

// --- participants & enrollments ---

func (s *SQLiteStore) AddParticipant(p *api.Participant) error {
	_, err := s.db.Exec(`INSERT INTO participants (id, self_token, created_at) VALUES (?, ?, ?)`,
		p.ID, p.SelfToken, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetParticipant(id string) *api.Participant {
	var p api.Participant
	var createdAt string
	err := s.db.QueryRow(`SELECT id, self_token, created_at FROM participants WHERE id = ?`, id).
		Scan(&p.ID, &p.SelfToken, &createdAt)
	if err != nil {
		s.logErr("get participant", err)
		return nil
	}
	p.CreatedAt = parseTime(createdAt)
	return &p
}

func (s *SQLiteStore) AddEnrollment(e *api.Enrollment) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO enrollments (study_id, participant_id, created_at) VALUES (?, ?, ?)`,
		e.StudyID, e.ParticipantID, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEnrollment(studyID, participantID string) *api.Enrollment {
	var e api.Enrollment
	var createdAt string
	err := s.db.QueryRow(`SELECT study_id, participant_id, created_at FROM enrollments WHERE study_id = ? AND participant_id = ?`,
		studyID, participantID).Scan(&e.StudyID, &e.ParticipantID, &createdAt)
	if err != nil {
		s.logErr("get enrollment", err)
		return nil
	}
	e.CreatedAt = parseTime(createdAt)
	return &e
}

func (s *SQLiteStore) DeleteEnrollment(studyID, participantID string) bool {
	res, err := s.db.Exec(`DELETE FROM enrollments WHERE study_id = ? AND participant_id = ?`, studyID, participantID)
	if err != nil {
		s.logErr("delete enrollment", err)
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

func (s *SQLiteStore) ListEnrollments(studyID string) []*api.Enrollment {
	rows, err := s.db.Query(`SELECT study_id, participant_id, created_at FROM enrollments WHERE study_id = ? ORDER BY created_at`, studyID)
	if err != nil {
		s.logErr("list enrollments", err)
		return nil
	}
	defer rows.Close()
	var out []*api.Enrollment
	for rows.Next() {
		var e api.Enrollment
		var createdAt string
		if err := rows.Scan(&e.StudyID, &e.ParticipantID, &createdAt); err != nil {
			s.logErr("scan enrollment row", err)
			continue
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, &e)
	}
	s.logErr("list enrollments rows", rows.Err())
	return out
}

// --- consents ---

func (s *SQLiteStore) MaxConsentVersion(studyID, participantID string) int {
	var v sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(version) FROM consents WHERE study_id = ? AND participant_id = ?`, studyID, participantID).Scan(&v)
	if err != nil {
		s.logErr("max consent version", err)
		return 0
	}
	return int(v.Int64)
}

// AddConsentWithChoices writes the consent row, its per-category choices and
// the audit entry in one transaction. The audit entry receives its assigned
// row id before the method returns.
func (s *SQLiteStore) AddConsentWithChoices(c *api.Consent, choices []*api.ConsentChoice, entry *api.AuditEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin consent tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var withdrawn sql.NullString
	if c.WithdrawnAt != nil {
		withdrawn = sql.NullString{String: formatTime(*c.WithdrawnAt), Valid: true}
	}
	if _, err := tx.Exec(`INSERT INTO consents (id, study_id, participant_id, version, granted, withdrawn_at, receipt_hash, receipt_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StudyID, c.ParticipantID, c.Version, boolToInt64(c.Granted), withdrawn, c.ReceiptHash, c.ReceiptJSON, formatTime(c.CreatedAt)); err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	for _, ch := range choices {
		if _, err := tx.Exec(`INSERT INTO consent_choices (consent_id, category_id, allowed) VALUES (?, ?, ?)`,
			ch.ConsentID, ch.CategoryID, boolToInt64(ch.Allowed)); err != nil {
			return fmt.Errorf("insert consent choice: %w", err)
		}
	}
	if entry != nil {
		id, err := s.insertAudit(tx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit consent tx: %w", err)
	}
	return nil
}

const consentColumns = `id, study_id, participant_id, version, granted, withdrawn_at, receipt_hash, receipt_json, created_at`

func scanConsent(scan func(...any) error) (*api.Consent, error) {
	var c api.Consent
	var granted int64
	var withdrawn sql.NullString
	var createdAt string
	if err := scan(&c.ID, &c.StudyID, &c.ParticipantID, &c.Version, &granted, &withdrawn, &c.ReceiptHash, &c.ReceiptJSON, &createdAt); err != nil {
		return nil, err
	}
	c.Granted = int64ToBool(granted)
	if withdrawn.Valid {
		t := parseTime(withdrawn.String)
		c.WithdrawnAt = &t
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (s *SQLiteStore) GetConsentByID(id string) *api.Consent {
	row := s.db.QueryRow(`SELECT `+consentColumns+` FROM consents WHERE id = ?`, id)
	c, err := scanConsent(row.Scan)
	if err != nil {
		s.logErr("get consent", err)
		return nil
	}
	return c
}

func (s *SQLiteStore) listConsents(query string, args ...any) []*api.Consent {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.logErr("list consents", err)
		return nil
	}
	defer rows.Close()
	var out []*api.Consent
	for rows.Next() {
		c, err := scanConsent(rows.Scan)
		if err != nil {
			s.logErr("scan consent row", err)
			continue
		}
		out = append(out, c)
	}
	s.logErr("list consents rows", rows.Err())
	return out
}

func (s *SQLiteStore) ListConsentsByParticipant(studyID, participantID string) []*api.Consent {
	return s.listConsents(`SELECT `+consentColumns+` FROM consents WHERE study_id = ? AND participant_id = ? ORDER BY version`, studyID, participantID)
}

func (s *SQLiteStore) ListConsentsByStudy(studyID string) []*api.Consent {
	return s.listConsents(`SELECT `+consentColumns+` FROM consents WHERE study_id = ? ORDER BY participant_id, version`, studyID)
}

func (s *SQLiteStore) ListChoices(consentID string) []*api.ConsentChoice {
	rows, err := s.db.Query(`SELECT consent_id, category_id, allowed FROM consent_choices WHERE consent_id = ? ORDER BY category_id`, consentID)
	if err != nil {
		s.logErr("list choices", err)
		return nil
	}
	defer rows.Close()
	var out []*api.ConsentChoice
	for rows.Next() {
		var ch api.ConsentChoice
		var allowed int64
		if err := rows.Scan(&ch.ConsentID, &ch.CategoryID, &allowed); err != nil {
			s.logErr("scan choice row", err)
			continue
		}
		ch.Allowed = int64ToBool(allowed)
		out = append(out, &ch)
	}
	s.logErr("list choices rows", rows.Err())
	return out
}

// --- audit log ---

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) insertAudit(ex execer, e *api.AuditEntry) (int64, error) {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return 0, fmt.Errorf("encode audit details: %w", err)
	}
	res, err := ex.Exec(`INSERT INTO audit_log (study_id, actor_role, actor_id, action, details, prev_hash, entry_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.StudyID, e.ActorRole, toNullString(e.ActorID), e.Action, details, e.PrevHash, e.EntryHash, formatTime(e.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("audit entry id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) AppendAudit(e *api.AuditEntry) error {
	id, err := s.insertAudit(s.db, e)
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

const auditColumns = `id, study_id, actor_role, actor_id, action, details, prev_hash, entry_hash, created_at`

func scanAudit(scan func(...any) error) (*api.AuditEntry, error) {
	var e api.AuditEntry
	var actorID, details sql.NullString
	var createdAt string
	if err := scan(&e.ID, &e.StudyID, &e.ActorRole, &actorID, &e.Action, &details, &e.PrevHash, &e.EntryHash, &createdAt); err != nil {
		return nil, err
	}
	e.ActorID = actorID.String
	e.Details = decodeDetails(details)
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func (s *SQLiteStore) LatestAudit(studyID string) *api.AuditEntry {
	row := s.db.QueryRow(`SELECT `+auditColumns+` FROM audit_log WHERE study_id = ? ORDER BY id DESC LIMIT 1`, studyID)
	e, err := scanAudit(row.Scan)
	if err != nil {
		s.logErr("latest audit", err)
		return nil
	}
	return e
}

func (s *SQLiteStore) ListAudit(studyID string) []*api.AuditEntry {
	rows, err := s.db.Query(`SELECT `+auditColumns+` FROM audit_log WHERE study_id = ? ORDER BY id`, studyID)
	if err != nil {
		s.logErr("list audit", err)
		return nil
	}
	defer rows.Close()
	var out []*api.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows.Scan)
		if err != nil {
			s.logErr("scan audit row", err)
			continue
		}
		out = append(out, e)
	}
	s.logErr("list audit rows", rows.Err())
	return out
}

// --- users ---

func (s *SQLiteStore) AddUser(u *api.User) error {
	_, err := s.db.Exec(`INSERT INTO users (id, email, pass_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PassHash, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindUserByEmail(email string) *api.User {
	var u api.User
	var createdAt string
	err := s.db.QueryRow(`SELECT id, email, pass_hash, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.PassHash, &createdAt)
	if err != nil {
		s.logErr("find user", err)
		return nil
	}
	u.CreatedAt = parseTime(createdAt)
	return &u
}

// Close flushes and closes the underlying connection pool.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- export throttle ---

// AllowExport is tracked in memory: the throttle is a courtesy limit, not a
// durable guarantee, and resets on restart.
func (s *SQLiteStore) AllowExport(ownerID string, minInterval time.Duration) bool {
	s.exportMu.Lock()
	defer s.exportMu.Unlock()
	last, ok := s.lastExport[ownerID]
	now := time.Now()
	if ok && now.Sub(last) < minInterval {
		return false
	}
	s.lastExport[ownerID] = now
	return true
}

var _ api.Store = (*SQLiteStore)(nil)
