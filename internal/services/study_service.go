package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ErrorCode string

const (
	ErrorInvalid      ErrorCode = "invalid"
	ErrorForbidden    ErrorCode = "forbidden"
	ErrorNotFound     ErrorCode = "not_found"
	ErrorConflict     ErrorCode = "conflict"
	ErrorUnauthorized ErrorCode = "unauthorized"
	ErrorIntegrity    ErrorCode = "integrity_failure"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error   { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewForbiddenError(msg string) error { return &ServiceError{Code: ErrorForbidden, Message: msg} }
func NewNotFoundError(msg string) error  { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error  { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func NewIntegrityError(msg string) error {
	return &ServiceError{Code: ErrorIntegrity, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

type StudyStore interface {
	AddStudy(st *Study) error
	GetStudy(id string) (*Study, error)
	GetStudyBySlug(slug string) (*Study, error)
	UpdateStudy(st *Study) error
	DeleteStudy(id string) error
	ListStudiesByOwner(ownerID string) ([]*Study, error)
	ListCategories(studyID string) ([]*DataCategory, error)
	AddCategory(c *DataCategory) error
}

type StudyService struct {
	store   StudyStore
	audit   AuditAppender
	now     func() time.Time
	idGen   func() string
	codeGen func() string
}

// StudyInput carries the mutable study fields from the handler layer.
type StudyInput struct {
	Title                string
	Summary              string
	Purpose              string
	Contact              string
	Status               string
	RetentionDefaultDays int
}

func NewStudyService(store StudyStore, audit AuditAppender) *StudyService {
	return &StudyService{
		store:   store,
		audit:   audit,
		now:     func() time.Time { return time.Now().UTC() },
		idGen:   func() string { return shortID(8) },
		codeGen: func() string { return JoinCode(8) },
	}
}

func validStatus(s string) bool {
	switch s {
	case StudyStatusDraft, StudyStatusPublic, StudyStatusInvite:
		return true
	}
	return false
}

func (s *StudyService) CreateStudy(ownerID string, in StudyInput, categories []CategoryEdit) (*Study, error) {
	if ownerID == "" {
		return nil, NewForbiddenError("unauthorized")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, NewInvalidError("title required")
	}
	status := in.Status
	if status == "" {
		status = StudyStatusDraft
	}
	if !validStatus(status) {
		return nil, NewInvalidError("invalid status")
	}
	slug, err := s.uniqueSlug(Slugify(title))
	if err != nil {
		return nil, err
	}
	st := &Study{
		ID:                   s.idGen(),
		Slug:                 slug,
		OwnerID:              ownerID,
		Title:                title,
		Summary:              strings.TrimSpace(in.Summary),
		Purpose:              strings.TrimSpace(in.Purpose),
		Contact:              strings.TrimSpace(in.Contact),
		Status:               status,
		RetentionDefaultDays: in.RetentionDefaultDays,
		CreatedAt:            s.now(),
	}
	if st.Status == StudyStatusInvite {
		st.JoinCode = s.codeGen()
	}
	if err := s.store.AddStudy(st); err != nil {
		return nil, err
	}
	for _, edit := range categories {
		name := strings.TrimSpace(edit.Name)
		if name == "" {
			continue
		}
		cat := &DataCategory{
			ID:            s.idGen(),
			StudyID:       st.ID,
			Name:          name,
			Description:   strings.TrimSpace(edit.Description),
			Required:      edit.Required,
			RetentionDays: edit.RetentionDays,
			CreatedAt:     s.now(),
		}
		if err := s.store.AddCategory(cat); err != nil {
			return nil, err
		}
	}
	if _, err := s.audit.Append(st.ID, "researcher", ownerID, ActionStudyCreated, map[string]any{"slug": st.Slug, "status": st.Status}); err != nil {
		return nil, err
	}
	return st, nil
}

// uniqueSlug retries with a numeric suffix until the slug is free.
func (s *StudyService) uniqueSlug(base string) (string, error) {
	if base == "" {
		base = "study"
	}
	slug := base
	for i := 2; ; i++ {
		existing, err := s.store.GetStudyBySlug(slug)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *StudyService) GetOwnedStudy(id, ownerID string) (*Study, error) {
	st, err := s.store.GetStudy(id)
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

func (s *StudyService) ListStudies(ownerID string) ([]*Study, error) {
	if ownerID == "" {
		return nil, NewForbiddenError("unauthorized")
	}
	return s.store.ListStudiesByOwner(ownerID)
}

// UpdateStudy applies mutable fields. The slug never changes once assigned.
func (s *StudyService) UpdateStudy(id, ownerID string, in StudyInput) (*Study, error) {
	st, err := s.GetOwnedStudy(id, ownerID)
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(in.Title); v != "" {
		st.Title = v
	}
	st.Summary = strings.TrimSpace(in.Summary)
	st.Purpose = strings.TrimSpace(in.Purpose)
	st.Contact = strings.TrimSpace(in.Contact)
	if in.RetentionDefaultDays > 0 {
		st.RetentionDefaultDays = in.RetentionDefaultDays
	}
	if in.Status != "" {
		if !validStatus(in.Status) {
			return nil, NewInvalidError("invalid status")
		}
		st.Status = in.Status
	}
	if st.Status == StudyStatusInvite && st.JoinCode == "" {
		st.JoinCode = s.codeGen()
	}
	if err := s.store.UpdateStudy(st); err != nil {
		return nil, err
	}
	if _, err := s.audit.Append(st.ID, "researcher", ownerID, ActionStudyUpdated, map[string]any{"status": st.Status}); err != nil {
		return nil, err
	}
	return st, nil
}

// DeleteStudy removes the study and every dependent row, audit chain included,
// so no closing entry is written.
func (s *StudyService) DeleteStudy(id, ownerID string) error {
	if _, err := s.GetOwnedStudy(id, ownerID); err != nil {
		return err
	}
	return s.store.DeleteStudy(id)
}

// CloneStudy copies the study and its categories under a fresh slug. Clones
// start as drafts with no join code; the first chain entry records the source.
func (s *StudyService) CloneStudy(id, ownerID string) (*Study, error) {
	src, err := s.GetOwnedStudy(id, ownerID)
	if err != nil {
		return nil, err
	}
	cats, err := s.store.ListCategories(src.ID)
	if err != nil {
		return nil, err
	}
	slug, err := s.uniqueSlug(src.Slug + "-copy")
	if err != nil {
		return nil, err
	}
	clone := &Study{
		ID:                   s.idGen(),
		Slug:                 slug,
		OwnerID:              ownerID,
		Title:                src.Title,
		Summary:              src.Summary,
		Purpose:              src.Purpose,
		Contact:              src.Contact,
		Status:               StudyStatusDraft,
		RetentionDefaultDays: src.RetentionDefaultDays,
		CreatedAt:            s.now(),
	}
	if err := s.store.AddStudy(clone); err != nil {
		return nil, err
	}
	for _, c := range cats {
		copy := &DataCategory{
			ID:            s.idGen(),
			StudyID:       clone.ID,
			Name:          c.Name,
			Description:   c.Description,
			Required:      c.Required,
			RetentionDays: c.RetentionDays,
			CreatedAt:     s.now(),
		}
		if err := s.store.AddCategory(copy); err != nil {
			return nil, err
		}
	}
	if _, err := s.audit.Append(clone.ID, "researcher", ownerID, ActionStudyCloned, map[string]any{"source": src.ID}); err != nil {
		return nil, err
	}
	return clone, nil
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// Slugify lowers the title and collapses runs of non-alphanumerics to single
// hyphens.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
