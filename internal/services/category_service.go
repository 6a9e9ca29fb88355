package services

import (
	"strings"
	"time"
)

type CategoryStore interface {
	GetStudy(id string) (*Study, error)
	ListCategories(studyID string) ([]*DataCategory, error)
	AddCategory(c *DataCategory) error
	UpdateCategory(c *DataCategory) error
}

// defaultCategories seed studies that were created with fewer than the three
// categories every consent form renders.
var defaultCategories = []DataCategory{
	{Name: "Email", Description: "Contact email address"},
	{Name: "Usage Logs", Description: "Application usage logs"},
	{Name: "Accelerometer", Description: "Device accelerometer readings"},
}

type CategoryService struct {
	store CategoryStore
	audit AuditAppender
	now   func() time.Time
	idGen func() string
}

// CategoryEdit is one entry of a validated category-edit list. An empty ID
// creates a category; a set ID updates the existing row in place so historic
// consent choices keep pointing at it.
type CategoryEdit struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Required      bool   `json:"required"`
	RetentionDays int    `json:"retention_days,omitempty"`
}

func NewCategoryService(store CategoryStore, audit AuditAppender) *CategoryService {
	return &CategoryService{
		store: store,
		audit: audit,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(8) },
	}
}

// EnsureMinimumCategories returns the study's categories in creation order,
// synthesizing defaults first when fewer than three exist. Running it twice
// is a no-op the second time.
func (s *CategoryService) EnsureMinimumCategories(studyID string) ([]*DataCategory, error) {
	st, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("study not found")
	}
	cats, err := s.store.ListCategories(studyID)
	if err != nil {
		return nil, err
	}
	if len(cats) >= 3 {
		return cats, nil
	}
	used := map[string]bool{}
	for _, c := range cats {
		used[strings.ToLower(c.Name)] = true
	}
	count := len(cats)
	for _, def := range defaultCategories {
		if count >= 3 {
			break
		}
		if used[strings.ToLower(def.Name)] {
			continue
		}
		cat := &DataCategory{
			ID:          s.idGen(),
			StudyID:     studyID,
			Name:        def.Name,
			Description: def.Description,
			CreatedAt:   s.now(),
		}
		if err := s.store.AddCategory(cat); err != nil {
			return nil, err
		}
		used[strings.ToLower(def.Name)] = true
		count++
	}
	return s.store.ListCategories(studyID)
}

// ApplyEdits updates categories by id and appends the new ones. Unknown ids
// are rejected rather than recreated.
func (s *CategoryService) ApplyEdits(studyID, ownerID string, edits []CategoryEdit) ([]*DataCategory, error) {
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
	existing, err := s.store.ListCategories(studyID)
	if err != nil {
		return nil, err
	}
	byID := map[string]*DataCategory{}
	for _, c := range existing {
		byID[c.ID] = c
	}
	for _, edit := range edits {
		name := strings.TrimSpace(edit.Name)
		if name == "" {
			return nil, NewInvalidError("category name required")
		}
		if edit.ID == "" {
			cat := &DataCategory{
				ID:            s.idGen(),
				StudyID:       studyID,
				Name:          name,
				Description:   strings.TrimSpace(edit.Description),
				Required:      edit.Required,
				RetentionDays: edit.RetentionDays,
				CreatedAt:     s.now(),
			}
			if err := s.store.AddCategory(cat); err != nil {
				return nil, err
			}
			continue
		}
		cat := byID[edit.ID]
		if cat == nil {
			return nil, NewInvalidError("unknown category id " + edit.ID)
		}
		cat.Name = name
		cat.Description = strings.TrimSpace(edit.Description)
		cat.Required = edit.Required
		cat.RetentionDays = edit.RetentionDays
		if err := s.store.UpdateCategory(cat); err != nil {
			return nil, err
		}
	}
	if _, err := s.audit.Append(studyID, "researcher", ownerID, ActionStudyUpdated, map[string]any{"categories": len(edits)}); err != nil {
		return nil, err
	}
	return s.store.ListCategories(studyID)
}
