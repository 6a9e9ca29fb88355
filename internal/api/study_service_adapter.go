package api

import "github.com/openreach/trialconsent/internal/services"

type studyStoreAdapter struct {
	store Store
}

func newStudyStoreAdapter(store Store) services.StudyStore {
	return &studyStoreAdapter{store: store}
}

func (a *studyStoreAdapter) AddStudy(st *services.Study) error {
	return a.store.AddStudy(fromServiceStudy(st))
}

func (a *studyStoreAdapter) GetStudy(id string) (*services.Study, error) {
	return toServiceStudy(a.store.GetStudy(id)), nil
}

func (a *studyStoreAdapter) GetStudyBySlug(slug string) (*services.Study, error) {
	return toServiceStudy(a.store.GetStudyBySlug(slug)), nil
}

func (a *studyStoreAdapter) UpdateStudy(st *services.Study) error {
	return a.store.UpdateStudy(fromServiceStudy(st))
}

func (a *studyStoreAdapter) DeleteStudy(id string) error {
	return a.store.DeleteStudy(id)
}

func (a *studyStoreAdapter) ListStudiesByOwner(ownerID string) ([]*services.Study, error) {
	rows := a.store.ListStudiesByOwner(ownerID)
	out := make([]*services.Study, 0, len(rows))
	for _, st := range rows {
		out = append(out, toServiceStudy(st))
	}
	return out, nil
}

func (a *studyStoreAdapter) ListCategories(studyID string) ([]*services.DataCategory, error) {
	return toServiceCategories(a.store.ListCategories(studyID)), nil
}

func (a *studyStoreAdapter) AddCategory(c *services.DataCategory) error {
	return a.store.AddCategory(fromServiceCategory(c))
}

var _ services.StudyStore = (*studyStoreAdapter)(nil)
