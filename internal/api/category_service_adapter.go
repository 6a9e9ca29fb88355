package api

import "github.com/openreach/trialconsent/internal/services"

type categoryStoreAdapter struct {
	store Store
}

func newCategoryStoreAdapter(store Store) services.CategoryStore {
	return &categoryStoreAdapter{store: store}
}

func (a *categoryStoreAdapter) GetStudy(id string) (*services.Study, error) {
	return toServiceStudy(a.store.GetStudy(id)), nil
}

func (a *categoryStoreAdapter) ListCategories(studyID string) ([]*services.DataCategory, error) {
	return toServiceCategories(a.store.ListCategories(studyID)), nil
}

func (a *categoryStoreAdapter) AddCategory(c *services.DataCategory) error {
	return a.store.AddCategory(fromServiceCategory(c))
}

func (a *categoryStoreAdapter) UpdateCategory(c *services.DataCategory) error {
	return a.store.UpdateCategory(fromServiceCategory(c))
}

var _ services.CategoryStore = (*categoryStoreAdapter)(nil)
