package services

import (
	"testing"
)

func newCategoryFixture() (*stubStore, *CategoryService) {
	store := newStubStore()
	store.studies["st1"] = &Study{ID: "st1", Slug: "sleep-study", OwnerID: "r1", Title: "Sleep Study", Status: StudyStatusPublic}
	svc := NewCategoryService(store, NewAuditService(store))
	return store, svc
}

func names(cats []*DataCategory) []string {
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		out = append(out, c.Name)
	}
	return out
}

func TestEnsureMinimumFillsEmptyStudy(t *testing.T) {
	_, svc := newCategoryFixture()

	cats, err := svc.EnsureMinimumCategories("st1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	got := names(cats)
	want := []string{"Email", "Usage Logs", "Accelerometer"}
	if len(got) != 3 {
		t.Fatalf("categories = %v, want 3 defaults", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("categories = %v, want %v", got, want)
		}
	}

	// second pass adds nothing
	again, err := svc.EnsureMinimumCategories("st1")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if len(again) != 3 {
		t.Fatalf("second pass grew the list to %d", len(again))
	}
	for i := range cats {
		if again[i].ID != cats[i].ID {
			t.Fatal("second pass replaced existing categories")
		}
	}
}

func TestEnsureMinimumKeepsCustomCategories(t *testing.T) {
	store, svc := newCategoryFixture()
	store.categories = append(store.categories, &DataCategory{ID: "hr", StudyID: "st1", Name: "Heart Rate", Required: true})

	cats, err := svc.EnsureMinimumCategories("st1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(cats) != 3 {
		t.Fatalf("categories = %v, want 3", names(cats))
	}
	if cats[0].ID != "hr" || !cats[0].Required {
		t.Fatalf("custom category changed: %+v", cats[0])
	}
}

func TestEnsureMinimumSkipsNameClashes(t *testing.T) {
	store, svc := newCategoryFixture()
	store.categories = append(store.categories, &DataCategory{ID: "em", StudyID: "st1", Name: "email"})

	cats, err := svc.EnsureMinimumCategories("st1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(cats) != 3 {
		t.Fatalf("categories = %v, want 3", names(cats))
	}
	count := 0
	for _, c := range cats {
		if c.Name == "Email" || c.Name == "email" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("categories = %v, email duplicated", names(cats))
	}
}

func TestEnsureMinimumUnknownStudy(t *testing.T) {
	_, svc := newCategoryFixture()
	if _, err := svc.EnsureMinimumCategories("nope"); err == nil {
		t.Fatal("expected error for unknown study")
	}
}

func TestApplyEditsUpdatesInPlace(t *testing.T) {
	store, svc := newCategoryFixture()
	store.categories = append(store.categories, &DataCategory{ID: "em", StudyID: "st1", Name: "Email"})

	cats, err := svc.ApplyEdits("st1", "r1", []CategoryEdit{
		{ID: "em", Name: "Contact Email", Required: true, RetentionDays: 90},
		{Name: "Sleep Diary", Description: "Self-reported sleep diary"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("categories = %v, want 2", names(cats))
	}
	if cats[0].ID != "em" || cats[0].Name != "Contact Email" || !cats[0].Required || cats[0].RetentionDays != 90 {
		t.Fatalf("updated category = %+v", cats[0])
	}
	if cats[1].ID == "" || cats[1].Name != "Sleep Diary" {
		t.Fatalf("created category = %+v", cats[1])
	}
	if actions := store.auditActions("st1"); len(actions) != 1 || actions[0] != ActionStudyUpdated {
		t.Fatalf("audit actions = %v", actions)
	}
}

func TestApplyEditsRejectsUnknownID(t *testing.T) {
	_, svc := newCategoryFixture()

	_, err := svc.ApplyEdits("st1", "r1", []CategoryEdit{{ID: "ghost", Name: "Ghost"}})
	if err == nil {
		t.Fatal("unknown id accepted")
	}
	if se, _ := AsServiceError(err); se.Code != ErrorInvalid {
		t.Fatalf("error = %v, want invalid", err)
	}
}

func TestApplyEditsEnforcesOwnershipAndNames(t *testing.T) {
	_, svc := newCategoryFixture()

	if _, err := svc.ApplyEdits("st1", "intruder", []CategoryEdit{{Name: "X"}}); err == nil {
		t.Fatal("non-owner edited categories")
	}
	if _, err := svc.ApplyEdits("st1", "r1", []CategoryEdit{{Name: "   "}}); err == nil {
		t.Fatal("blank name accepted")
	}
}
