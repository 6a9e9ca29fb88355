package services

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func newConsentFixture(t *testing.T) (*stubStore, *ConsentService) {
	t.Helper()
	store := newStubStore()
	store.studies["st1"] = &Study{
		ID: "st1", Slug: "sleep-study", OwnerID: "r1", Title: "Sleep Study",
		Status: StudyStatusPublic, Contact: "ethics@example.org", RetentionDefaultDays: 180,
	}
	for _, c := range []*DataCategory{
		{ID: "c-email", StudyID: "st1", Name: "Email"},
		{ID: "c-logs", StudyID: "st1", Name: "Usage Logs", Required: true},
		{ID: "c-accel", StudyID: "st1", Name: "Accelerometer"},
	} {
		store.categories = append(store.categories, c)
	}
	store.participants["p1"] = &Participant{ID: "p1", SelfToken: "tok-p1"}

	svc := NewConsentService(store, NewAuditService(store))
	return store, svc
}

func choiceMap(t *testing.T, store *stubStore, consentID string) map[string]bool {
	t.Helper()
	out := map[string]bool{}
	for _, ch := range store.choices[consentID] {
		out[ch.CategoryID] = ch.Allowed
	}
	return out
}

func TestRecordDecisionForcesRequiredCategories(t *testing.T) {
	store, svc := newConsentFixture(t)

	c, err := svc.RecordDecision("st1", "p1", map[string]bool{"c-email": true, "c-accel": false}, false)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if c.Version != 1 {
		t.Fatalf("version = %d, want 1", c.Version)
	}
	if !c.Granted {
		t.Fatal("granted = false, want true")
	}
	got := choiceMap(t, store, c.ID)
	want := map[string]bool{"c-email": true, "c-logs": true, "c-accel": false}
	for id, allowed := range want {
		if got[id] != allowed {
			t.Fatalf("choice %s = %v, want %v (all: %v)", id, got[id], allowed, got)
		}
	}
	if actions := store.auditActions("st1"); len(actions) != 1 || actions[0] != ActionConsentGiven {
		t.Fatalf("audit actions = %v", actions)
	}
}

func TestWithdrawalDeniesEverything(t *testing.T) {
	store, svc := newConsentFixture(t)

	if _, err := svc.RecordDecision("st1", "p1", map[string]bool{"c-email": true}, false); err != nil {
		t.Fatalf("record: %v", err)
	}
	c, err := svc.Withdraw("st1", "p1")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if c.Version != 2 {
		t.Fatalf("version = %d, want 2", c.Version)
	}
	if c.Granted {
		t.Fatal("withdrawal must not count as granted")
	}
	if c.WithdrawnAt == nil {
		t.Fatal("withdrawn_at not stamped")
	}
	for id, allowed := range choiceMap(t, store, c.ID) {
		if allowed {
			t.Fatalf("choice %s still allowed after withdrawal", id)
		}
	}
	// prior versions stay readable
	history, err := store.ListConsentsByParticipant("st1", "p1")
	if err != nil || len(history) != 2 {
		t.Fatalf("history = %v, %v", history, err)
	}
	if actions := store.auditActions("st1"); actions[len(actions)-1] != ActionWithdrawn {
		t.Fatalf("audit actions = %v", actions)
	}
}

func TestVersionsAreGaplessAndEditsAudited(t *testing.T) {
	store, svc := newConsentFixture(t)

	for i, decision := range []map[string]bool{
		{"c-email": true},
		{"c-email": false},
		{"c-accel": true},
	} {
		c, err := svc.RecordDecision("st1", "p1", decision, false)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if c.Version != i+1 {
			t.Fatalf("version = %d, want %d", c.Version, i+1)
		}
	}
	actions := store.auditActions("st1")
	want := []string{ActionConsentGiven, ActionConsentEdited, ActionConsentEdited}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("audit actions = %v, want %v", actions, want)
		}
	}
}

func TestReceiptHashRoundTrips(t *testing.T) {
	_, svc := newConsentFixture(t)

	c, err := svc.RecordDecision("st1", "p1", map[string]bool{"c-email": true}, false)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !strings.HasPrefix(c.ReceiptHash, "sha256:") {
		t.Fatalf("receipt hash = %q, want sha256: prefix", c.ReceiptHash)
	}
	ok, err := VerifyReceipt(c.ReceiptJSON)
	if err != nil {
		t.Fatalf("verify receipt: %v", err)
	}
	if !ok {
		t.Fatal("fresh receipt failed verification")
	}

	tampered := strings.Replace(c.ReceiptJSON, "Sleep Study", "Other Study", 1)
	ok, err = VerifyReceipt(tampered)
	if err != nil {
		t.Fatalf("verify tampered receipt: %v", err)
	}
	if ok {
		t.Fatal("tampered receipt passed verification")
	}
}

func TestUnknownDecisionKeysAreIgnored(t *testing.T) {
	store, svc := newConsentFixture(t)

	c, err := svc.RecordDecision("st1", "p1", map[string]bool{"c-email": true, "c-bogus": true}, false)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	got := choiceMap(t, store, c.ID)
	if len(got) != 3 {
		t.Fatalf("choices = %v, want exactly the study's categories", got)
	}
	if _, ok := got["c-bogus"]; ok {
		t.Fatal("unknown category id leaked into stored choices")
	}
}

func TestRecordDecisionRejectsUnknownStudyAndParticipant(t *testing.T) {
	_, svc := newConsentFixture(t)

	if _, err := svc.RecordDecision("nope", "p1", nil, false); err == nil {
		t.Fatal("expected error for unknown study")
	} else if se, _ := AsServiceError(err); se.Code != ErrorNotFound {
		t.Fatalf("error = %v, want not_found", err)
	}
	if _, err := svc.RecordDecision("st1", "nope", nil, false); err == nil {
		t.Fatal("expected error for unknown participant")
	} else if se, _ := AsServiceError(err); se.Code != ErrorNotFound {
		t.Fatalf("error = %v, want not_found", err)
	}
}

func TestHistoryRequiresSelfToken(t *testing.T) {
	_, svc := newConsentFixture(t)

	if _, err := svc.RecordDecision("st1", "p1", map[string]bool{"c-email": true}, false); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.History("st1", "p1", "wrong"); err == nil {
		t.Fatal("history served without a valid token")
	}
	list, err := svc.History("st1", "p1", "tok-p1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("history length = %d, want 1", len(list))
	}
}

func TestReceiptDownloadIsAudited(t *testing.T) {
	store, svc := newConsentFixture(t)

	c, err := svc.RecordDecision("st1", "p1", map[string]bool{"c-email": true}, false)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.Receipt(c.ID, "p1", "wrong"); err == nil {
		t.Fatal("receipt served without a valid token")
	}
	got, err := svc.Receipt(c.ID, "p1", "tok-p1")
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if got.ReceiptJSON != c.ReceiptJSON {
		t.Fatal("receipt body changed between write and read")
	}
	actions := store.auditActions("st1")
	if actions[len(actions)-1] != ActionReceiptDownloaded {
		t.Fatalf("audit actions = %v", actions)
	}
}

func TestConcurrentDecisionsKeepVersionsGapless(t *testing.T) {
	store, svc := newConsentFixture(t)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.RecordDecision("st1", "p1", map[string]bool{"c-email": n%2 == 0}, false)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	history, err := store.ListConsentsByParticipant("st1", "p1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != writers {
		t.Fatalf("versions stored = %d, want %d", len(history), writers)
	}
	seen := map[int]bool{}
	for _, c := range history {
		if c.Version < 1 || c.Version > writers || seen[c.Version] {
			t.Fatalf("version %d duplicated or out of range 1..%d", c.Version, writers)
		}
		seen[c.Version] = true
	}
	// the chain took one entry per version and stayed linear
	report, err := NewAuditService(store).Verify("st1")
	if err != nil || !report.OK {
		t.Fatalf("chain broken under concurrent decisions: %+v %v", report, err)
	}
	if report.Entries != writers {
		t.Fatalf("chain entries = %d, want %d", report.Entries, writers)
	}
}

func TestConsentAndChainCommitTogether(t *testing.T) {
	store, svc := newConsentFixture(t)

	before := time.Now()
	c, err := svc.RecordDecision("st1", "p1", map[string]bool{"c-email": true}, false)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if c.CreatedAt.Before(before.Add(-time.Minute)) {
		t.Fatalf("created_at = %v, looks stale", c.CreatedAt)
	}
	if len(store.audits) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(store.audits))
	}
	if store.audits[0].Details["version"] != 1 {
		t.Fatalf("audit details = %v", store.audits[0].Details)
	}
}
