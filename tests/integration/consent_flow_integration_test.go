//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("TRIALCONSENT_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

func TestConsentJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()

	userEmail := fmt.Sprintf("integration_%d@example.com", time.Now().UnixNano())
	password := "Secret123!"

	var registerResp struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	doPost(t, client, base+"/api/auth/register", "", map[string]any{
		"email":    userEmail,
		"password": password,
	}, &registerResp)
	if registerResp.Token == "" {
		t.Fatalf("unexpected register response: %+v", registerResp)
	}
	token := registerResp.Token

	var createResp struct {
		ID   string `json:"id"`
		Slug string `json:"slug"`
	}
	doPost(t, client, base+"/api/studies", token, map[string]any{
		"title":  fmt.Sprintf("Integration Study %d", time.Now().UnixNano()),
		"status": "public",
	}, &createResp)
	if createResp.ID == "" || createResp.Slug == "" {
		t.Fatalf("expected study id and slug, got %+v", createResp)
	}

	// the public view tops categories up to three
	var viewResp struct {
		Categories []struct {
			ID       string `json:"id"`
			Required bool   `json:"required"`
		} `json:"categories"`
	}
	doGet(t, client, base+"/api/public/studies/"+createResp.Slug, &viewResp)
	if len(viewResp.Categories) != 3 {
		t.Fatalf("expected 3 categories, got %d", len(viewResp.Categories))
	}

	var joinResp struct {
		ParticipantID string `json:"participant_id"`
		SelfToken     string `json:"self_token"`
	}
	doPost(t, client, base+"/api/public/studies/"+createResp.Slug+"/join", "", map[string]any{}, &joinResp)
	if joinResp.ParticipantID == "" || joinResp.SelfToken == "" {
		t.Fatalf("unexpected join response: %+v", joinResp)
	}

	choices := map[string]bool{}
	for i, c := range viewResp.Categories {
		choices[c.ID] = i%2 == 0
	}
	var consentResp struct {
		ID          string `json:"id"`
		Version     int    `json:"version"`
		ReceiptHash string `json:"receipt_hash"`
	}
	doPost(t, client, base+"/api/public/studies/"+createResp.Slug+"/consent", "", map[string]any{
		"participant_id": joinResp.ParticipantID,
		"choices":        choices,
	}, &consentResp)
	if consentResp.Version != 1 {
		t.Fatalf("expected version 1, got %d", consentResp.Version)
	}
	if !strings.HasPrefix(consentResp.ReceiptHash, "sha256:") {
		t.Fatalf("unexpected receipt hash %q", consentResp.ReceiptHash)
	}

	var withdrawResp struct {
		Version     int     `json:"version"`
		WithdrawnAt *string `json:"withdrawn_at"`
	}
	doPost(t, client, base+"/api/public/studies/"+createResp.Slug+"/withdraw", "", map[string]any{
		"participant_id": joinResp.ParticipantID,
	}, &withdrawResp)
	if withdrawResp.Version != 2 || withdrawResp.WithdrawnAt == nil {
		t.Fatalf("unexpected withdrawal response: %+v", withdrawResp)
	}

	var verifyResp struct {
		OK      bool `json:"ok"`
		Entries int  `json:"entries"`
	}
	req, err := http.NewRequest(http.MethodGet, base+"/api/studies/"+createResp.ID+"/audit/verify", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("verify request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("verify status %d body %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(&verifyResp); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if !verifyResp.OK || verifyResp.Entries < 3 {
		t.Fatalf("chain verification failed: %+v", verifyResp)
	}
}

func doPost(t *testing.T, client *http.Client, url, token string, body any, out any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http post %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}

func doGet(t *testing.T, client *http.Client, url string, out any) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("http get %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}
