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
	if v := os.Getenv("LABREPORT_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

func TestParticipantJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 10 * time.Second}
	base := baseURL()

	var challenge struct {
		ID         string `json:"id"`
		ImageCount int    `json:"image_count"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/challenges", "", nil, &challenge)
	if challenge.ID == "" || challenge.ImageCount < 2 {
		t.Fatalf("unexpected challenge: %+v", challenge)
	}

	email := fmt.Sprintf("participant_%d@example.com", time.Now().UnixNano())
	var session struct {
		SessionID string `json:"session_id"`
		Language  string `json:"language"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/sessions", "", map[string]any{
		"demographics": map[string]string{
			"ageRange": "35-44",
			"country":  "US",
			"state":    "CA",
			"city":     "Oakland",
			"language": "English",
			"email":    email,
		},
		"challenge_id": challenge.ID,
		"selected":     []int{0, 1},
	}, &session)
	if session.SessionID == "" {
		t.Fatalf("session not started")
	}
	sessionURL := base + "/api/sessions/" + session.SessionID

	var result struct {
		Values     []map[string]any `json:"values"`
		Conditions []struct {
			Name string `json:"name"`
		} `json:"conditions"`
		Summary string `json:"summary"`
	}
	doJSON(t, client, http.MethodPost, sessionURL+"/report", "", map[string]string{
		"text": "Name: Jane Doe\nPhone: 555-123-4567\nLDL 160 mg/dL\neGFR 45\n",
	}, &result)
	if len(result.Values) != 10 || len(result.Conditions) != 2 || result.Summary == "" {
		t.Fatalf("unexpected analysis: %+v", result)
	}

	var stored struct {
		Summary string `json:"summary"`
	}
	doJSON(t, client, http.MethodGet, sessionURL+"/results", "", nil, &stored)
	if stored.Summary != result.Summary {
		t.Fatalf("stored results differ from analysis")
	}

	var key struct {
		Key string `json:"key"`
	}
	doJSON(t, client, http.MethodGet, sessionURL+"/key", "", nil, &key)
	if key.Key == "" {
		t.Fatalf("expected exported key")
	}

	var questions struct {
		Questions []struct {
			ID       string `json:"id"`
			Type     string `json:"type"`
			Required bool   `json:"required"`
		} `json:"questions"`
	}
	doJSON(t, client, http.MethodGet, base+"/api/feedback/questions", "", nil, &questions)
	answers := map[string]any{}
	for _, q := range questions.Questions {
		if q.Type == "rating" {
			answers[q.ID] = 4
		}
	}
	if len(answers) > 0 {
		doJSON(t, client, http.MethodPost, base+"/api/feedback/responses", "", map[string]any{
			"session_id": session.SessionID,
			"answers":    answers,
		}, nil)
	}

	var ended struct {
		Cleared int `json:"cleared"`
	}
	doJSON(t, client, http.MethodDelete, sessionURL, "", nil, &ended)
	if ended.Cleared != 2 {
		t.Fatalf("expected 2 cleared records, got %d", ended.Cleared)
	}

	resp, err := client.Get(sessionURL + "/results")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after session end, got %d", resp.StatusCode)
	}
}

func TestAdminConditionsIntegration(t *testing.T) {
	email, password := os.Getenv("LABREPORT_TEST_ADMIN_EMAIL"), os.Getenv("LABREPORT_TEST_ADMIN_PASSWORD")
	if email == "" || password == "" {
		t.Skip("admin credentials not provided")
	}
	client := &http.Client{Timeout: 10 * time.Second}
	base := baseURL()

	var login struct {
		Token string `json:"token"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/admin/login", "", map[string]string{"email": email, "password": password}, &login)
	if login.Token == "" {
		t.Fatalf("login did not return token")
	}
	var overview struct {
		TopConditions []map[string]any `json:"top_conditions"`
	}
	doJSON(t, client, http.MethodGet, base+"/api/admin/conditions", login.Token, nil, &overview)
	if overview.TopConditions == nil {
		t.Fatalf("expected top_conditions in overview")
	}
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any, out any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http %s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}
