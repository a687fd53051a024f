package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCallSendsContextAndDecodesEnvelope(t *testing.T) {
	var got callRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer key-1" {
			t.Errorf("expected bearer auth, got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"response": map[string]any{
				"result": map[string]any{"message": "Q1: what is a pod?", "question_number": 1},
			},
		})
	}))
	defer server.Close()

	caller := NewHTTPCaller(server.URL, "key-1", time.Second)
	result, err := caller.Call(context.Background(), "start", "quiz-master", &CallContext{
		UserID:    "user-abc",
		SessionID: "sess-1",
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got.AgentID != "quiz-master" || got.UserID != "user-abc" || got.SessionID != "sess-1" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
	if !result.Success || result.Response == nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if msg, _ := result.Response.Result["message"].(string); msg != "Q1: what is a pod?" {
		t.Fatalf("unexpected message: %+v", result.Response.Result)
	}
}

func TestCallKeepsBareTextReplies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain prose, not an envelope"))
	}))
	defer server.Close()

	caller := NewHTTPCaller(server.URL, "", time.Second)
	result, err := caller.Call(context.Background(), "hi", "quiz-master", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result.RawResponse != "plain prose, not an envelope" {
		t.Fatalf("expected raw text preserved, got %+v", result)
	}
}

func TestCallReportsTransportFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	caller := NewHTTPCaller(server.URL, "", time.Second)
	if _, err := caller.Call(context.Background(), "hi", "quiz-master", nil); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestFirstArtifactURL(t *testing.T) {
	r := CallResult{}
	if url := r.FirstArtifactURL(); url != "" {
		t.Fatalf("expected empty url, got %q", url)
	}
	r.ModuleOutputs = &ModuleOutputs{ArtifactFiles: []ArtifactFile{{FileURL: "https://cdn/x.png"}}}
	if url := r.FirstArtifactURL(); url != "https://cdn/x.png" {
		t.Fatalf("unexpected url %q", url)
	}
}
