package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/neurosync-os/backend/internal/model/chat"
	sessionsvc "github.com/neurosync-os/backend/internal/service/session"
)

func setupRouter() (*chi.Mux, *sessionsvc.MemoryStore) {
	store := sessionsvc.NewMemoryStore()
	r := chi.NewRouter()
	New(store).RegisterRoutes(r)
	return r, store
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSession(t *testing.T) {
	r, _ := setupRouter()
	resp := do(r, http.MethodPost, "/session", "")

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	var sess chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected session id")
	}
}

func TestListTurnsWindow(t *testing.T) {
	r, store := setupRouter()
	turns := []chat.Turn{
		{Role: chat.RoleUser, Content: "one"},
		{Role: chat.RoleRouter, Content: "strategy"},
		{Role: chat.RoleExpert, Content: "two"},
	}
	if err := store.Append(context.Background(), "s1", turns, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	resp := do(r, http.MethodGet, "/sessions/s1/turns?window=2", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body turnsResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Turns) != 2 || body.Turns[1].Content != "two" {
		t.Fatalf("unexpected turns %+v", body.Turns)
	}

	if resp := do(r, http.MethodGet, "/sessions/s1/turns?window=-1", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/sessions/missing/turns", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestPutMemoryMerges(t *testing.T) {
	r, store := setupRouter()
	sess, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resp := do(r, http.MethodPut, "/sessions/"+sess.ID+"/memory", `{"student_context":"Sam has dyslexia."}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	got, err := store.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Memory["student_context"] != "Sam has dyslexia." {
		t.Fatalf("memory not merged: %v", got.Memory)
	}

	if resp := do(r, http.MethodPut, "/sessions/"+sess.ID+"/memory", `{}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", resp.Code)
	}
}

func TestExpireSession(t *testing.T) {
	r, store := setupRouter()
	sess, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if resp := do(r, http.MethodDelete, "/sessions/"+sess.ID, ""); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if resp := do(r, http.MethodDelete, "/sessions/"+sess.ID, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after expiry, got %d", resp.Code)
	}
}
