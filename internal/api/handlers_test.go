package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hyperengineering/cadence/internal/store"
	enginesync "github.com/hyperengineering/cadence/internal/sync"
	"github.com/hyperengineering/cadence/internal/types"
)

// stubEngine satisfies SyncController without a running drain loop.
type stubEngine struct {
	st       *store.SQLiteStore
	triggers atomic.Int64
}

func (e *stubEngine) TriggerSync() { e.triggers.Add(1) }

func (e *stubEngine) State() enginesync.State { return enginesync.StateIdle }

func (e *stubEngine) QueueDepth(ctx context.Context) (int, error) { return e.st.Depth(ctx) }

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *store.SQLiteStore, *stubEngine) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	engine := &stubEngine{st: st}
	srv := httptest.NewServer(NewRouter(NewHandler(st, engine, apiKey, "test")))
	t.Cleanup(srv.Close)
	return srv, st, engine
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestCreateHabit(t *testing.T) {
	srv, _, engine := newTestServer(t, "")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/habits", CreateHabitRequest{
		Name:    "meditate",
		Cadence: "daily",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	habit := decode[types.Habit](t, resp)
	if habit.Name != "meditate" {
		t.Errorf("name = %q", habit.Name)
	}
	if habit.SyncStatus != types.SyncPending {
		t.Errorf("sync_status = %q, want pending", habit.SyncStatus)
	}
	if engine.triggers.Load() != 1 {
		t.Errorf("sync triggered %d times, want 1", engine.triggers.Load())
	}
}

func TestCreateHabit_Validation(t *testing.T) {
	srv, _, engine := newTestServer(t, "")

	tests := []struct {
		name string
		req  CreateHabitRequest
	}{
		{"empty name", CreateHabitRequest{Name: ""}},
		{"whitespace name", CreateHabitRequest{Name: "   "}},
		{"null byte", CreateHabitRequest{Name: "bad\x00name"}},
		{"too long", CreateHabitRequest{Name: strings.Repeat("a", maxNameLength+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/habits", tt.req)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("content type = %q", ct)
			}
		})
	}

	if engine.triggers.Load() != 0 {
		t.Errorf("sync triggered for rejected requests")
	}
}

func TestCreateHabit_MalformedJSON(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	resp, err := http.Post(srv.URL+"/api/v1/habits", "application/json", strings.NewReader("{oops"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetHabit(t *testing.T) {
	srv, st, _ := newTestServer(t, "")

	h, err := st.CreateHabit(context.Background(), "meditate", "daily", "")
	if err != nil {
		t.Fatalf("create habit: %v", err)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/habits/"+h.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[types.Habit](t, resp)
	if got.ID != h.ID {
		t.Errorf("id = %q, want %q", got.ID, h.ID)
	}
}

func TestInvalidPathID(t *testing.T) {
	srv, _, eng := newTestServer(t, "")

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/v1/habits/not-a-ulid", nil},
		{http.MethodPatch, "/api/v1/habits/not-a-ulid", map[string]any{"name": "x"}},
		{http.MethodDelete, "/api/v1/habits/not-a-ulid", nil},
		{http.MethodPost, "/api/v1/habits/not-a-ulid/completions", map[string]any{}},
		{http.MethodGet, "/api/v1/habits/not-a-ulid/completions", nil},
		{http.MethodPost, "/api/v1/habits/not-a-ulid/retry", nil},
		{http.MethodPost, "/api/v1/completions/not-a-ulid/retry", nil},
	}

	for _, tt := range tests {
		resp := doJSON(t, tt.method, srv.URL+tt.path, tt.body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("%s %s: status = %d, want 422", tt.method, tt.path, resp.StatusCode)
		}
	}

	if n := eng.triggers.Load(); n != 0 {
		t.Errorf("sync triggers = %d, want 0", n)
	}
}

func TestGetHabit_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/habits/01ARZ3NDEKTSV4RRFFQ69G5FAV", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListHabits_ArchivedFilter(t *testing.T) {
	srv, st, _ := newTestServer(t, "")
	ctx := context.Background()

	if _, err := st.CreateHabit(ctx, "active", "daily", ""); err != nil {
		t.Fatalf("create habit: %v", err)
	}
	h, err := st.CreateHabit(ctx, "shelved", "daily", "")
	if err != nil {
		t.Fatalf("create habit: %v", err)
	}
	archived := true
	if _, err := st.UpdateHabit(ctx, h.ID, types.HabitPatch{Archived: &archived}); err != nil {
		t.Fatalf("archive habit: %v", err)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/habits", nil)
	body := decode[map[string][]types.Habit](t, resp)
	if len(body["habits"]) != 1 {
		t.Errorf("default listing has %d habits, want 1", len(body["habits"]))
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/habits?archived=true", nil)
	body = decode[map[string][]types.Habit](t, resp)
	if len(body["habits"]) != 2 {
		t.Errorf("archived listing has %d habits, want 2", len(body["habits"]))
	}
}

func TestUpdateHabit(t *testing.T) {
	srv, st, engine := newTestServer(t, "")

	h, err := st.CreateHabit(context.Background(), "meditate", "daily", "")
	if err != nil {
		t.Fatalf("create habit: %v", err)
	}

	resp := doJSON(t, http.MethodPatch, srv.URL+"/api/v1/habits/"+h.ID, map[string]string{"name": "meditate longer"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[types.Habit](t, resp)
	if got.Name != "meditate longer" {
		t.Errorf("name = %q", got.Name)
	}
	if engine.triggers.Load() == 0 {
		t.Error("update did not trigger sync")
	}
}

func TestUpdateHabit_EmptyPatch(t *testing.T) {
	srv, st, _ := newTestServer(t, "")

	h, err := st.CreateHabit(context.Background(), "meditate", "daily", "")
	if err != nil {
		t.Fatalf("create habit: %v", err)
	}

	resp := doJSON(t, http.MethodPatch, srv.URL+"/api/v1/habits/"+h.ID, map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteHabit(t *testing.T) {
	srv, st, _ := newTestServer(t, "")

	h, err := st.CreateHabit(context.Background(), "meditate", "daily", "")
	if err != nil {
		t.Fatalf("create habit: %v", err)
	}

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/habits/"+h.ID, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/habits/"+h.ID, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("deleted habit still served: status = %d", resp.StatusCode)
	}
}

func TestCompleteHabit(t *testing.T) {
	srv, st, _ := newTestServer(t, "")

	h, err := st.CreateHabit(context.Background(), "meditate", "daily", "")
	if err != nil {
		t.Fatalf("create habit: %v", err)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/habits/"+h.ID+"/completions", CompleteHabitRequest{Day: "2026-08-30"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	c := decode[types.Completion](t, resp)
	if c.Day != "2026-08-30" {
		t.Errorf("day = %q", c.Day)
	}

	// Same day again conflicts.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/habits/"+h.ID+"/completions", CompleteHabitRequest{Day: "2026-08-30"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate completion status = %d, want 409", resp.StatusCode)
	}
}

func TestCompleteHabit_DayDefaultsToToday(t *testing.T) {
	srv, st, _ := newTestServer(t, "")

	h, err := st.CreateHabit(context.Background(), "meditate", "daily", "")
	if err != nil {
		t.Fatalf("create habit: %v", err)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/habits/"+h.ID+"/completions", CompleteHabitRequest{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	c := decode[types.Completion](t, resp)
	if c.Day == "" {
		t.Error("day empty, want today")
	}
}

func TestRetryHabit(t *testing.T) {
	srv, st, engine := newTestServer(t, "")
	ctx := context.Background()

	h, err := st.CreateHabit(ctx, "meditate", "daily", "")
	if err != nil {
		t.Fatalf("create habit: %v", err)
	}

	// Not in error state yet.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/habits/"+h.ID+"/retry", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("retry of healthy habit status = %d, want 409", resp.StatusCode)
	}

	op, _ := st.PeekNext(ctx)
	if err := st.Remove(ctx, op.ID); err != nil {
		t.Fatalf("remove op: %v", err)
	}
	if err := st.MarkSyncError(ctx, types.ResourceHabit, h.ID, "retries exhausted"); err != nil {
		t.Fatalf("mark error: %v", err)
	}

	engine.triggers.Store(0)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/habits/"+h.ID+"/retry", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if engine.triggers.Load() != 1 {
		t.Errorf("sync triggered %d times, want 1", engine.triggers.Load())
	}
}

func TestSyncStatus(t *testing.T) {
	srv, st, _ := newTestServer(t, "")

	if _, err := st.CreateHabit(context.Background(), "meditate", "daily", ""); err != nil {
		t.Fatalf("create habit: %v", err)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sync/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decode[SyncStatusResponse](t, resp)
	if body.State != string(enginesync.StateIdle) {
		t.Errorf("state = %q", body.State)
	}
	if body.QueueDepth != 1 {
		t.Errorf("queue_depth = %d, want 1", body.QueueDepth)
	}
}

func TestTriggerSyncEndpoint(t *testing.T) {
	srv, _, engine := newTestServer(t, "")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/trigger", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if engine.triggers.Load() != 1 {
		t.Errorf("sync triggered %d times, want 1", engine.triggers.Load())
	}
}

func TestAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, "hunter2")

	// Health stays open.
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/health", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200 without auth", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/habits", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/habits", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	wrongResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	wrongResp.Body.Close()
	if wrongResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", wrongResp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/v1/habits", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	okResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	okResp.Body.Close()
	if okResp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", okResp.StatusCode)
	}
}
