package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"horse.fit/insurewatch/internal/catalog"
	"horse.fit/insurewatch/internal/db"
	"horse.fit/insurewatch/internal/news"
	"horse.fit/insurewatch/internal/pipeline"
)

type fakeStore struct {
	pingErr     error
	saved       []pipeline.RunResult
	runs        map[string]*db.StoredRun
	eventFilter *db.APIEventFilter
	matchFilter *db.ArticleMatchFilter
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) SaveRun(_ context.Context, run pipeline.RunResult) error {
	s.saved = append(s.saved, run)
	return nil
}

func (s *fakeStore) GetRun(_ context.Context, runID string) (*db.StoredRun, error) {
	run, ok := s.runs[runID]
	if !ok {
		return nil, db.ErrRunNotFound
	}
	return run, nil
}

func (s *fakeStore) ListArticleMatches(_ context.Context, filter db.ArticleMatchFilter) ([]db.StoredMatch, error) {
	s.matchFilter = &filter
	return []db.StoredMatch{}, nil
}

func (s *fakeStore) ListAPIEvents(_ context.Context, filter db.APIEventFilter) ([]db.APIEventRow, error) {
	s.eventFilter = &filter
	return []db.APIEventRow{}, nil
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func testServer(t *testing.T, store Store) *Server {
	t.Helper()

	cat, err := catalog.New([]catalog.Entity{
		{ID: 10, Name: "Porto Seguro", Category: catalog.CategoryHealth, Enabled: true},
		{ID: 11, Name: "SulAmérica", Aliases: []string{"Sul America"}, Category: catalog.CategoryHealth, Enabled: true},
	})
	if err != nil {
		t.Fatalf("catalog.New failed: %v", err)
	}

	runner := pipeline.NewService(nil, nil, zerolog.Nop(), pipeline.Options{})
	return NewServer(store, runner, func(context.Context) (*catalog.Catalog, error) { return cat, nil }, zerolog.Nop(), Options{MaxBatch: 3})
}

func serve(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not JSend JSON: %q (%v)", rec.Body.String(), err)
	}
	return rec, env
}

func TestHandleCreateRun_MatchesBatch(t *testing.T) {
	t.Parallel()

	s := testServer(t, nil)
	body := `[
		{"title":"Porto Seguro amplia rede credenciada","url":"https://valor.example/a","source":"Valor"},
		{"title":"Mercado de seguros cresce no trimestre","source":"InfoMoney"}
	]`
	rec, env := serve(t, s, http.MethodPost, "/api/v1/runs", body)
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("unexpected response: %d %s %s", rec.Code, env.Status, env.Message)
	}

	var run pipeline.RunResult
	if err := json.Unmarshal(env.Data, &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if len(run.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(run.Results))
	}
	first := run.Results[0]
	if first.Method != news.MethodExactName || len(first.EntityIDs) != 1 || first.EntityIDs[0] != 10 {
		t.Fatalf("unexpected first result: %+v", first)
	}
	second := run.Results[1]
	if second.Method != news.MethodUnmatched || len(second.EntityIDs) != 1 || second.EntityIDs[0] != catalog.DefaultSentinelID {
		t.Fatalf("expected sentinel routing, got %+v", second)
	}
}

func TestHandleCreateRun_PersistsWhenAsked(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	s := testServer(t, store)
	rec, env := serve(t, s, http.MethodPost, "/api/v1/runs?persist=true", `{"title":"SulAmérica reajusta planos"}`)
	if rec.Code != http.StatusCreated || env.Status != "success" {
		t.Fatalf("unexpected response: %d %s %s", rec.Code, env.Status, env.Message)
	}
	if len(store.saved) != 1 || store.saved[0].RunID == "" {
		t.Fatalf("expected one saved run, got %+v", store.saved)
	}
}

func TestHandleCreateRun_PersistWithoutStoreIsUnavailable(t *testing.T) {
	t.Parallel()

	s := testServer(t, nil)
	rec, env := serve(t, s, http.MethodPost, "/api/v1/runs?persist=true", `[{"title":"x"}]`)
	if rec.Code != http.StatusServiceUnavailable || env.Status != "error" {
		t.Fatalf("unexpected response: %d %s", rec.Code, env.Status)
	}
}

func TestHandleCreateRun_RejectsBadInput(t *testing.T) {
	t.Parallel()

	s := testServer(t, nil)
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "missing title", body: `[{"url":"https://a.example"}]`},
		{name: "malformed json", body: `[{"title":`},
		{name: "batch too large", body: `[{"title":"a"},{"title":"b"},{"title":"c"},{"title":"d"}]`},
	}
	for _, tc := range tests {
		rec, env := serve(t, s, http.MethodPost, "/api/v1/runs", tc.body)
		if rec.Code != http.StatusBadRequest || env.Status != "fail" {
			t.Fatalf("%s: unexpected response: %d %s", tc.name, rec.Code, env.Status)
		}
	}
}

func TestHandleGetRun(t *testing.T) {
	t.Parallel()

	const runID = "0b7f3c1e-9d55-4c1a-8a8e-3f0f9a2b6c11"
	store := &fakeStore{runs: map[string]*db.StoredRun{
		runID: {RunID: runID, Results: []news.MatchResult{}},
	}}
	s := testServer(t, store)

	if rec, _ := serve(t, s, http.MethodGet, "/api/v1/runs/not-a-uuid", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
	if rec, _ := serve(t, s, http.MethodGet, "/api/v1/runs/5d1e0a55-0000-4000-8000-000000000000", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", rec.Code)
	}
	rec, env := serve(t, s, http.MethodGet, "/api/v1/runs/"+runID, "")
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("unexpected response: %d %s", rec.Code, env.Status)
	}
}

func TestHandleEvents_ParsesFilters(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	s := testServer(t, store)

	rec, _ := serve(t, s, http.MethodGet, "/api/v1/events?success=maybe&limit=0", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if store.eventFilter != nil {
		t.Fatalf("store should not be queried on invalid filters")
	}

	rec, _ = serve(t, s, http.MethodGet, "/api/v1/events?type=ai_match&success=false&limit=5&since=2026-01-02", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := store.eventFilter
	if got == nil || got.EventType != "ai_match" || got.Success == nil || *got.Success || got.Limit != 5 || got.Since.IsZero() {
		t.Fatalf("unexpected filter: %+v", got)
	}
}

func TestHandleMatches_ParsesFilters(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	s := testServer(t, store)

	if rec, _ := serve(t, s, http.MethodGet, "/api/v1/matches?method=guess", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown method, got %d", rec.Code)
	}

	rec, _ := serve(t, s, http.MethodGet, "/api/v1/matches?entity_id=10&method=exact-name", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := store.matchFilter
	if got == nil || got.EntityID == nil || *got.EntityID != 10 || got.Method != news.MethodExactName || got.Limit != db.DefaultMatchListLimit {
		t.Fatalf("unexpected filter: %+v", got)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	rec, env := serve(t, testServer(t, nil), http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("unexpected response: %d %s", rec.Code, env.Status)
	}

	down := &fakeStore{pingErr: errors.New("connection refused")}
	rec, env = serve(t, testServer(t, down), http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable || env.Status != "error" {
		t.Fatalf("unexpected response: %d %s", rec.Code, env.Status)
	}
}

func TestHandleEntitiesAndUnknownRoute(t *testing.T) {
	t.Parallel()

	s := testServer(t, nil)
	rec, env := serve(t, s, http.MethodGet, "/api/v1/entities", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var data struct {
		Items []catalog.Entity `json:"items"`
		Count int              `json:"count"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode entities: %v", err)
	}
	if data.Count != 2 || len(data.Items) != 2 {
		t.Fatalf("unexpected entities: %+v", data)
	}

	rec, env = serve(t, s, http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusNotFound || env.Status != "fail" {
		t.Fatalf("unexpected response for unknown route: %d %s", rec.Code, env.Status)
	}
}
