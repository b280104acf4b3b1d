package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"content-service/aggregator"
	"content-service/cache"
	"content-service/model"
	"content-service/ratelimit"
	"content-service/service"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProvider struct {
	name     string
	category model.Category
	result   *model.Result[[]model.ContentItem]
	calls    atomic.Int64
}

func (p *stubProvider) Name() string             { return p.name }
func (p *stubProvider) Category() model.Category { return p.category }

func (p *stubProvider) Fetch(ctx context.Context, limit int) model.Result[[]model.ContentItem] {
	p.calls.Add(1)
	if p.result != nil {
		return *p.result
	}
	items := make([]model.ContentItem, 0, limit)
	for i := 0; i < limit; i++ {
		items = append(items, model.ContentItem{
			ID:          p.name + "-" + string(rune('a'+i)),
			Title:       p.name + " item",
			URL:         "https://example.com/" + p.name,
			Source:      p.name,
			Category:    p.category,
			PublishedAt: time.Date(2024, 5, 1, 12, i, 0, 0, time.UTC),
		})
	}
	return model.OK(items)
}

type fakeRefresher struct {
	names []string
	err   error
}

func (f *fakeRefresher) RequestRefresh(names []string) (string, error) {
	f.names = names
	return "req-42", f.err
}

type testServer struct {
	router    *gin.Engine
	memes     *stubProvider
	crypto    *stubProvider
	gaming    *stubProvider
	refresher *fakeRefresher
}

func newTestServer(ready ReadyCheck) *testServer {
	ts := &testServer{
		memes:     &stubProvider{name: "Imgur", category: model.CategoryMeme},
		crypto:    &stubProvider{name: "CoinTelegraph", category: model.CategoryCrypto},
		gaming:    &stubProvider{name: "IGN", category: model.CategoryGaming},
		refresher: &fakeRefresher{},
	}
	agg := aggregator.New(ts.memes, ts.crypto, ts.gaming)
	svc := service.New(agg, cache.New(cache.NewMemoryStore()), ratelimit.New())
	ts.router = Setup(NewHandler(svc, ts.refresher, ready))
	return ts
}

func (ts *testServer) do(method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) model.Result[T] {
	t.Helper()
	var res model.Result[T]
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return res
}

func TestCategoryRoutes(t *testing.T) {
	tests := []struct {
		path      string
		wantItems int
		maxAge    string
	}{
		{"/api/content/memes", 20, "s-maxage=900"},
		{"/api/content/memes?limit=5", 5, "s-maxage=900"},
		{"/api/content/memes?limit=500", 50, "s-maxage=900"},
		{"/api/content/crypto?limit=31", 30, "s-maxage=600"},
		{"/api/content/gaming?limit=100", 25, "s-maxage=1200"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ts := newTestServer(nil)
			w := ts.do(http.MethodGet, tt.path, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			res := decode[[]model.ContentItem](t, w)
			if !res.Success || len(res.Data) != tt.wantItems {
				t.Errorf("success=%v items=%d, want %d", res.Success, len(res.Data), tt.wantItems)
			}
			if res.RateLimit == nil || res.RateLimit.Remaining < 1 {
				t.Errorf("rateLimit = %+v", res.RateLimit)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q", got)
			}
			if got := w.Header().Get("Cache-Control"); !strings.Contains(got, tt.maxAge) || !strings.HasPrefix(got, "public") {
				t.Errorf("Cache-Control = %q, want %s", got, tt.maxAge)
			}
		})
	}
}

func TestInvalidParameters(t *testing.T) {
	paths := []string{
		"/api/content/memes?limit=abc",
		"/api/content/crypto?limit=0",
		"/api/content/gaming?limit=-3",
		"/api/content/feed?limit=1.5",
		"/api/content/feed?memes=maybe",
		"/api/content/all?crypto=x",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			ts := newTestServer(nil)
			w := ts.do(http.MethodGet, path, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			res := decode[any](t, w)
			if res.Success || res.Error == "" {
				t.Errorf("body = %s", w.Body.String())
			}
			if ts.memes.calls.Load()+ts.crypto.calls.Load()+ts.gaming.calls.Load() != 0 {
				t.Error("invalid request must not reach providers")
			}
		})
	}
}

func TestCacheHeader(t *testing.T) {
	ts := newTestServer(nil)

	first := ts.do(http.MethodGet, "/api/content/crypto?limit=5", nil)
	second := ts.do(http.MethodGet, "/api/content/crypto?limit=5", nil)

	if got := first.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("first X-Cache = %q", got)
	}
	if got := second.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("second X-Cache = %q", got)
	}
	if ts.crypto.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", ts.crypto.calls.Load())
	}
}

func TestRateLimitPerClient(t *testing.T) {
	ts := newTestServer(nil)
	alice := map[string]string{"X-Forwarded-For": "10.0.0.1, 172.16.0.1"}

	for i := 0; i < service.MemesRoute.MaxRequests; i++ {
		if w := ts.do(http.MethodGet, "/api/content/memes", alice); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, w.Code)
		}
	}

	w := ts.do(http.MethodGet, "/api/content/memes", alice)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	res := decode[any](t, w)
	if res.Success || res.Error != rateLimitMessage {
		t.Errorf("body = %s", w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// same first hop, different proxy chain
	if w := ts.do(http.MethodGet, "/api/content/memes", map[string]string{"X-Forwarded-For": "10.0.0.1"}); w.Code != http.StatusTooManyRequests {
		t.Errorf("client key should use the first forwarded address, got %d", w.Code)
	}
	if w := ts.do(http.MethodGet, "/api/content/memes", map[string]string{"X-Real-IP": "10.0.0.2"}); w.Code != http.StatusOK {
		t.Errorf("other client status = %d", w.Code)
	}
	if w := ts.do(http.MethodGet, "/api/content/crypto", alice); w.Code != http.StatusOK {
		t.Errorf("other route status = %d", w.Code)
	}
}

func TestMisconfiguredProvider(t *testing.T) {
	ts := newTestServer(nil)
	failed := model.FailWithCode[[]model.ContentItem](model.CodeMisconfigured, "Imgur: imgur client ID is not configured")
	ts.memes.result = &failed

	w := ts.do(http.MethodGet, "/api/content/memes", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	res := decode[any](t, w)
	if res.Success || !strings.Contains(res.Error, "not configured") {
		t.Errorf("body = %s", w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("error responses need CORS too, got %q", got)
	}
}

func TestEmptySuccessKeepsData(t *testing.T) {
	ts := newTestServer(nil)
	empty := model.OK([]model.ContentItem{})
	ts.memes.result = &empty

	for _, path := range []string{
		"/api/content/memes",
		"/api/content/feed?memes=false&crypto=false&gaming=false",
	} {
		w := ts.do(http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, w.Code)
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
			t.Fatalf("%s: decode %q: %v", path, w.Body.String(), err)
		}
		if got := string(raw["data"]); got != "[]" {
			t.Errorf("%s: data = %q, want []", path, got)
		}
	}
}

func TestFeedRoute(t *testing.T) {
	ts := newTestServer(nil)

	w := ts.do(http.MethodGet, "/api/content/feed?limit=6&gaming=false", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	res := decode[[]model.ContentItem](t, w)
	if len(res.Data) != 6 {
		t.Fatalf("items = %d, want 6", len(res.Data))
	}
	for i := 1; i < len(res.Data); i++ {
		if res.Data[i].PublishedAt.After(res.Data[i-1].PublishedAt) {
			t.Fatalf("feed not sorted newest first at %d", i)
		}
	}
	if ts.gaming.calls.Load() != 0 {
		t.Error("disabled provider must not be fetched")
	}
}

func TestFeedAllProvidersFailed(t *testing.T) {
	ts := newTestServer(nil)
	failed := model.Fail[[]model.ContentItem]("HTTP 503: Service Unavailable")
	ts.memes.result, ts.crypto.result, ts.gaming.result = &failed, &failed, &failed

	w := ts.do(http.MethodGet, "/api/content/feed", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestAllRoutePartialFailure(t *testing.T) {
	ts := newTestServer(nil)
	failed := model.Fail[[]model.ContentItem]("CoinTelegraph: HTTP 502: Bad Gateway")
	ts.crypto.result = &failed

	w := ts.do(http.MethodGet, "/api/content/all?memes=2&gaming=3", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	res := decode[model.AllContent](t, w)
	if !res.Success {
		t.Fatal("partial failure should still succeed")
	}
	if len(res.Data.Memes.Data) != 2 || len(res.Data.Gaming.Data) != 3 {
		t.Errorf("memes=%d gaming=%d", len(res.Data.Memes.Data), len(res.Data.Gaming.Data))
	}
	if res.Data.Crypto.Success || res.Data.Crypto.Error == "" {
		t.Errorf("crypto slot = %+v", res.Data.Crypto)
	}
}

func TestAllRouteEveryProviderFailed(t *testing.T) {
	ts := newTestServer(nil)
	failed := model.Fail[[]model.ContentItem]("HTTP 500")
	ts.memes.result, ts.crypto.result, ts.gaming.result = &failed, &failed, &failed

	w := ts.do(http.MethodGet, "/api/content/all", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	res := decode[any](t, w)
	if res.Error != allFailedMessage {
		t.Errorf("error = %q", res.Error)
	}
}

func TestOptions(t *testing.T) {
	ts := newTestServer(nil)
	for _, path := range []string{"/api/content/memes", "/api/content/feed", "/api/content/all"} {
		w := ts.do(http.MethodOptions, path, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, w.Code)
		}
		if w.Body.Len() != 0 {
			t.Errorf("%s: body should be empty, got %q", path, w.Body.String())
		}
		if got := w.Header().Get("Access-Control-Allow-Methods"); got != allowedMethods {
			t.Errorf("%s: Access-Control-Allow-Methods = %q", path, got)
		}
	}
}

func TestRefresh(t *testing.T) {
	ts := newTestServer(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/content/refresh", strings.NewReader(`{"categories":["memes","feed"]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "req-42") {
		t.Errorf("body = %s", w.Body.String())
	}
	if len(ts.refresher.names) != 2 || ts.refresher.names[0] != "memes" {
		t.Errorf("names = %v", ts.refresher.names)
	}
}

func TestRefreshWithoutBody(t *testing.T) {
	ts := newTestServer(nil)
	if w := ts.do(http.MethodPost, "/api/content/refresh", nil); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ts.refresher.names != nil {
		t.Errorf("names = %v, want all routes", ts.refresher.names)
	}
}

func TestRefreshIsRateLimited(t *testing.T) {
	ts := newTestServer(nil)
	client := map[string]string{"X-Forwarded-For": "6.6.6.6"}

	for i := 0; i < service.RefreshRoute.MaxRequests; i++ {
		if w := ts.do(http.MethodPost, "/api/content/refresh", client); w.Code != http.StatusAccepted {
			t.Fatalf("request %d: status %d", i+1, w.Code)
		}
	}
	w := ts.do(http.MethodPost, "/api/content/refresh", client)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if w := ts.do(http.MethodGet, "/api/content/crypto", client); w.Code != http.StatusOK {
		t.Errorf("refresh budget must not affect content routes, got %d", w.Code)
	}
}

func TestRefreshUnknownCategory(t *testing.T) {
	ts := newTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/content/refresh", strings.NewReader(`{"categories":["weather"]}`))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestRefreshQueueError(t *testing.T) {
	ts := newTestServer(nil)
	ts.refresher.err = errors.New("nats: connection closed")
	if w := ts.do(http.MethodPost, "/api/content/refresh", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(nil)
	if w := ts.do(http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
	if w := ts.do(http.MethodGet, "/ready", nil); w.Code != http.StatusOK {
		t.Errorf("ready status = %d", w.Code)
	}

	down := newTestServer(func(ctx context.Context) error { return errors.New("server selection timeout") })
	if w := down.do(http.MethodGet, "/ready", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with failing check = %d, want 503", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(nil)
	ts.do(http.MethodGet, "/api/content/gaming", nil)

	w := ts.do(http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `path="/api/content/gaming"`) {
		t.Error("request metrics should be labelled by route template")
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": " 1.1.1.1 , 2.2.2.2"}, "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "3.3.3.3"}, "3.3.3.3"},
		{"forwarded wins", map[string]string{"X-Forwarded-For": "4.4.4.4", "X-Real-IP": "3.3.3.3"}, "4.4.4.4"},
		{"none", nil, anonymousClient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := clientKey(req); got != tt.want {
				t.Errorf("clientKey = %q, want %q", got, tt.want)
			}
		})
	}
}
