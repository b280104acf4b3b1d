package aggregator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"content-service/model"
)

type stubProvider struct {
	name     string
	category model.Category
	items    []model.ContentItem
	fail     string
	panics   bool
	delay    time.Duration
	gotLimit atomic.Int64
	calls    atomic.Int64
}

func (s *stubProvider) Name() string             { return s.name }
func (s *stubProvider) Category() model.Category { return s.category }

func (s *stubProvider) Fetch(ctx context.Context, limit int) model.Result[[]model.ContentItem] {
	s.calls.Add(1)
	s.gotLimit.Store(int64(limit))
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.panics {
		panic("connection reset")
	}
	if s.fail != "" {
		return model.Fail[[]model.ContentItem](s.fail)
	}
	items := s.items
	if len(items) > limit {
		items = items[:limit]
	}
	return model.OK(items)
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func item(source string, category model.Category, id string, age time.Duration) model.ContentItem {
	return model.ContentItem{ID: id, Title: id, URL: "https://example.com/" + id, Source: source, Category: category, PublishedAt: base.Add(-age)}
}

func newStubs() (*stubProvider, *stubProvider, *stubProvider) {
	memes := &stubProvider{name: "Imgur", category: model.CategoryMeme,
		items: []model.ContentItem{item("Imgur", model.CategoryMeme, "m1", time.Hour)}}
	crypto := &stubProvider{name: "CoinTelegraph", category: model.CategoryCrypto,
		items: []model.ContentItem{item("CoinTelegraph", model.CategoryCrypto, "c1", 3*time.Hour)}}
	gaming := &stubProvider{name: "IGN", category: model.CategoryGaming,
		items: []model.ContentItem{item("IGN", model.CategoryGaming, "g1", 2*time.Hour)}}
	return memes, crypto, gaming
}

func TestGetAllContentPartialFailure(t *testing.T) {
	memes, crypto, gaming := newStubs()
	crypto.panics = true

	out := New(memes, crypto, gaming).GetAllContent(context.Background(), Limits{})

	if out.Memes == nil || !out.Memes.Success {
		t.Fatalf("memes slot = %+v, want success", out.Memes)
	}
	if out.Gaming == nil || !out.Gaming.Success {
		t.Fatalf("gaming slot = %+v, want success", out.Gaming)
	}
	if out.Crypto == nil || out.Crypto.Success {
		t.Fatalf("crypto slot = %+v, want failure", out.Crypto)
	}
	if out.Crypto.Error != "Failed to fetch crypto" {
		t.Errorf("crypto error = %q", out.Crypto.Error)
	}
}

func TestGetAllContentKeepsProviderError(t *testing.T) {
	memes, crypto, gaming := newStubs()
	gaming.fail = "IGN: HTTP 503: Service Unavailable"

	out := New(memes, crypto, gaming).GetAllContent(context.Background(), Limits{})
	if out.Gaming.Success || out.Gaming.Error != gaming.fail {
		t.Errorf("gaming slot = %+v", out.Gaming)
	}
	if !out.Memes.Success || !out.Crypto.Success {
		t.Error("siblings of a failed provider must succeed")
	}
}

func TestGetAllContentLimits(t *testing.T) {
	memes, crypto, gaming := newStubs()
	New(memes, crypto, gaming).GetAllContent(context.Background(), Limits{Memes: 5, Gaming: 7})

	if got := memes.gotLimit.Load(); got != 5 {
		t.Errorf("memes limit = %d, want 5", got)
	}
	if got := crypto.gotLimit.Load(); got != DefaultLimit {
		t.Errorf("crypto limit = %d, want default %d", got, DefaultLimit)
	}
	if got := gaming.gotLimit.Load(); got != 7 {
		t.Errorf("gaming limit = %d, want 7", got)
	}
}

func TestGetAllContentRunsConcurrently(t *testing.T) {
	memes, crypto, gaming := newStubs()
	for _, p := range []*stubProvider{memes, crypto, gaming} {
		p.delay = 100 * time.Millisecond
	}

	start := time.Now()
	New(memes, crypto, gaming).GetAllContent(context.Background(), Limits{})
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("fan-out took %v, providers should overlap", elapsed)
	}
}

func TestGetMixedFeedOrdering(t *testing.T) {
	memes, crypto, gaming := newStubs()
	res := New(memes, crypto, gaming).GetMixedFeed(context.Background(), 3)

	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	want := []string{"m1", "g1", "c1"}
	if len(res.Data) != len(want) {
		t.Fatalf("got %d items, want %d", len(res.Data), len(want))
	}
	for i, id := range want {
		if res.Data[i].ID != id {
			t.Errorf("item %d = %s, want %s", i, res.Data[i].ID, id)
		}
	}
}

func TestGetMixedFeedTruncation(t *testing.T) {
	memes, crypto, gaming := newStubs()
	res := New(memes, crypto, gaming).GetMixedFeed(context.Background(), 2)

	if len(res.Data) != 2 {
		t.Fatalf("got %d items, want 2", len(res.Data))
	}
	if res.Data[0].ID != "m1" || res.Data[1].ID != "g1" {
		t.Errorf("got %s,%s want the two most recent m1,g1", res.Data[0].ID, res.Data[1].ID)
	}
}

func TestGetMixedFeedPerCategoryLimit(t *testing.T) {
	memes, crypto, gaming := newStubs()
	New(memes, crypto, gaming).GetMixedFeed(context.Background(), 10)

	for _, p := range []*stubProvider{memes, crypto, gaming} {
		if got := p.gotLimit.Load(); got != 4 {
			t.Errorf("%s limit = %d, want ceil(10/3)=4", p.name, got)
		}
	}
}

func TestGetMixedFeedStableForEqualTimestamps(t *testing.T) {
	memes, crypto, gaming := newStubs()
	memes.items = []model.ContentItem{item("Imgur", model.CategoryMeme, "m1", 0)}
	crypto.items = []model.ContentItem{item("CoinTelegraph", model.CategoryCrypto, "c1", 0)}
	gaming.items = []model.ContentItem{item("IGN", model.CategoryGaming, "g1", 0)}

	res := New(memes, crypto, gaming).GetMixedFeed(context.Background(), 3)
	for i, id := range []string{"m1", "c1", "g1"} {
		if res.Data[i].ID != id {
			t.Errorf("item %d = %s, want %s", i, res.Data[i].ID, id)
		}
	}
}

func TestGetMixedFeedSkipsFailedProviders(t *testing.T) {
	memes, crypto, gaming := newStubs()
	memes.fail = "boom"
	gaming.panics = true

	res := New(memes, crypto, gaming).GetMixedFeed(context.Background(), 5)
	if !res.Success {
		t.Fatalf("mixed feed should tolerate provider failures, got %q", res.Error)
	}
	if len(res.Data) != 1 || res.Data[0].ID != "c1" {
		t.Errorf("got %+v, want only c1", res.Data)
	}
}

func TestGetMixedFeedAllFailedStillSucceeds(t *testing.T) {
	memes, crypto, gaming := newStubs()
	memes.fail, crypto.fail, gaming.fail = "a", "b", "c"

	res := New(memes, crypto, gaming).GetMixedFeed(context.Background(), 5)
	if !res.Success || len(res.Data) != 0 {
		t.Errorf("got %+v, want empty success", res)
	}
}

func TestGetMixedFeedFromSelection(t *testing.T) {
	memes, crypto, gaming := newStubs()
	res := New(memes, crypto, gaming).GetMixedFeedFrom(context.Background(), 4, Selection{Memes: true, Gaming: true})

	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if crypto.calls.Load() != 0 {
		t.Error("unselected provider must not be called")
	}
	if got := memes.gotLimit.Load(); got != 2 {
		t.Errorf("per-category limit = %d, want ceil(4/2)=2", got)
	}
	if len(res.Data) != 2 || res.Data[0].ID != "m1" || res.Data[1].ID != "g1" {
		t.Errorf("got %+v", res.Data)
	}
}

func TestGetMixedFeedFromAllSelectedFailed(t *testing.T) {
	memes, crypto, gaming := newStubs()
	memes.fail = "down"
	crypto.panics = true

	res := New(memes, crypto, gaming).GetMixedFeedFrom(context.Background(), 10, Selection{Memes: true, Crypto: true})
	if res.Success {
		t.Fatal("expected failure when every selected provider failed")
	}
	if res.Code != model.CodeAggregation {
		t.Errorf("Code = %q, want %q", res.Code, model.CodeAggregation)
	}
}

func TestGetMixedFeedFromNothingSelected(t *testing.T) {
	memes, crypto, gaming := newStubs()
	res := New(memes, crypto, gaming).GetMixedFeedFrom(context.Background(), 10, Selection{})
	if !res.Success || len(res.Data) != 0 {
		t.Errorf("got %+v, want empty success", res)
	}
}

func TestFetchSingleCategory(t *testing.T) {
	memes, crypto, gaming := newStubs()
	memes.panics = true
	a := New(memes, crypto, gaming)

	if res := a.Fetch(context.Background(), model.CategoryMeme, 5); res.Success || res.Error != "Failed to fetch memes" {
		t.Errorf("meme fetch = %+v", res)
	}
	if res := a.Fetch(context.Background(), model.CategoryGaming, 5); !res.Success || len(res.Data) != 1 {
		t.Errorf("gaming fetch = %+v", res)
	}
	if res := a.Fetch(context.Background(), model.CategoryTech, 5); res.Success {
		t.Error("tech has no provider and should fail")
	}
}

func TestMixedFeedNonPositiveLimitIsEmpty(t *testing.T) {
	for _, limit := range []int{0, -1, -50} {
		memes, crypto, gaming := newStubs()
		agg := New(memes, crypto, gaming)

		for name, res := range map[string]model.Result[[]model.ContentItem]{
			"GetMixedFeed":     agg.GetMixedFeed(context.Background(), limit),
			"GetMixedFeedFrom": agg.GetMixedFeedFrom(context.Background(), limit, All),
		} {
			if !res.Success || res.Data == nil || len(res.Data) != 0 {
				t.Errorf("%s(%d) = %+v, want empty success", name, limit, res)
			}
		}
		if n := memes.calls.Load() + crypto.calls.Load() + gaming.calls.Load(); n != 0 {
			t.Errorf("limit %d: providers called %d times", limit, n)
		}
	}
}
