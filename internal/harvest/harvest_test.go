package harvest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ObiAU/commentcurator/internal/models"
	"github.com/ObiAU/commentcurator/internal/sources"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubFetcher struct {
	results map[string]sources.FetchResult
	panics  map[string]bool
	delay   map[string]time.Duration

	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func (f *stubFetcher) FetchDetailed(ctx context.Context, spec models.SourceSpec) sources.FetchResult {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxFlight.Load()
		if n <= cur || f.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if d := f.delay[spec.Name]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return sources.FetchResult{ListErr: ctx.Err()}
		}
	}
	if f.panics[spec.Name] {
		panic("source exploded")
	}
	return f.results[spec.Name]
}

func entries(source string, ids ...string) []models.RawEntry {
	out := make([]models.RawEntry, len(ids))
	for i, id := range ids {
		out[i] = models.RawEntry{ID: id, Source: source, Body: "body " + id}
	}
	return out
}

func specs(names ...string) []models.SourceSpec {
	out := make([]models.SourceSpec, len(names))
	for i, n := range names {
		out[i] = models.SourceSpec{Name: n, Mode: models.RankHot}
	}
	return out
}

func ids(es []models.RawEntry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func TestHarvestOneSourceFails(t *testing.T) {
	fetcher := &stubFetcher{
		results: map[string]sources.FetchResult{
			"A": {Parents: []models.Parent{{ID: "pa"}}, Entries: entries("A", "a1", "a2", "a3")},
			"B": {ListErr: errors.New("503")},
			"C": {Parents: []models.Parent{{ID: "pc"}}, Entries: entries("C", "c1", "c2")},
		},
	}

	res := New(fetcher, nil).Harvest(context.Background(), specs("A", "B", "C"))

	if diff := cmp.Diff([]string{"a1", "a2", "a3", "c1", "c2"}, ids(res.Entries)); diff != "" {
		t.Errorf("merged entries mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, res.SuccessfulSources())
	assert.Equal(t, 2, res.TotalParents())
	require.Len(t, res.Sources, 3)
	assert.Error(t, res.Sources[1].Err)
}

func TestHarvestOrderIndependentOfCompletion(t *testing.T) {
	fetcher := &stubFetcher{
		results: map[string]sources.FetchResult{
			"slow": {Entries: entries("slow", "s1")},
			"fast": {Entries: entries("fast", "f1")},
		},
		delay: map[string]time.Duration{"slow": 40 * time.Millisecond},
	}

	res := New(fetcher, nil).Harvest(context.Background(), specs("slow", "fast"))
	assert.Equal(t, []string{"s1", "f1"}, ids(res.Entries))
}

func TestHarvestRecoversPanics(t *testing.T) {
	fetcher := &stubFetcher{
		results: map[string]sources.FetchResult{
			"ok": {Entries: entries("ok", "o1")},
		},
		panics: map[string]bool{"bad": true},
	}

	res := New(fetcher, nil).Harvest(context.Background(), specs("bad", "ok"))
	assert.Equal(t, []string{"o1"}, ids(res.Entries))
	assert.ErrorContains(t, res.Sources[0].Err, "panic")
}

func TestHarvestBoundsConcurrency(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	delay := make(map[string]time.Duration, len(names))
	for _, n := range names {
		delay[n] = 15 * time.Millisecond
	}
	fetcher := &stubFetcher{delay: delay}

	New(fetcher, nil).Harvest(context.Background(), specs(names...))
	assert.LessOrEqual(t, fetcher.maxFlight.Load(), int32(OuterConcurrency))
}

func TestHarvestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &stubFetcher{results: map[string]sources.FetchResult{"a": {Entries: entries("a", "x")}}}
	res := New(fetcher, nil).Harvest(ctx, specs("a"))
	assert.Empty(t, res.Entries)
	assert.ErrorIs(t, res.Sources[0].Err, context.Canceled)
}

func TestResultStats(t *testing.T) {
	assert.Zero(t, Result{}.EntriesPerSecond())

	r := Result{Entries: entries("a", "1", "2", "3", "4"), Elapsed: 2 * time.Second}
	assert.InDelta(t, 2.0, r.EntriesPerSecond(), 1e-9)
}
