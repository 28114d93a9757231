package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"intradayetl/config"

	"go.uber.org/zap"
)

func testEtlConfig() config.EtlConfig {
	return config.EtlConfig{
		MaxRetryAttempts: 5,
		DefaultRetryTime: 60 * time.Second,
		MinRetryTime:     10 * time.Second,
		MaxRetryTime:     300 * time.Second,
		DefaultStartDate: "2014-11-01",
		DataInterval:     "1h",
		DataPeriod:       "1d",
	}
}

func f(v float64) *float64 { return &v }

func completeBar(ts time.Time) Bar {
	return Bar{Timestamp: ts, Open: f(1), Close: f(2), High: f(3), Low: f(0.5), Volume: f(100)}
}

type fakeStore struct {
	mu sync.Mutex

	tickers   []Ticker
	last      map[int64]*time.Time
	lastErr   map[int64]error
	lastCalls int

	inserted  []Record
	insertErr map[int64]error

	decisions   []Decision
	decisionErr error
}

func (s *fakeStore) ListTickers(context.Context) []Ticker { return s.tickers }

func (s *fakeStore) LastTimestamp(_ context.Context, tickerID int64) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCalls++
	if err := s.lastErr[tickerID]; err != nil {
		return nil, err
	}
	return s.last[tickerID], nil
}

func (s *fakeStore) InsertRecord(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertErr[rec.TickerID]; err != nil {
		return err
	}
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *fakeStore) AppendDecision(_ context.Context, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return s.decisionErr
}

// fakeFeed replays a scripted list of responses per symbol.
type fakeFeed struct {
	mu sync.Mutex

	responses map[string][]fetchResult
	calls     int
	starts    []time.Time
}

type fetchResult struct {
	bars []Bar
	err  error
}

func (ff *fakeFeed) FetchBars(_ context.Context, symbol string, start time.Time, _, _ string) ([]Bar, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.calls++
	ff.starts = append(ff.starts, start)
	script := ff.responses[symbol]
	if len(script) == 0 {
		return nil, nil
	}
	next := script[0]
	ff.responses[symbol] = script[1:]
	return next.bars, next.err
}

type fakeAdvisor struct {
	delay time.Duration
	err   error
	calls int
}

func (a *fakeAdvisor) SuggestDelay(context.Context, int, string) (time.Duration, error) {
	a.calls++
	return a.delay, a.err
}

func newTestExtractor(store *fakeStore, feed *fakeFeed, adv *fakeAdvisor) (*Extractor, *[]time.Duration) {
	var sleeps []time.Duration
	e := NewExtractor(store, feed, adv, testEtlConfig(), zap.NewNop())
	e.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	e.now = func() time.Time { return time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC) }
	return e, &sleeps
}

func runExtractor(e *Extractor, tickers []Ticker) []RawBar {
	ch := make(chan RawBar, 128)
	go e.Run(context.Background(), tickers, ch)
	var out []RawBar
	for b := range ch {
		out = append(out, b)
	}
	return out
}

func TestExtractorSkipsInvalidTickers(t *testing.T) {
	store := &fakeStore{}
	feed := &fakeFeed{responses: map[string][]fetchResult{}}
	e, _ := newTestExtractor(store, feed, &fakeAdvisor{})

	bars := runExtractor(e, []Ticker{
		{ID: 0, Symbol: "AAPL"},
		{ID: 7, Symbol: ""},
	})

	if len(bars) != 0 {
		t.Errorf("expected no bars, got %d", len(bars))
	}
	if feed.calls != 0 {
		t.Errorf("feed must not be invoked for invalid tickers, got %d calls", feed.calls)
	}
	if store.lastCalls != 0 {
		t.Errorf("store must not be queried for invalid tickers, got %d calls", store.lastCalls)
	}
}

func TestExtractorAbandonsTickerOnStoreError(t *testing.T) {
	store := &fakeStore{
		lastErr: map[int64]error{1: errors.New("connection refused")},
	}
	feed := &fakeFeed{responses: map[string][]fetchResult{
		"MSFT": {{bars: []Bar{completeBar(time.Now())}}},
	}}
	e, sleeps := newTestExtractor(store, feed, &fakeAdvisor{})

	bars := runExtractor(e, []Ticker{
		{ID: 1, Symbol: "AAPL"},
		{ID: 2, Symbol: "MSFT"},
	})

	// No retry on the metadata lookup: AAPL is dropped, MSFT proceeds.
	if got := len(bars); got != 1 {
		t.Fatalf("expected 1 bar from MSFT, got %d", got)
	}
	if bars[0].TickerID != 2 {
		t.Errorf("expected bar for ticker 2, got %d", bars[0].TickerID)
	}
	if len(*sleeps) != 0 {
		t.Errorf("expected no retry sleeps, got %v", *sleeps)
	}
}

func TestExtractorEmptyFetchDoesNotRetry(t *testing.T) {
	store := &fakeStore{}
	feed := &fakeFeed{responses: map[string][]fetchResult{
		"AAPL": {{bars: nil}},
	}}
	e, sleeps := newTestExtractor(store, feed, &fakeAdvisor{})

	bars := runExtractor(e, []Ticker{{ID: 1, Symbol: "AAPL"}})

	if len(bars) != 0 {
		t.Errorf("expected no bars, got %d", len(bars))
	}
	if feed.calls != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", feed.calls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("expected no sleeps for empty result, got %v", *sleeps)
	}
	if len(store.decisions) != 0 {
		t.Errorf("empty result must not write a decision, got %d", len(store.decisions))
	}
}

func TestExtractorEmitsBarsWithHourWindow(t *testing.T) {
	ts := time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	feed := &fakeFeed{responses: map[string][]fetchResult{
		"AAPL": {{bars: []Bar{completeBar(ts), completeBar(ts.Add(time.Hour))}}},
	}}
	e, _ := newTestExtractor(store, feed, &fakeAdvisor{})

	bars := runExtractor(e, []Ticker{{ID: 42, Symbol: "AAPL"}})

	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	for i, b := range bars {
		if b.TickerID != 42 {
			t.Errorf("bar %d: wrong ticker id %d", i, b.TickerID)
		}
		if !b.End.Equal(b.Start.Add(time.Hour)) {
			t.Errorf("bar %d: end %v is not start+1h (%v)", i, b.End, b.Start)
		}
	}
	// One successful fetch terminates the loop for the ticker.
	if feed.calls != 1 {
		t.Errorf("expected 1 fetch, got %d", feed.calls)
	}
}

func TestExtractorResumesFromLastTimestamp(t *testing.T) {
	last := time.Date(2024, 2, 5, 15, 0, 0, 0, time.UTC)
	store := &fakeStore{last: map[int64]*time.Time{1: &last}}
	feed := &fakeFeed{responses: map[string][]fetchResult{
		"AAPL": {{bars: []Bar{completeBar(last)}}},
	}}
	e, _ := newTestExtractor(store, feed, &fakeAdvisor{})

	runExtractor(e, []Ticker{{ID: 1, Symbol: "AAPL"}})

	if len(feed.starts) != 1 {
		t.Fatalf("expected 1 fetch, got %d", len(feed.starts))
	}
	want := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	if !feed.starts[0].Equal(want) {
		t.Errorf("expected start at calendar date %v, got %v", want, feed.starts[0])
	}
}

func TestExtractorDefaultStartDate(t *testing.T) {
	store := &fakeStore{}
	feed := &fakeFeed{responses: map[string][]fetchResult{
		"AAPL": {{bars: []Bar{completeBar(time.Now())}}},
	}}
	e, _ := newTestExtractor(store, feed, &fakeAdvisor{})

	runExtractor(e, []Ticker{{ID: 1, Symbol: "AAPL"}})

	want := time.Date(2014, 11, 1, 0, 0, 0, 0, time.UTC)
	if len(feed.starts) != 1 || !feed.starts[0].Equal(want) {
		t.Errorf("expected default start date %v, got %v", want, feed.starts)
	}
}

func TestExtractorThrottleExhaustion(t *testing.T) {
	throttled := fetchResult{err: fmt.Errorf("429: %w", ErrThrottled)}
	store := &fakeStore{}
	feed := &fakeFeed{responses: map[string][]fetchResult{
		"AAPL": {throttled, throttled, throttled, throttled, throttled},
		"MSFT": {{bars: []Bar{completeBar(time.Now())}}},
	}}
	adv := &fakeAdvisor{delay: 30 * time.Second}
	e, sleeps := newTestExtractor(store, feed, adv)

	bars := runExtractor(e, []Ticker{
		{ID: 1, Symbol: "AAPL"},
		{ID: 2, Symbol: "MSFT"},
	})

	if got := len(store.decisions); got != 1 {
		t.Fatalf("expected exactly 1 decision, got %d", got)
	}
	d := store.decisions[0]
	if d.Type != DecisionRetryExtract {
		t.Errorf("wrong decision type %q", d.Type)
	}
	if d.Status != DecisionPending {
		t.Errorf("wrong decision status %q", d.Status)
	}
	// Reason names the ticker that was abandoned.
	if want := "AAPL"; !strings.Contains(d.Reason, want) {
		t.Errorf("decision reason %q does not name ticker %q", d.Reason, want)
	}

	// Zero bars for the exhausted ticker, the next one still runs.
	if len(bars) != 1 || bars[0].TickerID != 2 {
		t.Errorf("expected only the MSFT bar, got %+v", bars)
	}
	// Sleeps happen between attempts, not after the last one.
	if len(*sleeps) != 4 {
		t.Errorf("expected 4 sleeps, got %d", len(*sleeps))
	}
	if adv.calls != 4 {
		t.Errorf("expected advisor consulted 4 times, got %d", adv.calls)
	}
}

func TestExtractorThrottleDelayClamping(t *testing.T) {
	tests := []struct {
		name  string
		delay time.Duration
		err   error
		want  time.Duration
	}{
		{"within bounds", 120 * time.Second, nil, 120 * time.Second},
		{"above max clamps", 5000 * time.Second, nil, 300 * time.Second},
		{"below min clamps", 1 * time.Second, nil, 10 * time.Second},
		{"advisor failure uses default", 0, errors.New("no numeric delay"), 60 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{}
			feed := &fakeFeed{responses: map[string][]fetchResult{
				"AAPL": {
					{err: fmt.Errorf("rate limited: %w", ErrThrottled)},
					{bars: []Bar{completeBar(time.Now())}},
				},
			}}
			e, sleeps := newTestExtractor(store, feed, &fakeAdvisor{delay: tc.delay, err: tc.err})

			runExtractor(e, []Ticker{{ID: 1, Symbol: "AAPL"}})

			if len(*sleeps) != 1 {
				t.Fatalf("expected 1 sleep, got %d", len(*sleeps))
			}
			if (*sleeps)[0] != tc.want {
				t.Errorf("expected sleep %v, got %v", tc.want, (*sleeps)[0])
			}
		})
	}
}

func TestExtractorGenericFailureUsesDefaultDelay(t *testing.T) {
	store := &fakeStore{}
	feed := &fakeFeed{responses: map[string][]fetchResult{
		"AAPL": {
			{err: errors.New("connection reset")},
			{bars: []Bar{completeBar(time.Now())}},
		},
	}}
	adv := &fakeAdvisor{delay: 120 * time.Second}
	e, sleeps := newTestExtractor(store, feed, adv)

	bars := runExtractor(e, []Ticker{{ID: 1, Symbol: "AAPL"}})

	if len(bars) != 1 {
		t.Fatalf("expected recovery after retry, got %d bars", len(bars))
	}
	if adv.calls != 0 {
		t.Errorf("advisor must not be consulted for generic failures, got %d calls", adv.calls)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 60*time.Second {
		t.Errorf("expected one default 60s sleep, got %v", *sleeps)
	}
}

func TestExtractorGenericFailureExhaustion(t *testing.T) {
	broken := fetchResult{err: errors.New("connection reset")}
	store := &fakeStore{}
	feed := &fakeFeed{responses: map[string][]fetchResult{
		"AAPL": {broken, broken, broken, broken, broken},
		"MSFT": {{bars: []Bar{completeBar(time.Now())}}},
	}}
	adv := &fakeAdvisor{}
	e, sleeps := newTestExtractor(store, feed, adv)

	bars := runExtractor(e, []Ticker{
		{ID: 1, Symbol: "AAPL"},
		{ID: 2, Symbol: "MSFT"},
	})

	if got := len(store.decisions); got != 1 {
		t.Fatalf("expected exactly 1 decision, got %d", got)
	}
	d := store.decisions[0]
	if d.Type != DecisionRetryExtract {
		t.Errorf("wrong decision type %q", d.Type)
	}
	if want := "AAPL"; !strings.Contains(d.Reason, want) {
		t.Errorf("decision reason %q does not name ticker %q", d.Reason, want)
	}
	if len(bars) != 1 || bars[0].TickerID != 2 {
		t.Errorf("expected only the MSFT bar, got %+v", bars)
	}
	// Sleeps between attempts use the default, the advisor stays out of it.
	if len(*sleeps) != 4 || (*sleeps)[0] != 60*time.Second {
		t.Errorf("expected 4 default 60s sleeps, got %v", *sleeps)
	}
	if adv.calls != 0 {
		t.Errorf("advisor must not be consulted for generic failures, got %d calls", adv.calls)
	}
}

func TestExtractorContinuesWhenDecisionWriteFails(t *testing.T) {
	throttled := fetchResult{err: fmt.Errorf("429: %w", ErrThrottled)}
	store := &fakeStore{decisionErr: errors.New("decision_log unavailable")}
	feed := &fakeFeed{responses: map[string][]fetchResult{
		"AAPL": {throttled, throttled, throttled, throttled, throttled},
		"MSFT": {{bars: []Bar{completeBar(time.Now())}}},
	}}
	e, _ := newTestExtractor(store, feed, &fakeAdvisor{delay: 30 * time.Second})

	// A failing audit write is logged and swallowed, the batch goes on.
	bars := runExtractor(e, []Ticker{
		{ID: 1, Symbol: "AAPL"},
		{ID: 2, Symbol: "MSFT"},
	})

	if len(bars) != 1 || bars[0].TickerID != 2 {
		t.Errorf("expected only the MSFT bar, got %+v", bars)
	}
	if len(store.decisions) != 1 {
		t.Errorf("expected 1 attempted decision write, got %d", len(store.decisions))
	}
}
