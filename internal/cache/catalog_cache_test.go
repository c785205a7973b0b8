package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type catalogue struct {
	Models []string `json:"models"`
}

func TestSetGet(t *testing.T) {
	c := New(t.TempDir(), time.Minute, nil)
	if c.Get("config", &catalogue{}) {
		t.Fatalf("empty cache reported a hit")
	}
	if err := c.Set("config", catalogue{Models: []string{"gpt-4o"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var got catalogue
	if !c.Get("config", &got) || len(got.Models) != 1 || got.Models[0] != "gpt-4o" {
		t.Fatalf("Get = %+v", got)
	}
}

func TestFileLevelSurvivesNewCache(t *testing.T) {
	dir := t.TempDir()
	if err := New(dir, time.Minute, nil).Set("http://localhost:8000/tickers", []string{"AAPL"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var got []string
	if !New(dir, time.Minute, nil).Get("http://localhost:8000/tickers", &got) || len(got) != 1 {
		t.Fatalf("entry not read back from disk: %v", got)
	}
}

func TestExpiry(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	c := New(dir, time.Minute, nil)
	c.now = func() time.Time { return now }
	if err := c.Set("k", 1); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	var v int
	if c.Get("k", &v) {
		t.Fatalf("expired entry returned")
	}
}

func TestFetch(t *testing.T) {
	c := New("", time.Minute, nil)
	calls := 0
	fetch := func(context.Context) ([]string, error) {
		calls++
		return []string{"NVDA"}, nil
	}

	for i := 0; i < 2; i++ {
		got, err := Fetch(context.Background(), c, "tickers", false, fetch)
		if err != nil || len(got) != 1 {
			t.Fatalf("Fetch = %v, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("fetch called %d times, want 1", calls)
	}
	if _, err := Fetch(context.Background(), c, "tickers", true, fetch); err != nil || calls != 2 {
		t.Fatalf("refresh did not bypass cache: calls=%d err=%v", calls, err)
	}

	boom := errors.New("boom")
	_, err := Fetch(context.Background(), c, "other", false, func(context.Context) ([]string, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if c.Get("other", new([]string)) {
		t.Fatalf("failed fetch was cached")
	}
}

func TestClear(t *testing.T) {
	c := New(t.TempDir(), time.Minute, nil)
	_ = c.Set("k", "v")
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if c.Get("k", new(string)) {
		t.Fatalf("entry survived Clear")
	}
}
