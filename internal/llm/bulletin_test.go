package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/talgya/contagion/internal/engine"
)

func sampleState() engine.State {
	h := engine.NewHistory()
	h.Append(engine.Stats{S: 95, I: 5})
	h.Append(engine.Stats{S: 88, I: 11, R: 1})
	h.Append(engine.Stats{S: 84, I: 13, R: 2, D: 1})
	return engine.State{Day: 3, Stats: h.At(2), History: h}
}

func TestNewBulletinData(t *testing.T) {
	d := NewBulletinData(engine.DefaultParameters(), sampleState())
	if d.Population != 100 || d.NewCases() != 4 {
		t.Fatalf("population=%d new=%d", d.Population, d.NewCases())
	}
	if d.PeakI != 13 || d.PeakDay != 3 {
		t.Fatalf("peak = %d on day %d", d.PeakI, d.PeakDay)
	}
}

func TestFallbackWithoutClient(t *testing.T) {
	b, err := GenerateBulletin(context.Background(), nil, NewBulletinData(engine.DefaultParameters(), sampleState()))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if b.Source != "fallback" || b.Day != 3 {
		t.Fatalf("bulletin = %+v", b)
	}
	for _, want := range []string{"Day 3", "84 healthy", "rising (4 new today)", "1 died since yesterday"} {
		if !strings.Contains(b.Content, want) {
			t.Fatalf("content missing %q:\n%s", want, b.Content)
		}
	}
}

func TestBulletinFromAPI(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"content":[{"text":"All is well."}],"usage":{"input_tokens":1,"output_tokens":2}}`))
	}))
	defer srv.Close()

	c := NewClient("k", "").WithURL(srv.URL)
	b, err := GenerateBulletin(context.Background(), c, NewBulletinData(engine.DefaultParameters(), sampleState()))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if b.Source != "llm" || b.Content != "All is well." {
		t.Fatalf("bulletin = %+v", b)
	}
	if got.Model != DefaultModel || !strings.Contains(got.Messages[0].Content, "NEW CASES TODAY: 4") {
		t.Fatalf("request = %+v", got)
	}
}

func TestBulletinFallsBackOnAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("k", "").WithURL(srv.URL)
	b, err := GenerateBulletin(context.Background(), c, NewBulletinData(engine.DefaultParameters(), sampleState()))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if b.Source != "fallback" {
		t.Fatalf("source = %q, want fallback", b.Source)
	}
}

func TestNilClientDisabled(t *testing.T) {
	if NewClient("", "") != nil {
		t.Fatal("client created without key")
	}
	var c *Client
	if c.Enabled() {
		t.Fatal("nil client enabled")
	}
}
