package reflex

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"/status", []string{"status"}},
		{"Check the STATUS, please!", []string{"check", "the", "status", "please"}},
		{"a b c", nil},
		{"status status status", []string{"status"}},
		{"", nil},
		{"안녕 세계", []string{"안녕", "세계"}},
	}
	for _, c := range cases {
		got := Tokenize(c.in)
		if len(got) == 0 && len(c.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestMatchDirectTrigger(t *testing.T) {
	x, err := NewPatternIndex()
	if err != nil {
		t.Fatal(err)
	}
	x.AddTrigger("status_report", "status", "health")

	got, err := x.Match("/status")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Reflex != "status_report" {
		t.Fatalf("Match = %+v, want single status_report", got)
	}
	if got[0].Hits() != 1 {
		t.Errorf("hits = %d, want 1", got[0].Hits())
	}
}

func TestMatchThroughAlias(t *testing.T) {
	x, err := NewPatternIndex()
	if err != nil {
		t.Fatal(err)
	}
	x.AddTrigger("status_report", "alive")
	x.AddAlias("ping", "alive")

	got, err := x.Match("ping")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Reflex != "status_report" {
		t.Fatalf("alias did not resolve: %+v", got)
	}
	// The hit carries the canonical tag, not the alias surface form.
	if got[0].Tags[0] != "alive" {
		t.Errorf("hit tag = %s, want alive", got[0].Tags[0])
	}
}

func TestMatchOrdersByHitCount(t *testing.T) {
	x, err := NewPatternIndex()
	if err != nil {
		t.Fatal(err)
	}
	x.AddTrigger("narrow", "roadmap")
	x.AddTrigger("wide", "roadmap", "progress")

	got, err := x.Match("roadmap progress update")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 candidates, got %+v", got)
	}
	if got[0].Reflex != "wide" || got[0].Hits() != 2 {
		t.Errorf("top candidate = %+v, want wide with 2 hits", got[0])
	}
	if got[1].Reflex != "narrow" {
		t.Errorf("second candidate = %+v, want narrow", got[1])
	}
}

func TestMatchIsolatedBetweenLookups(t *testing.T) {
	x, err := NewPatternIndex()
	if err != nil {
		t.Fatal(err)
	}
	x.AddTrigger("greeting", "hello")

	if _, err := x.Match("hello there"); err != nil {
		t.Fatal(err)
	}
	// A second, unrelated lookup must not see the first key's tags.
	got, err := x.Match("unrelated words entirely")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("stale context leaked into second lookup: %+v", got)
	}
}

func TestMatchEmptyKey(t *testing.T) {
	x, err := NewPatternIndex()
	if err != nil {
		t.Fatal(err)
	}
	x.AddTrigger("greeting", "hello")
	got, err := x.Match("   !!! ")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("want nil for tokenless key, got %+v", got)
	}
}

func TestVocabSize(t *testing.T) {
	x, err := NewPatternIndex()
	if err != nil {
		t.Fatal(err)
	}
	x.AddTrigger("status_report", "status", "health", "uptime")
	if n := x.VocabSize("status_report"); n != 3 {
		t.Errorf("VocabSize = %d, want 3", n)
	}
	if n := x.VocabSize("missing"); n != 0 {
		t.Errorf("VocabSize(missing) = %d, want 0", n)
	}
}
