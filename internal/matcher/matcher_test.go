package matcher

import (
	"testing"
	"time"

	"narrative-core/internal/core"
)

func fp(nucleus, focus string, actors, actions []string) core.Fingerprint {
	return core.Fingerprint{NucleusEntity: nucleus, NarrativeFocus: focus, TopActors: actors, KeyActions: actions}
}

func TestSimilarity_ExactMatch(t *testing.T) {
	a := fp("Bitcoin", "price surge", []string{"Bitcoin", "ETF"}, []string{"rallied"})
	if sim := Similarity(a, a); sim != 1.0 {
		t.Errorf("sim(x,x) = %v, want 1.0", sim)
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	a := fp("Bitcoin", "price surge", []string{"Bitcoin", "ETF"}, nil)
	b := fp("Bitcoin", "governance dispute", []string{"SEC"}, nil)
	if Similarity(a, b) != Similarity(b, a) {
		t.Errorf("similarity is not symmetric")
	}
}

func TestSimilarity_HardGateFails(t *testing.T) {
	a := fp("Bitcoin", "price surge", []string{"Bitcoin", "ETF", "BlackRock"}, []string{"rallied"})
	b := fp("Ethereum", "supply shock", []string{"Bitcoin", "ETF", "BlackRock"}, []string{"rallied"})
	if sim := Similarity(a, b); sim != 0 {
		t.Errorf("sim = %v, want 0 (hard gate should fail)", sim)
	}
}

func TestSimilarity_EmptyFocusBothSides(t *testing.T) {
	// nucleus equal, focus empty both sides, no actors/actions
	a := fp("Bitcoin", "", nil, nil)
	b := fp("Bitcoin", "", nil, nil)
	sim := Similarity(a, b)
	want := 0.5*0.5 + 0.3*1 + 0 + 0
	if diff := sim - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("sim = %v, want %v", sim, want)
	}
	if sim >= ExtendThreshold {
		t.Errorf("sim %v should be below extend threshold by design", sim)
	}
}

func TestSimilarity_ScenarioExtendSameDay(t *testing.T) {
	n1 := fp("Bitcoin", "price surge", []string{"Bitcoin", "ETF", "BlackRock"}, nil)
	a3 := fp("Bitcoin", "price surge", []string{"Bitcoin", "BlackRock"}, nil)
	sim := Similarity(n1, a3)
	want := 0.5*1.0 + 0.3*1.0 + 0.1*(2.0/3.0) + 0.1*0
	if diff := sim - want; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("sim = %v, want %v", sim, want)
	}
}

func TestSimilarity_ScenarioDifferentStorySplits(t *testing.T) {
	n1 := fp("Bitcoin", "price surge", []string{"Bitcoin", "ETF", "BlackRock"}, nil)
	a4 := fp("Bitcoin", "governance dispute", []string{"Foo", "Bar"}, nil)
	sim := Similarity(n1, a4)
	want := 0.30
	if diff := sim - want; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("sim = %v, want %v", sim, want)
	}
}

func TestMatch_ExtendAtThreshold(t *testing.T) {
	now := time.Now().UTC()
	// focus empty on one side (0.5), nucleus equal (1), actors Jaccard 1/2, no
	// actions: sim = 0.5*0.5 + 0.3*1 + 0.1*0.5 + 0 = 0.60, the extend threshold.
	candidate := fp("Bitcoin", "", []string{"Bitcoin", "ETF"}, nil)
	narrative := Candidate{
		NarrativeID: "n1",
		Fingerprint: fp("Bitcoin", "price surge", []string{"Bitcoin"}, nil),
		State:       core.StateRising,
	}
	d := Match(candidate, now, []Candidate{narrative})
	if diff := d.Similarity - ExtendThreshold; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected sim at the extend threshold %v, got %v", ExtendThreshold, d.Similarity)
	}
	if d.Kind != Extend {
		t.Fatalf("expected Extend, got %v (sim=%v)", d.Kind, d.Similarity)
	}
}

func TestMatch_ReactivationWithin30Days(t *testing.T) {
	now := time.Now().UTC()
	dormantSince := now.AddDate(0, 0, -30) // exactly 30 days: eligible for reactivation
	candidate := fp("BlackRock", "institutional adoption", nil, nil)
	narrative := Candidate{
		NarrativeID:  "n2",
		Fingerprint:  fp("BlackRock", "institutional adoption", nil, nil),
		State:        core.StateDormant,
		DormantSince: &dormantSince,
	}
	d := Match(candidate, now, []Candidate{narrative})
	if d.Kind != Reactivate {
		t.Fatalf("expected Reactivate at exactly 30 days dormant, got %v (sim=%v)", d.Kind, d.Similarity)
	}
}

func TestMatch_ReactivationTooOld(t *testing.T) {
	now := time.Now().UTC()
	dormantSince := now.AddDate(0, 0, -55)
	candidate := fp("BlackRock", "institutional adoption", nil, nil)
	narrative := Candidate{
		NarrativeID:  "n3",
		Fingerprint:  fp("BlackRock", "institutional adoption", nil, nil),
		State:        core.StateDormant,
		DormantSince: &dormantSince,
	}
	d := Match(candidate, now, []Candidate{narrative})
	if d.Kind != CreateNew {
		t.Fatalf("expected CreateNew for narrative dormant 55 days, got %v", d.Kind)
	}
}

func TestMatch_TieBreakOnLastArticleAt(t *testing.T) {
	now := time.Now().UTC()
	candidate := fp("Bitcoin", "price surge", []string{"Bitcoin"}, nil)
	older := Candidate{
		NarrativeID:   "older",
		Fingerprint:   fp("Bitcoin", "price surge", []string{"Bitcoin"}, nil),
		State:         core.StateRising,
		LastArticleAt: now.Add(-48 * time.Hour),
	}
	newer := Candidate{
		NarrativeID:   "newer",
		Fingerprint:   fp("Bitcoin", "price surge", []string{"Bitcoin"}, nil),
		State:         core.StateRising,
		LastArticleAt: now.Add(-1 * time.Hour),
	}
	d := Match(candidate, now, []Candidate{older, newer})
	if d.NarrativeID != "newer" {
		t.Fatalf("expected tie broken toward most recent last_article_at, got %s", d.NarrativeID)
	}
}

func TestMatch_ConsolidationScenario(t *testing.T) {
	a := fp("SEC", "enforcement action", []string{"SEC", "Binance"}, []string{"filed", "settled"})
	b := fp("SEC", "enforcement actions", []string{"SEC", "Binance"}, []string{"filed"})
	sim := Similarity(a, b)
	if sim >= 0.85 {
		t.Errorf("expected below consolidation threshold with focus_sim=0 (token Jaccard 1/3), got %v", sim)
	}
}
