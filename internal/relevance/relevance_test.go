package relevance

import (
	"testing"

	"narrative-core/internal/core"
)

func TestClassify_CryptoNativeTicker(t *testing.T) {
	r := Classify("Bitcoin hits new all-time high", "BTC surged past $100k today on ETF inflows")
	if r.Tier != core.TierCryptoNative {
		t.Fatalf("expected tier 3, got %v", r.Tier)
	}
	found := false
	for _, s := range r.MatchedSymbols {
		if s == "BTC" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected BTC in matched symbols, got %v", r.MatchedSymbols)
	}
}

func TestClassify_CryptoVocabularyWithoutTicker(t *testing.T) {
	r := Classify("New DeFi protocol launches", "The smart contract enables on-chain staking")
	if r.Tier != core.TierCryptoNative {
		t.Fatalf("expected tier 3 from vocabulary match, got %v", r.Tier)
	}
}

func TestClassify_Adjacent(t *testing.T) {
	r := Classify("Federal Reserve raises interest rate", "The central bank announced new policy on inflation")
	if r.Tier != core.TierAdjacent {
		t.Fatalf("expected tier 2, got %v", r.Tier)
	}
}

func TestClassify_Irrelevant(t *testing.T) {
	r := Classify("Local bakery wins award", "The bakery has served pastries for 30 years")
	if r.Tier != core.TierIrrelevant {
		t.Fatalf("expected tier 1, got %v", r.Tier)
	}
}

func TestClassify_WordBoundaryAvoidsFalsePositive(t *testing.T) {
	// "ada" as a name substring should not match Cardano's "ada" pattern
	// because of the word-boundary regex.
	r := Classify("Adaline's new restaurant", "Adaline opened downtown")
	if r.Tier == core.TierCryptoNative {
		t.Errorf("expected no false-positive ticker match inside 'Adaline', got %v with symbols %v", r.Tier, r.MatchedSymbols)
	}
}
