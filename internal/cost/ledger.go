// Package cost tracks LLM spend: per-call pricing lookup, an append-only
// ledger of cost records, and monthly-budget threshold alerts.
package cost

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"narrative-core/internal/core"
)

// ModelPricing is the per-1M-token cost for a Gemini model.
type ModelPricing struct {
	Model                 string
	InputCostPer1MTokens  float64
	OutputCostPer1MTokens float64
}

// PricingTable contains current Gemini pricing, keyed by model name. Callers
// that use an unlisted model fall back to the flash tier.
var PricingTable = map[string]ModelPricing{
	"gemini-2.0-flash": {
		Model:                 "gemini-2.0-flash",
		InputCostPer1MTokens:  0.10,
		OutputCostPer1MTokens: 0.40,
	},
	"gemini-2.0-flash-lite": {
		Model:                 "gemini-2.0-flash-lite",
		InputCostPer1MTokens:  0.075,
		OutputCostPer1MTokens: 0.30,
	},
	"gemini-1.5-pro": {
		Model:                 "gemini-1.5-pro",
		InputCostPer1MTokens:  3.50,
		OutputCostPer1MTokens: 10.50,
	},
}

// EstimateTokenCount approximates token count for text: roughly 1 token per
// 3.5 characters of English prose.
func EstimateTokenCount(text string) int {
	text = strings.TrimSpace(text)
	chars := utf8.RuneCountInString(text)
	return int(math.Ceil(float64(chars) / 3.5))
}

// Price returns the pricing entry for a model, falling back to
// gemini-2.0-flash if the model is unrecognized.
func Price(model string) ModelPricing {
	if p, ok := PricingTable[model]; ok {
		return p
	}
	return PricingTable["gemini-2.0-flash"]
}

// Compute returns the USD cost of a call given token counts. Cached calls
// cost nothing, so cached reads are free.
func Compute(model string, inputTokens, outputTokens int, cached bool) float64 {
	if cached {
		return 0
	}
	p := Price(model)
	return float64(inputTokens)*p.InputCostPer1MTokens/1_000_000 +
		float64(outputTokens)*p.OutputCostPer1MTokens/1_000_000
}

// Store is the persistence boundary the ledger writes cost records through.
// internal/persistence's Postgres-backed CostRecordRepository satisfies this.
type Store interface {
	InsertCostRecord(ctx context.Context, rec core.CostRecord) error
	SumCostSince(ctx context.Context, since time.Time) (float64, error)
}

// Ledger is the in-process cost tracker: it persists every record and keeps
// a running monthly total so callers can cheaply check budget status without
// a round trip to the store on every LLM call.
type Ledger struct {
	mu             sync.Mutex
	store          Store
	monthlyBudget  float64
	alertThreshold float64
	monthTotal     float64
	monthStart     time.Time
	alerted        bool
	onAlert        func(spent, budget float64)
}

// NewLedger builds a Ledger backed by store, with the given monthly budget in
// USD and the fraction of that budget (e.g. 0.8) at which onAlert fires once
// per month.
func NewLedger(store Store, monthlyBudgetUSD, alertThresholdPct float64, onAlert func(spent, budget float64)) *Ledger {
	return &Ledger{
		store:          store,
		monthlyBudget:  monthlyBudgetUSD,
		alertThreshold: alertThresholdPct,
		monthStart:     monthStart(time.Now().UTC()),
		onAlert:        onAlert,
	}
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Record logs a single LLM call's cost, persists it, and fires onAlert the
// first time the running monthly total crosses the alert threshold.
func (l *Ledger) Record(ctx context.Context, model, operation string, inputTokens, outputTokens int, cached bool) (core.CostRecord, error) {
	now := time.Now().UTC()
	rec := core.CostRecord{
		Model:        model,
		Operation:    operation,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cached:       cached,
		Timestamp:    now,
		ComputedCost: Compute(model, inputTokens, outputTokens, cached),
	}

	if err := l.store.InsertCostRecord(ctx, rec); err != nil {
		return rec, fmt.Errorf("recording cost: %w", err)
	}

	l.mu.Lock()
	if ms := monthStart(now); ms.After(l.monthStart) {
		l.monthStart = ms
		l.monthTotal = 0
		l.alerted = false
	}
	l.monthTotal += rec.ComputedCost
	crossed := !l.alerted && l.monthlyBudget > 0 && l.monthTotal >= l.monthlyBudget*l.alertThreshold
	if crossed {
		l.alerted = true
	}
	total := l.monthTotal
	budget := l.monthlyBudget
	l.mu.Unlock()

	if crossed && l.onAlert != nil {
		l.onAlert(total, budget)
	}

	return rec, nil
}

// MonthToDate returns the running total for the current calendar month, as
// tracked in-process (not re-queried from the store).
func (l *Ledger) MonthToDate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.monthTotal
}

// Refresh re-derives the month-to-date total from the store, for use at
// process startup before any calls have gone through Record.
func (l *Ledger) Refresh(ctx context.Context) error {
	now := time.Now().UTC()
	ms := monthStart(now)
	total, err := l.store.SumCostSince(ctx, ms)
	if err != nil {
		return fmt.Errorf("refreshing cost ledger: %w", err)
	}
	l.mu.Lock()
	l.monthStart = ms
	l.monthTotal = total
	l.alerted = l.monthlyBudget > 0 && total >= l.monthlyBudget*l.alertThreshold
	l.mu.Unlock()
	return nil
}
