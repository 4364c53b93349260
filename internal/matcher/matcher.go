// Package matcher implements the narrative matching function: given a
// freshly-extracted article fingerprint and the set of candidate narratives
// sharing its nucleus entity, decide whether to extend, reactivate, or create
// a narrative. It is pure and deterministic — no I/O, no suspension — so the
// lifecycle engine can call it inline and retry it cheaply on write conflict.
package matcher

import (
	"sort"
	"strings"
	"time"

	"narrative-core/internal/core"
)

// Thresholds, tunable at the package level but held fixed for determinism
// within a single process lifetime.
const (
	ExtendThreshold      = 0.60
	ReactivateThreshold  = 0.80
	ReactivationWindowDays = 30
)

// DecisionKind is the tag on a Decision.
type DecisionKind int

const (
	CreateNew DecisionKind = iota
	Extend
	Reactivate
)

// Decision is the matcher's output for one candidate fingerprint.
type Decision struct {
	Kind        DecisionKind
	NarrativeID string
	Similarity  float64
	DormantDays int // only meaningful for Reactivate
}

// Candidate is the minimal narrative view the matcher needs: its fingerprint,
// lifecycle state, last-article time (for tie-breaking) and, for dormant
// narratives, when it went dormant.
type Candidate struct {
	NarrativeID   string
	Fingerprint   core.Fingerprint
	State         core.LifecycleState
	LastArticleAt time.Time
	DormantSince  *time.Time
}

var activeStates = map[core.LifecycleState]bool{
	core.StateEmerging:    true,
	core.StateRising:      true,
	core.StateHot:         true,
	core.StateCooling:     true,
	core.StateReactivated: true,
}

// Match decides Extend/Reactivate/CreateNew for candidate against the given
// narratives, which must already be restricted to the candidate's nucleus
// entity within the last 90 days — the matcher itself does not query the
// store, that filtering is the lifecycle engine's job.
func Match(candidate core.Fingerprint, now time.Time, narratives []Candidate) Decision {
	var active, dormant []Candidate
	for _, n := range narratives {
		if n.State == core.StateDormant {
			if n.DormantSince == nil {
				continue
			}
			days := int(now.UTC().Sub(n.DormantSince.UTC()).Hours() / 24)
			if days <= ReactivationWindowDays {
				dormant = append(dormant, n)
			}
			continue
		}
		if activeStates[n.State] {
			active = append(active, n)
		}
	}

	if best, sim, ok := bestMatch(candidate, active); ok && sim >= ExtendThreshold {
		return Decision{Kind: Extend, NarrativeID: best.NarrativeID, Similarity: sim}
	}

	if best, sim, ok := bestMatch(candidate, dormant); ok && sim >= ReactivateThreshold {
		days := 0
		if best.DormantSince != nil {
			days = int(now.UTC().Sub(best.DormantSince.UTC()).Hours() / 24)
		}
		return Decision{Kind: Reactivate, NarrativeID: best.NarrativeID, Similarity: sim, DormantDays: days}
	}

	return Decision{Kind: CreateNew}
}

// bestMatch returns the argmax-similarity candidate among cands, breaking
// ties by the highest LastArticleAt. Candidates whose similarity is 0 (hard
// gate failed) are excluded before the max is taken.
func bestMatch(candidate core.Fingerprint, cands []Candidate) (Candidate, float64, bool) {
	type scored struct {
		c   Candidate
		sim float64
	}
	var scoredCands []scored
	for _, c := range cands {
		sim := Similarity(candidate, c.Fingerprint)
		if sim > 0 {
			scoredCands = append(scoredCands, scored{c, sim})
		}
	}
	if len(scoredCands) == 0 {
		return Candidate{}, 0, false
	}

	sort.SliceStable(scoredCands, func(i, j int) bool {
		if scoredCands[i].sim != scoredCands[j].sim {
			return scoredCands[i].sim > scoredCands[j].sim
		}
		return scoredCands[i].c.LastArticleAt.After(scoredCands[j].c.LastArticleAt)
	})

	return scoredCands[0].c, scoredCands[0].sim, true
}

// Similarity computes the weighted fingerprint similarity between a and b,
// returning 0 whenever the hard pre-gate fails (neither narrative_focus nor
// nucleus_entity match).
func Similarity(a, b core.Fingerprint) float64 {
	focusEqual := nonEmptyEqualFold(a.NarrativeFocus, b.NarrativeFocus)
	nucleusEqual := nonEmptyEqualFold(a.NucleusEntity, b.NucleusEntity)
	if !focusEqual && !nucleusEqual {
		return 0
	}

	focusSim := focusSimilarity(a.NarrativeFocus, b.NarrativeFocus)
	nucleusSim := 0.0
	if strings.EqualFold(strings.TrimSpace(a.NucleusEntity), strings.TrimSpace(b.NucleusEntity)) && a.NucleusEntity != "" {
		nucleusSim = 1.0
	}
	actorsSim := setOverlap(a.TopActors, b.TopActors)
	actionsSim := setOverlap(a.KeyActions, b.KeyActions)

	sim := 0.5*focusSim + 0.3*nucleusSim + 0.1*actorsSim + 0.1*actionsSim
	return clamp01(sim)
}

func nonEmptyEqualFold(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// FocusSimilarity exposes the focus-only bucketed Jaccard overlap Similarity
// weighs in at 0.5, for callers that need to threshold on focus agreement
// alone rather than the full nucleus/actors/actions-weighted score.
func FocusSimilarity(a, b string) float64 {
	return focusSimilarity(a, b)
}

// focusSimilarity buckets Jaccard overlap of lowercase whitespace-split
// tokens. Missing focus on either side is neutral (0.5).
func focusSimilarity(a, b string) float64 {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return 0.5
	}
	if strings.EqualFold(a, b) {
		return 1.0
	}

	overlap := jaccard(tokenize(a), tokenize(b))
	switch {
	case overlap > 0.8:
		return 0.9
	case overlap > 0.5:
		return 0.7
	default:
		return 0.0
	}
}

func tokenize(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// setOverlap is |A∩B| / max(|A|,|B|) on string sets; 0 if either side empty.
func setOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	bs := make(map[string]bool, len(b))
	for _, s := range b {
		bs[strings.ToLower(strings.TrimSpace(s))] = true
	}
	inter := 0
	as := make(map[string]bool, len(a))
	for _, s := range a {
		k := strings.ToLower(strings.TrimSpace(s))
		if as[k] {
			continue
		}
		as[k] = true
		if bs[k] {
			inter++
		}
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return float64(inter) / float64(maxLen)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
