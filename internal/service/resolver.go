package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultDedupeThreshold is the similarity at or above which a candidate
	// is a duplicate of the active fact in its slot.
	DefaultDedupeThreshold = 0.92
	// DefaultContradictionThreshold is the similarity below which a candidate
	// for a single-valued predicate contradicts the active fact.
	DefaultContradictionThreshold = 0.4
	// DefaultArbiterTimeout bounds a single arbitration call.
	DefaultArbiterTimeout = 2 * time.Second
)

// Resolution is the outcome of belief revision for one candidate.
type Resolution struct {
	Action        domain.Action
	Draft         *domain.Fact
	SupersededIDs []uuid.UUID
	Similarity    float64
	// ConfidenceBumped is set on NONE when the duplicate carried higher
	// confidence than the stored fact.
	ConfidenceBumped bool
	// Arbitrated is set when an external arbiter made the contradiction call.
	Arbitrated bool
}

// ConflictResolver decides whether a candidate fact creates, updates,
// supersedes, or is discarded against the active fact in its slot. It never
// mutates state; the caller reads slot state beforehand and commits afterwards.
type ConflictResolver struct {
	arbiter                domain.Arbiter
	arbiterTimeout         time.Duration
	dedupeThreshold        float64
	contradictionThreshold float64
	logger                 *zap.Logger
}

func NewConflictResolver(arbiter domain.Arbiter, logger *zap.Logger) *ConflictResolver {
	return &ConflictResolver{
		arbiter:                arbiter,
		arbiterTimeout:         DefaultArbiterTimeout,
		dedupeThreshold:        DefaultDedupeThreshold,
		contradictionThreshold: DefaultContradictionThreshold,
		logger:                 logger,
	}
}

func (r *ConflictResolver) SetThresholds(dedupe, contradiction float64) {
	if dedupe > 0 {
		r.dedupeThreshold = dedupe
	}
	if contradiction > 0 {
		r.contradictionThreshold = contradiction
	}
}

func (r *ConflictResolver) SetArbiterTimeout(d time.Duration) {
	if d > 0 {
		r.arbiterTimeout = d
	}
}

// Resolve runs the decision table. existing is the current active fact for
// the candidate's slot, or nil when the slot is empty.
func (r *ConflictResolver) Resolve(ctx context.Context, candidate *domain.CandidateFact, existing *domain.Fact) (*Resolution, error) {
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	draft := draftFromCandidate(candidate)

	if existing == nil {
		return &Resolution{Action: domain.ActionCreate, Draft: draft}, nil
	}

	sim := similarity(candidate, existing)

	switch {
	case sim >= r.dedupeThreshold:
		// Duplicate. No new version; confidence may only ratchet up.
		res := &Resolution{Action: domain.ActionNone, Draft: existing, Similarity: sim}
		if candidate.Confidence > existing.Confidence {
			res.ConfidenceBumped = true
		}
		return res, nil

	case sim < r.contradictionThreshold && SingleValuedPredicate(candidate.Predicate):
		return r.resolveContradiction(ctx, draft, existing, sim)

	default:
		// Same belief, refined wording. Merge into a new version of the
		// existing lineage.
		merged := mergeDraft(draft, existing)
		return &Resolution{
			Action:     domain.ActionUpdate,
			Draft:      merged,
			Similarity: sim,
		}, nil
	}
}

// resolveContradiction consults the arbiter when one is configured. On
// timeout, error, or absence the deterministic fallback is timestamp-wins:
// the newer candidate supersedes.
func (r *ConflictResolver) resolveContradiction(ctx context.Context, draft, existing *domain.Fact, sim float64) (*Resolution, error) {
	action := domain.ActionSupersede
	arbitrated := false

	if r.arbiter != nil {
		arbCtx, cancel := context.WithTimeout(ctx, r.arbiterTimeout)
		decided, err := r.arbiter.Resolve(arbCtx, existing, draft)
		cancel()
		if err != nil {
			r.logger.Warn("arbitration failed, falling back to timestamp-wins",
				zap.String("subject", draft.Subject),
				zap.String("predicate", draft.Predicate),
				zap.Error(err))
		} else {
			action = decided
			arbitrated = true
		}
	}

	switch action {
	case domain.ActionSupersede:
		return &Resolution{
			Action:        domain.ActionSupersede,
			Draft:         draft,
			SupersededIDs: []uuid.UUID{existing.ID},
			Similarity:    sim,
			Arbitrated:    arbitrated,
		}, nil
	case domain.ActionUpdate:
		return &Resolution{
			Action:     domain.ActionUpdate,
			Draft:      mergeDraft(draft, existing),
			Similarity: sim,
			Arbitrated: arbitrated,
		}, nil
	case domain.ActionNone:
		return &Resolution{Action: domain.ActionNone, Draft: existing, Similarity: sim, Arbitrated: arbitrated}, nil
	default:
		r.logger.Warn("arbiter returned unknown action, superseding",
			zap.String("action", string(action)))
		return &Resolution{
			Action:        domain.ActionSupersede,
			Draft:         draft,
			SupersededIDs: []uuid.UUID{existing.ID},
			Similarity:    sim,
		}, nil
	}
}

func draftFromCandidate(c *domain.CandidateFact) *domain.Fact {
	factType := c.Type
	if factType == "" {
		factType = domain.FactTypeAttribute
	}
	return &domain.Fact{
		MemorySpaceID: c.MemorySpaceID,
		Subject:       c.Subject,
		Predicate:     c.Predicate,
		Value:         c.Value,
		Content:       c.Content,
		Type:          factType,
		Confidence:    c.Confidence,
		Embedding:     c.Embedding,
		SourceRefs:    c.SourceRefs,
		Metadata:      c.Metadata,
	}
}

// mergeDraft folds a candidate draft into the existing fact's lineage: latest
// value wording wins, contents concatenate, confidence keeps the higher side,
// source refs union.
func mergeDraft(draft, existing *domain.Fact) *domain.Fact {
	merged := *draft

	if existing.Content != "" && draft.Content != "" && existing.Content != draft.Content {
		merged.Content = existing.Content + "\n" + draft.Content
	} else if draft.Content == "" {
		merged.Content = existing.Content
	}

	if existing.Confidence > merged.Confidence {
		merged.Confidence = existing.Confidence
	}

	merged.SourceRefs = unionRefs(existing.SourceRefs, draft.SourceRefs)

	if len(existing.Metadata) > 0 {
		meta := make(map[string]any, len(existing.Metadata)+len(draft.Metadata))
		for k, v := range existing.Metadata {
			meta[k] = v
		}
		for k, v := range draft.Metadata {
			meta[k] = v
		}
		merged.Metadata = meta
	}

	return &merged
}

func unionRefs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, ref := range append(append([]string{}, a...), b...) {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

// similarity compares the candidate value against the existing value:
// semantic cosine similarity when both sides carry embeddings, structural
// comparison otherwise.
func similarity(c *domain.CandidateFact, f *domain.Fact) float64 {
	if len(c.Embedding) > 0 && len(f.Embedding) > 0 && len(c.Embedding) == len(f.Embedding) {
		return cosineSimilarity(c.Embedding, f.Embedding)
	}
	return stringSimilarity(c.Value, f.Value)
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// stringSimilarity is the fallback when embeddings are unavailable:
// case/space-folded equality scores 1.0, anything else scores by token
// overlap so refinements like "blue" vs "dark blue" land in the merge band.
func stringSimilarity(a, b string) float64 {
	na, nb := normalizeValue(a), normalizeValue(b)
	if na == nb {
		return 1.0
	}

	tokensA := strings.Fields(na)
	tokensB := strings.Fields(nb)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	set := make(map[string]bool, len(tokensA))
	for _, t := range tokensA {
		set[t] = true
	}
	intersection := 0
	union := len(set)
	for _, t := range tokensB {
		if set[t] {
			intersection++
		} else {
			union++
		}
	}
	return float64(intersection) / float64(union)
}

func normalizeValue(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// singleValuedPrefixes marks enum-like predicates that admit exactly one
// value at a time (favoriteColor, currentCity, isVegetarian, ...).
var singleValuedPrefixes = []string{
	"favorite", "favourite", "preferred", "current", "primary", "default",
	"is", "has", "age", "birth", "home", "lives", "works",
}

// SingleValuedPredicate reports whether a predicate is heuristically
// single-valued, meaning a dissimilar new value contradicts the old one
// rather than coexisting with it.
func SingleValuedPredicate(predicate string) bool {
	p := strings.ToLower(predicate)
	for _, prefix := range singleValuedPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
