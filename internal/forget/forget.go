// Package forget implements the Forgetting Controller (spec §4.8): a
// periodic sweep that computes a forget-score per non-pinned memory, demotes
// (soft-delete) or removes (hard-delete) rows that cross their gate, and
// schedules spaced-review for memories that are aging but still valuable.
// Grounded on the teacher's internal/service.EpisodicTTLService — a ticker
// loop driving a runOnce with ordered, logged passes — generalized from its
// fixed expire/evict/tombstone pipeline to Memento's score-gated passes.
package forget

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memento-ai/memento/internal/config"
	"github.com/memento-ai/memento/internal/metrics"
	"github.com/memento-ai/memento/internal/model"
	"github.com/memento-ai/memento/internal/ranking"
	registrystore "github.com/memento-ai/memento/internal/registry/store"

	"github.com/google/uuid"
)

// reviewEligible is the review-score threshold from spec §4.8.
const reviewEligible = 0.70

// defaultReviewIntervalDays seeds the multiplier formula for a memory that
// has never been reviewed.
const defaultReviewIntervalDays = 1.0

var allTypes = []model.Type{model.TypeWorking, model.TypeEpisodic, model.TypeSemantic, model.TypeProcedural}

// Controller runs Forgetting Controller sweeps over the Persistence Gateway.
type Controller struct {
	store      registrystore.Store
	thresholds config.ForgetThresholds
	ttlSoft    config.ForgetTTL
	ttlHard    config.ForgetTTL
	weights    config.ForgetWeights
	review     config.ReviewMultiplier
	batch      int
}

// New creates a Controller from the Forget sub-config.
func New(store registrystore.Store, cfg *config.Config, batch int) *Controller {
	if batch <= 0 {
		batch = 200
	}
	return &Controller{
		store:      store,
		thresholds: cfg.Forget.Thresholds,
		ttlSoft:    cfg.Forget.TTLSoft,
		ttlHard:    cfg.Forget.TTLHard,
		weights:    cfg.Forget.Weights,
		review:     cfg.Forget.Review,
		batch:      batch,
	}
}

// Result summarizes the outcome of one Sweep pass.
type Result struct {
	SoftDeleted int
	HardDeleted int
	Reviewed    int
}

// scored is a candidate annotated with its computed forget/review inputs.
type scored struct {
	candidate   registrystore.ForgetCandidate
	ageDays     float64
	recency     float64
	importance  float64
	usage       float64
	duplication float64
	forgetScore float64
	reviewScore float64
}

// Sweep runs one forgetting pass: for each memory type it fetches candidates
// old enough to be soft-eligible, scores them, applies soft-delete
// candidates, then hard-delete candidates, then schedules spaced review for
// the survivors. Re-entrant: a concurrent Sweep or ordinary read sees only
// already-committed row states, since every mutation goes through the
// Persistence Gateway's own per-row retry/contention handling.
func (c *Controller) Sweep(ctx context.Context) (Result, error) {
	var total Result
	now := time.Now()
	defer func() {
		metrics.ObserveForgetSweep(now, total.SoftDeleted, total.HardDeleted, total.Reviewed)
	}()

	for _, t := range allTypes {
		minAge := ttlDuration(c.ttlSoft, t)
		candidates, err := c.store.ForgetSweepCandidates(ctx, []model.Type{t}, minAge, c.batch)
		if err != nil {
			return total, err
		}
		if len(candidates) == 0 {
			continue
		}

		rows := c.score(candidates, now)

		var soft, hard, review []scored
		ttlSoftDays := ttlDuration(c.ttlSoft, t).Hours() / 24
		ttlHardDays := ttlDuration(c.ttlHard, t).Hours() / 24
		for _, r := range rows {
			switch {
			case r.forgetScore >= c.thresholds.Hard && r.ageDays >= ttlHardDays:
				hard = append(hard, r)
			case r.forgetScore >= c.thresholds.Soft && r.ageDays >= ttlSoftDays:
				soft = append(soft, r)
			case r.reviewScore >= reviewEligible:
				review = append(review, r)
			}
		}

		for _, r := range soft {
			id := r.candidate.Memory.ID
			if err := c.store.SoftDelete(ctx, id); err != nil {
				log.Error("forget: soft-delete failed", "memoryId", id, "err", err)
				continue
			}
			total.SoftDeleted++
		}
		for _, r := range hard {
			id := r.candidate.Memory.ID
			if err := c.store.HardDelete(ctx, id); err != nil {
				log.Error("forget: hard-delete failed", "memoryId", id, "err", err)
				continue
			}
			total.HardDeleted++
		}
		for _, r := range review {
			if err := c.scheduleReview(ctx, r, now); err != nil {
				log.Error("forget: schedule review failed", "memoryId", r.candidate.Memory.ID, "err", err)
				continue
			}
			total.Reviewed++
		}

		log.Info("forget: sweep pass", "type", t, "candidates", len(rows),
			"softDeleted", len(soft), "hardDeleted", len(hard), "reviewed", len(review))
	}

	return total, nil
}

// score computes forget/review inputs for one type's candidate batch. Usage
// is normalized across the batch (§4.6's batch-normalization rule, reapplied
// here since this is an independent scoring context from search ranking);
// duplication_within_type is the max pairwise tag-Jaccard within the batch
// (a batch-bounded approximation — see SPEC_FULL.md §D.5).
func (c *Controller) score(candidates []registrystore.ForgetCandidate, now time.Time) []scored {
	raw := make([]float64, len(candidates))
	for i, cand := range candidates {
		raw[i] = ranking.RawUsage(cand.Memory.ViewCount, cand.Memory.CiteCount, cand.Memory.EditCount)
	}
	usage := ranking.BatchNormalizeUsage(raw)

	rows := make([]scored, len(candidates))
	for i, cand := range candidates {
		recency := ranking.Recency(cand.Memory.CreatedAt, now, cand.Memory.Type)
		importance := ranking.Importance(cand.Memory.Importance, false, cand.Memory.Type)
		duplication := 0.0
		for j, other := range candidates {
			if i == j {
				continue
			}
			if j := ranking.Jaccard(cand.Memory.Tags, other.Memory.Tags); j > duplication {
				duplication = j
			}
		}

		forgetScore := c.weights.Recency*(1-recency) +
			c.weights.Disuse*(1-usage[i]) +
			c.weights.Duplication*duplication -
			c.weights.Importance*importance

		reviewScore := clamp01(0.6*importance + 0.4*(1-recency))

		rows[i] = scored{
			candidate:   cand,
			ageDays:     now.Sub(cand.Memory.CreatedAt).Hours() / 24,
			recency:     recency,
			importance:  importance,
			usage:       usage[i],
			duplication: duplication,
			forgetScore: forgetScore,
			reviewScore: reviewScore,
		}
	}
	return rows
}

// scheduleReview computes the next review interval via the feedback-derived
// multiplier (SPEC_FULL.md §D.3) and persists it.
func (c *Controller) scheduleReview(ctx context.Context, r scored, now time.Time) error {
	m := r.candidate.Memory
	helpfulFrac, unhelpfulFrac, err := c.recentFeedbackFractions(ctx, m.ID)
	if err != nil {
		return err
	}

	multiplier := clamp(1+c.review.HelpfulGain*helpfulFrac-c.review.UnhelpfulLoss*unhelpfulFrac+c.review.ImportanceGain*(r.importance-0.5),
		c.review.Min, c.review.Max)

	interval := currentIntervalDays(m) * multiplier
	interval = clamp(interval, 1, 365)

	return c.store.ScheduleReview(ctx, m.ID, now, time.Duration(interval*24)*time.Hour)
}

// recentFeedbackFractions reads the 10 most recent feedback rows for a
// memory and returns the helpful/unhelpful fractions used by the spaced-
// review multiplier formula.
func (c *Controller) recentFeedbackFractions(ctx context.Context, id uuid.UUID) (helpful, unhelpful float64, err error) {
	events, err := c.store.RecentFeedback(ctx, id, 10)
	if err != nil {
		return 0, 0, err
	}
	if len(events) == 0 {
		return 0, 0, nil
	}
	var h, u int
	for _, e := range events {
		switch e.EventType {
		case model.EventHelpful:
			h++
		case model.EventUnhelpful:
			u++
		}
	}
	n := float64(len(events))
	return float64(h) / n, float64(u) / n, nil
}

// currentIntervalDays derives the review interval that produced a memory's
// current last_review/review_due pair, or the default seed interval if the
// memory has never been reviewed.
func currentIntervalDays(m model.Memory) float64 {
	if m.LastReview == nil || m.ReviewDue == nil {
		return defaultReviewIntervalDays
	}
	days := m.ReviewDue.Sub(*m.LastReview).Hours() / 24
	if days <= 0 {
		return defaultReviewIntervalDays
	}
	return days
}

func ttlDuration(ttl config.ForgetTTL, t model.Type) time.Duration {
	switch t {
	case model.TypeWorking:
		return ttl.Working
	case model.TypeEpisodic:
		return ttl.Episodic
	case model.TypeSemantic:
		return ttl.Semantic
	case model.TypeProcedural:
		return ttl.Procedural
	default:
		return ttl.Episodic
	}
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
