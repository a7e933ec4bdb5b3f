package forget

import (
	"context"
	"testing"
	"time"

	"github.com/memento-ai/memento/internal/config"
	"github.com/memento-ai/memento/internal/model"
	registrystore "github.com/memento-ai/memento/internal/registry/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeStore implements registrystore.Store by embedding the (nil) interface
// and overriding only what Controller.Sweep exercises; any other method
// would panic if called, which the tests below never do.
type fakeStore struct {
	registrystore.Store

	candidates   []registrystore.ForgetCandidate
	softDeleted  []uuid.UUID
	hardDeleted  []uuid.UUID
	reviewed     []uuid.UUID
	feedbackByID map[uuid.UUID][]model.Feedback
}

func (f *fakeStore) ForgetSweepCandidates(ctx context.Context, types []model.Type, minAge time.Duration, limit int) ([]registrystore.ForgetCandidate, error) {
	var out []registrystore.ForgetCandidate
	for _, c := range f.candidates {
		if c.Memory.Type == types[0] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) SoftDelete(ctx context.Context, id uuid.UUID) error {
	f.softDeleted = append(f.softDeleted, id)
	return nil
}

func (f *fakeStore) HardDelete(ctx context.Context, id uuid.UUID) error {
	f.hardDeleted = append(f.hardDeleted, id)
	return nil
}

func (f *fakeStore) ScheduleReview(ctx context.Context, id uuid.UUID, at time.Time, nextInterval time.Duration) error {
	f.reviewed = append(f.reviewed, id)
	return nil
}

func (f *fakeStore) RecentFeedback(ctx context.Context, id uuid.UUID, limit int) ([]model.Feedback, error) {
	return f.feedbackByID[id], nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	return &cfg
}

func TestSweepHardDeletesOldLowValueMemory(t *testing.T) {
	old := uuid.New()
	fresh := uuid.New()
	store := &fakeStore{
		candidates: []registrystore.ForgetCandidate{
			// old: stale, worthless, and a tag-duplicate of fresh — pushes its
			// forget_score comfortably past the hard-delete gate.
			{Memory: model.Memory{
				ID: old, Type: model.TypeWorking,
				CreatedAt: time.Now().Add(-60 * 24 * time.Hour),
				Importance: 0, Tags: []string{"x"},
			}},
			// fresh: same tags (so it shares old's duplication penalty) but
			// far too young to clear either gate's age requirement.
			{Memory: model.Memory{
				ID: fresh, Type: model.TypeWorking,
				CreatedAt: time.Now(),
				Importance: 1.0, Tags: []string{"x"},
			}},
		},
	}
	c := New(store, testConfig(), 50)

	result, err := c.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.HardDeleted)
	require.Contains(t, store.hardDeleted, old)
	require.NotContains(t, store.hardDeleted, fresh)
	require.Empty(t, store.softDeleted)
}

func TestSweepSkipsPinnedMemories(t *testing.T) {
	// ForgetSweepCandidates is the gate for pinned rows in the real store
	// (the WHERE clause excludes pinned=1); the fake simulates that by
	// simply never enqueueing a pinned row as a candidate.
	store := &fakeStore{candidates: nil}
	c := New(store, testConfig(), 50)

	result, err := c.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.SoftDeleted)
	require.Zero(t, result.HardDeleted)
}

func TestSweepSchedulesReviewForImportantRecentMemory(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		candidates: []registrystore.ForgetCandidate{
			{
				Memory: model.Memory{
					ID:   id,
					Type: model.TypeSemantic,
					// Just under the semantic soft-delete TTL (180d), so
					// neither delete gate's age requirement is met no matter
					// what the forget_score comes out to.
					CreatedAt:  time.Now().Add(-179 * 24 * time.Hour),
					Importance: 0.9,
					Pinned:     false,
				},
			},
		},
		feedbackByID: map[uuid.UUID][]model.Feedback{
			id: {
				{EventType: model.EventHelpful},
				{EventType: model.EventHelpful},
			},
		},
	}
	c := New(store, testConfig(), 50)

	result, err := c.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Reviewed)
	require.Contains(t, store.reviewed, id)
	require.Empty(t, store.softDeleted)
	require.Empty(t, store.hardDeleted)
}

func TestSweepSplitsSoftAndHardWithinPass(t *testing.T) {
	softID := uuid.New()
	hardID := uuid.New()
	store := &fakeStore{
		candidates: []registrystore.ForgetCandidate{
			// Shared tags push both rows' duplication feature to 1, but
			// softID is only 3 days old — too young for the working type's
			// 7-day hard-delete TTL, so it falls through to the soft gate.
			{Memory: model.Memory{ID: softID, Type: model.TypeWorking, CreatedAt: time.Now().Add(-3 * 24 * time.Hour), Importance: 0.4, Tags: []string{"dup"}}},
			{Memory: model.Memory{ID: hardID, Type: model.TypeWorking, CreatedAt: time.Now().Add(-30 * 24 * time.Hour), Importance: 0.05, Tags: []string{"dup"}}},
		},
	}
	c := New(store, testConfig(), 50)

	result, err := c.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.SoftDeleted)
	require.Equal(t, 1, result.HardDeleted)
	require.Contains(t, store.softDeleted, softID)
	require.Contains(t, store.hardDeleted, hardID)
	require.NotContains(t, store.softDeleted, hardID, "a hard-eligible row must not also be soft-deleted in the same pass")
}

func TestCurrentIntervalDaysDefaultsWhenNeverReviewed(t *testing.T) {
	m := model.Memory{}
	require.Equal(t, defaultReviewIntervalDays, currentIntervalDays(m))
}

func TestCurrentIntervalDaysDerivedFromReviewWindow(t *testing.T) {
	last := time.Now().Add(-10 * 24 * time.Hour)
	due := time.Now().Add(4 * 24 * time.Hour)
	m := model.Memory{LastReview: &last, ReviewDue: &due}
	require.InDelta(t, 14.0, currentIntervalDays(m), 0.01)
}
