package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gatekeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStorageContract exercises behaviour every backend must share.
func runStorageContract(t *testing.T, newStorage func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("EmptyList", func(t *testing.T) {
		s := newStorage(t)
		rules, err := s.ListRules(ctx)
		require.NoError(t, err)
		assert.NotNil(t, rules)
		assert.Empty(t, rules)
	})

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStorage(t)
		rule := models.NewPolicyRule("/api/v1/images", models.TierPremium, 1000, 3600, "Image upload for premium users")
		require.NoError(t, s.CreateRule(ctx, rule))

		got, err := s.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, rule.ID, got.ID)
		assert.Equal(t, "/api/v1/images", got.Endpoint)
		assert.Equal(t, models.TierPremium, got.Tier)
		assert.Equal(t, 1000, got.Requests)
		assert.Equal(t, 3600, got.Window)
		assert.Equal(t, "Image upload for premium users", got.Description)
		assert.WithinDuration(t, rule.CreatedAt, got.CreatedAt, time.Millisecond)

		byKey, err := s.GetRuleByKey(ctx, "/api/v1/images", models.TierPremium)
		require.NoError(t, err)
		assert.Equal(t, rule.ID, byKey.ID)
	})

	t.Run("ReturnedRulesAreCopies", func(t *testing.T) {
		s := newStorage(t)
		rule := models.NewPolicyRule("/a", models.TierStandard, 10, 60, "")
		require.NoError(t, s.CreateRule(ctx, rule))

		rule.Requests = 999
		got, err := s.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, got.Requests)

		got.Requests = 555
		again, err := s.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, again.Requests)
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStorage(t)

		_, err := s.GetRule(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetRuleByKey(ctx, "/nope", models.TierStandard)
		assert.ErrorIs(t, err, ErrNotFound)

		err = s.UpdateRule(ctx, models.NewPolicyRule("/nope", models.TierStandard, 1, 1, ""))
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, s.DeleteRule(ctx, "missing"), ErrNotFound)
	})

	t.Run("DuplicateKeyRejected", func(t *testing.T) {
		s := newStorage(t)
		require.NoError(t, s.CreateRule(ctx, models.NewPolicyRule("/a", models.TierStandard, 10, 60, "")))

		err := s.CreateRule(ctx, models.NewPolicyRule("/a", models.TierStandard, 20, 60, ""))
		assert.ErrorIs(t, err, ErrDuplicate)

		// Same endpoint, other tier is fine
		require.NoError(t, s.CreateRule(ctx, models.NewPolicyRule("/a", models.TierPremium, 20, 60, "")))
	})

	t.Run("Update", func(t *testing.T) {
		s := newStorage(t)
		rule := models.NewPolicyRule("/api/v1/images", models.TierPremium, 1000, 3600, "")
		require.NoError(t, s.CreateRule(ctx, rule))

		rule.Requests = 2000
		rule.Description = "raised"
		rule.UpdatedAt = rule.UpdatedAt.Add(time.Minute)
		require.NoError(t, s.UpdateRule(ctx, rule))

		got, err := s.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, 2000, got.Requests)
		assert.Equal(t, "raised", got.Description)
		assert.WithinDuration(t, rule.UpdatedAt, got.UpdatedAt, time.Millisecond)
	})

	t.Run("UpdateIntoTakenKeyRejected", func(t *testing.T) {
		s := newStorage(t)
		a := models.NewPolicyRule("/a", models.TierStandard, 10, 60, "")
		b := models.NewPolicyRule("/b", models.TierStandard, 10, 60, "")
		require.NoError(t, s.CreateRule(ctx, a))
		require.NoError(t, s.CreateRule(ctx, b))

		b.Endpoint = "/a"
		assert.ErrorIs(t, s.UpdateRule(ctx, b), ErrDuplicate)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStorage(t)
		rule := models.NewPolicyRule("/a", models.TierStandard, 10, 60, "")
		require.NoError(t, s.CreateRule(ctx, rule))

		require.NoError(t, s.DeleteRule(ctx, rule.ID))
		_, err := s.GetRule(ctx, rule.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		// The key is free again
		require.NoError(t, s.CreateRule(ctx, models.NewPolicyRule("/a", models.TierStandard, 5, 60, "")))
	})

	t.Run("ListOrdered", func(t *testing.T) {
		s := newStorage(t)
		for _, r := range []struct{ endpoint, tier string }{
			{"default", models.TierStandard},
			{"/api/v1/images", models.TierStandard},
			{"/api/v1/auth/login", models.TierPremium},
			{"/api/v1/auth/login", models.TierAnonymous},
		} {
			require.NoError(t, s.CreateRule(ctx, models.NewPolicyRule(r.endpoint, r.tier, 1, 1, "")))
		}

		rules, err := s.ListRules(ctx)
		require.NoError(t, err)
		require.Len(t, rules, 4)

		var got []string
		for _, r := range rules {
			got = append(got, r.Endpoint+"/"+r.Tier)
		}
		assert.Equal(t, []string{
			"/api/v1/auth/login/anonymous",
			"/api/v1/auth/login/premium",
			"/api/v1/images/standard",
			"default/standard",
		}, got)
	})

	t.Run("ConcurrentCreates", func(t *testing.T) {
		s := newStorage(t)
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.CreateRule(ctx, models.NewPolicyRule(fmt.Sprintf("/e%d", i), models.TierStandard, 1, 1, ""))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		rules, err := s.ListRules(ctx)
		require.NoError(t, err)
		assert.Len(t, rules, 20)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, newStorage(t).Ping(ctx))
	})
}

func defaultRules() []*models.PolicyRule {
	return []*models.PolicyRule{
		models.NewPolicyRule("/api/v1/auth/login", models.TierAnonymous, 5, 300, ""),
		models.NewPolicyRule("/api/v1/auth/login", models.TierStandard, 10, 300, ""),
		models.NewPolicyRule(models.DefaultEndpoint, models.TierAnonymous, 100, 3600, ""),
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyStore", func(t *testing.T) {
		s, err := NewMemoryStorage(Config{})
		require.NoError(t, err)

		n, err := Seed(ctx, s, defaultRules())
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		rules, err := s.ListRules(ctx)
		require.NoError(t, err)
		assert.Len(t, rules, 3)
	})

	t.Run("PopulatedStoreUntouched", func(t *testing.T) {
		s, err := NewMemoryStorage(Config{})
		require.NoError(t, err)
		require.NoError(t, s.CreateRule(ctx, models.NewPolicyRule("/custom", models.TierPremium, 1, 1, "")))

		n, err := Seed(ctx, s, defaultRules())
		require.NoError(t, err)
		assert.Zero(t, n)

		rules, err := s.ListRules(ctx)
		require.NoError(t, err)
		assert.Len(t, rules, 1)
	})

	t.Run("DuplicatesSkipped", func(t *testing.T) {
		s, err := NewMemoryStorage(Config{})
		require.NoError(t, err)

		rules := append(defaultRules(), models.NewPolicyRule("/api/v1/auth/login", models.TierAnonymous, 50, 300, ""))
		n, err := Seed(ctx, s, rules)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("ListFailure", func(t *testing.T) {
		_, err := Seed(ctx, failingStorage{}, defaultRules())
		assert.Error(t, err)
	})
}

type failingStorage struct{ Storage }

func (failingStorage) ListRules(context.Context) ([]*models.PolicyRule, error) {
	return nil, errors.New("connection refused")
}
