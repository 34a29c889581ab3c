package credentials

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/food-log-nexus/internal/db"
	"github.com/pysugar/food-log-nexus/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.InitDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(t.Name())))
	require.NoError(t, err)
	s := NewStore(database)
	s.now = func() time.Time { return fixedNow }
	return s
}

func payload(access, refresh string) TokenPayload {
	return TokenPayload{AccessToken: access, RefreshToken: refresh, ExpiresIn: 28800, UserID: "FB123"}
}

func TestUpsert_CreatesRecordWithDerivedExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Upsert(ctx, "uid-a", "FB123", payload("access-1", "refresh-1"))
	require.NoError(t, err)

	assert.Equal(t, "FB123", rec.ExternalAccountID)
	assert.Equal(t, "access-1", rec.AccessToken)
	assert.Equal(t, "refresh-1", rec.RefreshToken)
	assert.Equal(t, fixedNow.Add(8*time.Hour).UnixMilli(), rec.ExpiresAt.UnixMilli())
	assert.Equal(t, []string{"uid-a"}, rec.LocalIdentities)
}

func TestFindByLocalIdentity_MatchesSetMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "a", "FB123", payload("access-1", "refresh-1"))
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "b", "FB123", payload("access-2", "refresh-2"))
	require.NoError(t, err)

	rec, err := s.FindByLocalIdentity(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "FB123", rec.ExternalAccountID)
	assert.ElementsMatch(t, []string{"a", "b"}, rec.LocalIdentities)
	assert.Equal(t, "access-2", rec.AccessToken)

	rec, err = s.FindByLocalIdentity(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "FB123", rec.ExternalAccountID)
}

func TestFindByLocalIdentity_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FindByLocalIdentity(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindByLocalIdentity(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsert_IsIdempotentUnion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Upsert(ctx, "uid-a", "FB123", payload(fmt.Sprintf("access-%d", i), "refresh"))
		require.NoError(t, err)
	}
	rec, err := s.Upsert(ctx, "uid-b", "FB123", payload("access-final", "refresh"))
	require.NoError(t, err)

	assert.Equal(t, "access-final", rec.AccessToken)
	assert.Equal(t, []string{"uid-a", "uid-b"}, rec.LocalIdentities)

	var credCount, linkCount int64
	require.NoError(t, s.db.Model(&models.FitbitCredential{}).Count(&credCount).Error)
	require.NoError(t, s.db.Model(&models.CredentialIdentity{}).Count(&linkCount).Error)
	assert.EqualValues(t, 1, credCount)
	assert.EqualValues(t, 2, linkCount)
}

func TestUpsert_EmptyRefreshTokenRetainsStored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "uid-a", "FB123", payload("access-1", "refresh-1"))
	require.NoError(t, err)

	rec, err := s.Upsert(ctx, "uid-a", "FB123", payload("access-2", ""))
	require.NoError(t, err)
	assert.Equal(t, "access-2", rec.AccessToken)
	assert.Equal(t, "refresh-1", rec.RefreshToken)
}

func TestUpsert_RequiresExternalAccountID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert(context.Background(), "uid-a", "", payload("a", "r"))
	assert.Error(t, err)
}

func TestUpsert_ConcurrentIdentitiesAllLinked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Upsert(ctx, fmt.Sprintf("uid-%d", i), "FB123", payload(fmt.Sprintf("access-%d", i), "refresh"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := s.FindByLocalIdentity(ctx, "uid-5")
	require.NoError(t, err)
	assert.Len(t, rec.LocalIdentities, 8)
}

func TestFindByLocalIdentity_PrefersMostRecentlyUpdated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "uid-a", "FB-OLD", payload("old", "r1"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = s.Upsert(ctx, "uid-a", "FB-NEW", payload("new", "r2"))
	require.NoError(t, err)

	rec, err := s.FindByLocalIdentity(ctx, "uid-a")
	require.NoError(t, err)
	assert.Equal(t, "FB-NEW", rec.ExternalAccountID)
}

func TestRecordExpired(t *testing.T) {
	rec := &Record{ExpiresAt: fixedNow}
	assert.True(t, rec.Expired(fixedNow), "expiry instant itself counts as expired")
	assert.True(t, rec.Expired(fixedNow.Add(time.Second)))
	assert.False(t, rec.Expired(fixedNow.Add(-time.Second)))
}
