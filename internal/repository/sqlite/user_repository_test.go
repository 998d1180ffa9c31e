package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T) *UserRepository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "courier.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := &UserRepository{db: db}
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func TestEnsureInsertsAndUpdates(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	user, err := repo.Ensure(ctx, 42, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Zero(t, user.FetchCount)

	// second contact with a changed username keeps counters
	require.NoError(t, repo.RecordFetch(ctx, 42, 1024))
	user, err = repo.Ensure(ctx, 42, "alice_renamed")
	require.NoError(t, err)
	assert.Equal(t, "alice_renamed", user.Username)
	assert.Equal(t, int64(1), user.FetchCount)
	assert.Equal(t, int64(1024), user.BytesFetched)
}

func TestCountersAccumulate(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	_, err := repo.Ensure(ctx, 7, "bob")
	require.NoError(t, err)

	require.NoError(t, repo.RecordFetch(ctx, 7, 100))
	require.NoError(t, repo.RecordFetch(ctx, 7, 250))
	require.NoError(t, repo.RecordUpload(ctx, 7, 300))

	user, err := repo.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), user.FetchCount)
	assert.Equal(t, int64(350), user.BytesFetched)
	assert.Equal(t, int64(1), user.UploadCount)
	assert.Equal(t, int64(300), user.BytesUploaded)
}

func TestSettingsRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	_, err := repo.Ensure(ctx, 9, "carol")
	require.NoError(t, err)

	require.NoError(t, repo.SetCustomName(ctx, 9, "My File"))
	require.NoError(t, repo.SetCustomCaption(ctx, 9, "uploaded by courier"))
	require.NoError(t, repo.SetCustomThumb(ctx, 9, "/data/thumbs/thumb_9.jpg"))

	user, err := repo.GetByID(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "My File", user.CustomName)
	assert.Equal(t, "uploaded by courier", user.CustomCaption)
	assert.Equal(t, "/data/thumbs/thumb_9.jpg", user.CustomThumb)

	require.NoError(t, repo.ClearSettings(ctx, 9))
	user, err = repo.GetByID(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, user.CustomName)
	assert.Empty(t, user.CustomCaption)
	assert.Empty(t, user.CustomThumb)
}

func TestStatsAggregate(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_, err := repo.Ensure(ctx, id, "user")
		require.NoError(t, err)
		require.NoError(t, repo.RecordFetch(ctx, id, 10))
	}
	require.NoError(t, repo.RecordUpload(ctx, 2, 5))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Users)
	assert.Equal(t, int64(3), stats.Fetches)
	assert.Equal(t, int64(1), stats.Uploads)
	assert.Equal(t, int64(30), stats.BytesFetched)
	assert.Equal(t, int64(5), stats.BytesUploaded)
}
