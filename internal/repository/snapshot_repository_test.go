package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"sort"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
	"github.com/noah-isme/portfolio-review-api/pkg/storage"
)

func snapshotFixture(fp string, created time.Time, ttl time.Duration) *models.DatasetSnapshot {
	return &models.DatasetSnapshot{
		Fingerprint: fp,
		Period:      "2025-09",
		Columns:     models.DefaultColumns,
		Rows: []models.OrderLine{
			{OrderID: "4500001", MaterialID: "MAT-1", ReviewerID: "GC-01", Balance: decimal.NewFromInt(176200000)},
		},
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
	}
}

func newFileSnapshotRepo(t *testing.T) *FileSnapshotRepository {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewFileSnapshotRepository(files)
}

func TestFileSnapshotRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newFileSnapshotRepo(t)
	now := time.Now().UTC()

	older := snapshotFixture("aaaa", now.Add(-time.Hour), 24*time.Hour)
	newer := snapshotFixture("bbbb", now, 24*time.Hour)
	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, newer))

	loaded, err := repo.Load(ctx, "aaaa")
	require.NoError(t, err)
	require.Equal(t, "GC-01", loaded.Rows[0].ReviewerID)
	require.True(t, older.Rows[0].Balance.Equal(loaded.Rows[0].Balance))

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "bbbb", latest.Fingerprint)

	require.NoError(t, repo.Delete(ctx, "bbbb"))
	_, err = repo.Load(ctx, "bbbb")
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)

	latest, err = repo.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "aaaa", latest.Fingerprint)
}

func TestFileSnapshotRepositoryRejectsTraversal(t *testing.T) {
	repo := newFileSnapshotRepo(t)
	_, err := repo.Load(context.Background(), "../etc/passwd")
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)
	require.ErrorIs(t, repo.Save(context.Background(), snapshotFixture("../x", time.Now(), time.Hour)), appErrors.ErrValidation)
}

func TestFileSnapshotRepositoryDeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := newFileSnapshotRepo(t)
	now := time.Now().UTC()

	require.NoError(t, repo.Save(ctx, snapshotFixture("old", now.Add(-48*time.Hour), 24*time.Hour)))
	require.NoError(t, repo.Save(ctx, snapshotFixture("fresh", now, 24*time.Hour)))

	removed, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Load(ctx, "old")
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)
	_, err = repo.Load(ctx, "fresh")
	require.NoError(t, err)
}

func TestFileSnapshotRepositoryLatestEmpty(t *testing.T) {
	_, err := newFileSnapshotRepo(t).Latest(context.Background())
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)
}

func TestPostgresSnapshotRepository(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPostgresSnapshotRepository(db)
	ctx := context.Background()
	snap := snapshotFixture("cafe", time.Now().UTC(), time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dataset_snapshots")).
		WithArgs("cafe", "2025-09", sqlmock.AnyArg(), snap.CreatedAt, snap.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Save(ctx, snap))

	payload, err := json.Marshal(snap)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM dataset_snapshots WHERE fingerprint = $1")).
		WithArgs("cafe").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
	loaded, err := repo.Load(ctx, "cafe")
	require.NoError(t, err)
	require.Equal(t, "cafe", loaded.Fingerprint)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM dataset_snapshots WHERE fingerprint = $1")).
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.Load(ctx, "gone")
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE expires_at > $1 ORDER BY created_at DESC")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
	_, err = repo.Latest(ctx)
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM dataset_snapshots WHERE expires_at <= $1")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	purged, err := repo.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 3, purged)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSnapshotRepositoryUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	repo := NewRedisSnapshotRepository(client)
	ctx := context.Background()

	err := repo.Save(ctx, snapshotFixture("cafe", time.Now(), time.Hour))
	require.Error(t, err)
	require.NotErrorIs(t, err, appErrors.ErrSnapshotNotFound)

	_, err = repo.Load(ctx, "cafe")
	require.Error(t, err)
	require.NotErrorIs(t, err, appErrors.ErrSnapshotNotFound)

	_, err = repo.Load(ctx, "bad/fp")
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)
}

type fakeRedis struct {
	strings map[string]string
	zsets   map[string]map[string]float64
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{strings: map[string]string{}, zsets: map[string]map[string]float64{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	value, ok := f.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.strings[key] = string(v)
	case string:
		f.strings[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := f.strings[key]; ok {
			delete(f.strings, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) ZAdd(_ context.Context, key string, members ...redis.Z) *redis.IntCmd {
	set, ok := f.zsets[key]
	if !ok {
		set = map[string]float64{}
		f.zsets[key] = set
	}
	for _, m := range members {
		set[m.Member.(string)] = m.Score
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) ZRem(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	var n int64
	for _, m := range members {
		if _, ok := f.zsets[key][m.(string)]; ok {
			delete(f.zsets[key], m.(string))
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) ZRevRange(_ context.Context, key string, _, _ int64) *redis.StringSliceCmd {
	set := f.zsets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if set[members[i]] == set[members[j]] {
			return members[i] > members[j]
		}
		return set[members[i]] > set[members[j]]
	})
	return redis.NewStringSliceResult(members, nil)
}

func TestRedisSnapshotRepositoryLatestSurvivesDelete(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	repo := NewRedisSnapshotRepository(client)
	now := time.Now().UTC()

	require.NoError(t, repo.Save(ctx, snapshotFixture("aaaa", now.Add(-time.Hour), 24*time.Hour)))
	require.NoError(t, repo.Save(ctx, snapshotFixture("bbbb", now, 24*time.Hour)))

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "bbbb", latest.Fingerprint)

	require.NoError(t, repo.Delete(ctx, "bbbb"))
	latest, err = repo.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "aaaa", latest.Fingerprint)

	_, err = repo.Load(ctx, "bbbb")
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)
}

func TestRedisSnapshotRepositoryLatestPrunesExpiredPayloads(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	repo := NewRedisSnapshotRepository(client)
	now := time.Now().UTC()

	require.NoError(t, repo.Save(ctx, snapshotFixture("aaaa", now.Add(-time.Hour), 24*time.Hour)))
	require.NoError(t, repo.Save(ctx, snapshotFixture("bbbb", now, 24*time.Hour)))
	delete(client.strings, snapshotKeyPrefix+"bbbb")

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "aaaa", latest.Fingerprint)
	require.NotContains(t, client.zsets[snapshotIndexKey], "bbbb")

	require.NoError(t, repo.Delete(ctx, "aaaa"))
	_, err = repo.Latest(ctx)
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)
}
