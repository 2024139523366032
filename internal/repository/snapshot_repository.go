package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

const (
	snapshotDir          = "snapshots"
	snapshotKeyPrefix    = "snapshot:"
	snapshotIndexKey     = "snapshots:index"
	snapshotFileSuffix   = ".json"
	maxFingerprintLength = 128
)

func snapshotNotFound(fingerprint string) error {
	if fingerprint == "" {
		return appErrors.ErrSnapshotNotFound
	}
	return appErrors.Clone(appErrors.ErrSnapshotNotFound, "snapshot "+fingerprint+" not found")
}

func checkFingerprint(fingerprint string) error {
	if fingerprint == "" || len(fingerprint) > maxFingerprintLength || strings.ContainsAny(fingerprint, `/\.:*?`) {
		return appErrors.Clone(appErrors.ErrValidation, "invalid fingerprint")
	}
	return nil
}

func decodeSnapshot(raw []byte) (*models.DatasetSnapshot, error) {
	var snapshot models.DatasetSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snapshot, nil
}

type snapshotFiles interface {
	Save(filename string, data []byte) (string, error)
	Read(filename string) ([]byte, error)
	Delete(filename string) error
	List(dir, suffix string) ([]string, error)
}

// FileSnapshotRepository stores one JSON document per snapshot under the
// snapshots/ directory of a LocalStorage root.
type FileSnapshotRepository struct {
	files snapshotFiles
}

// NewFileSnapshotRepository constructs the repository.
func NewFileSnapshotRepository(files snapshotFiles) *FileSnapshotRepository {
	return &FileSnapshotRepository{files: files}
}

func snapshotFile(fingerprint string) string {
	return path.Join(snapshotDir, fingerprint+snapshotFileSuffix)
}

// Save writes the snapshot atomically, replacing any previous copy.
func (r *FileSnapshotRepository) Save(_ context.Context, snapshot *models.DatasetSnapshot) error {
	if err := checkFingerprint(snapshot.Fingerprint); err != nil {
		return err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := r.files.Save(snapshotFile(snapshot.Fingerprint), payload); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snapshot.Fingerprint, err)
	}
	return nil
}

// Load reads the snapshot stored under fingerprint.
func (r *FileSnapshotRepository) Load(_ context.Context, fingerprint string) (*models.DatasetSnapshot, error) {
	if err := checkFingerprint(fingerprint); err != nil {
		return nil, snapshotNotFound(fingerprint)
	}
	raw, err := r.files.Read(snapshotFile(fingerprint))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, snapshotNotFound(fingerprint)
		}
		return nil, err
	}
	return decodeSnapshot(raw)
}

// Latest scans the directory for the newest snapshot that has not expired.
// Unreadable files are skipped.
func (r *FileSnapshotRepository) Latest(ctx context.Context) (*models.DatasetSnapshot, error) {
	var latest *models.DatasetSnapshot
	now := time.Now()
	err := r.each(func(snapshot *models.DatasetSnapshot) error {
		if snapshot.Expired(now) {
			return nil
		}
		if latest == nil || snapshot.CreatedAt.After(latest.CreatedAt) {
			latest = snapshot
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, snapshotNotFound("")
	}
	return latest, nil
}

// Delete removes the snapshot file if present.
func (r *FileSnapshotRepository) Delete(_ context.Context, fingerprint string) error {
	if err := checkFingerprint(fingerprint); err != nil {
		return err
	}
	return r.files.Delete(snapshotFile(fingerprint))
}

// DeleteExpired removes every snapshot file expired at now.
func (r *FileSnapshotRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	removed := 0
	err := r.each(func(snapshot *models.DatasetSnapshot) error {
		if !snapshot.Expired(now) {
			return nil
		}
		if err := r.files.Delete(snapshotFile(snapshot.Fingerprint)); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

func (r *FileSnapshotRepository) each(fn func(*models.DatasetSnapshot) error) error {
	names, err := r.files.List(snapshotDir, snapshotFileSuffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		raw, err := r.files.Read(name)
		if err != nil {
			continue
		}
		snapshot, err := decodeSnapshot(raw)
		if err != nil || snapshot.Fingerprint == "" {
			continue
		}
		if err := fn(snapshot); err != nil {
			return err
		}
	}
	return nil
}

// RedisSnapshotClient is the subset of go-redis commands the snapshot
// repository issues. *redis.Client and redis.UniversalClient satisfy it.
type RedisSnapshotClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// RedisSnapshotRepository stores snapshots as JSON strings expiring with the
// snapshot. A sorted set scored by creation time indexes the fingerprints so
// the latest live snapshot survives the deletion of a newer one.
type RedisSnapshotRepository struct {
	client RedisSnapshotClient
	now    func() time.Time
}

// NewRedisSnapshotRepository constructs the repository.
func NewRedisSnapshotRepository(client RedisSnapshotClient) *RedisSnapshotRepository {
	return &RedisSnapshotRepository{client: client, now: time.Now}
}

func (r *RedisSnapshotRepository) ttl(snapshot *models.DatasetSnapshot) time.Duration {
	if snapshot.ExpiresAt.IsZero() {
		return 0
	}
	ttl := snapshot.ExpiresAt.Sub(r.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Save stores the payload and indexes it. Saving the same snapshot twice is
// harmless, so a failure between the two writes is repaired by a retry.
func (r *RedisSnapshotRepository) Save(ctx context.Context, snapshot *models.DatasetSnapshot) error {
	if err := checkFingerprint(snapshot.Fingerprint); err != nil {
		return err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, snapshotKeyPrefix+snapshot.Fingerprint, payload, r.ttl(snapshot)).Err(); err != nil {
		return fmt.Errorf("redis save snapshot %s: %w", snapshot.Fingerprint, err)
	}
	score := float64(snapshot.CreatedAt.UnixNano())
	if err := r.client.ZAdd(ctx, snapshotIndexKey, redis.Z{Score: score, Member: snapshot.Fingerprint}).Err(); err != nil {
		return fmt.Errorf("redis index snapshot %s: %w", snapshot.Fingerprint, err)
	}
	return nil
}

// Load reads the snapshot stored under fingerprint.
func (r *RedisSnapshotRepository) Load(ctx context.Context, fingerprint string) (*models.DatasetSnapshot, error) {
	if err := checkFingerprint(fingerprint); err != nil {
		return nil, snapshotNotFound(fingerprint)
	}
	raw, err := r.client.Get(ctx, snapshotKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, snapshotNotFound(fingerprint)
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", fingerprint, err)
	}
	return decodeSnapshot(raw)
}

// Latest walks the index from the newest entry and returns the first snapshot
// whose payload is still live. Members whose payload expired are pruned.
func (r *RedisSnapshotRepository) Latest(ctx context.Context) (*models.DatasetSnapshot, error) {
	members, err := r.client.ZRevRange(ctx, snapshotIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list snapshot index: %w", err)
	}
	now := r.now()
	for _, fingerprint := range members {
		snapshot, err := r.Load(ctx, fingerprint)
		if errors.Is(err, appErrors.ErrSnapshotNotFound) {
			if err := r.client.ZRem(ctx, snapshotIndexKey, fingerprint).Err(); err != nil {
				return nil, fmt.Errorf("redis prune snapshot index: %w", err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if snapshot.Expired(now) {
			continue
		}
		return snapshot, nil
	}
	return nil, snapshotNotFound("")
}

// Delete removes the snapshot and its index entry.
func (r *RedisSnapshotRepository) Delete(ctx context.Context, fingerprint string) error {
	if err := checkFingerprint(fingerprint); err != nil {
		return err
	}
	if err := r.client.Del(ctx, snapshotKeyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("redis delete snapshot %s: %w", fingerprint, err)
	}
	if err := r.client.ZRem(ctx, snapshotIndexKey, fingerprint).Err(); err != nil {
		return fmt.Errorf("redis unindex snapshot %s: %w", fingerprint, err)
	}
	return nil
}

// PostgresSnapshotRepository stores snapshots in the dataset_snapshots table.
type PostgresSnapshotRepository struct {
	db *sqlx.DB
}

// NewPostgresSnapshotRepository constructs the repository.
func NewPostgresSnapshotRepository(db *sqlx.DB) *PostgresSnapshotRepository {
	return &PostgresSnapshotRepository{db: db}
}

type snapshotRow struct {
	Payload []byte `db:"payload"`
}

// Save upserts the snapshot row.
func (r *PostgresSnapshotRepository) Save(ctx context.Context, snapshot *models.DatasetSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	const query = `INSERT INTO dataset_snapshots (fingerprint, period, payload, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (fingerprint) DO UPDATE SET period = EXCLUDED.period, payload = EXCLUDED.payload, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`
	if _, err := r.db.ExecContext(ctx, query, snapshot.Fingerprint, snapshot.Period, payload, snapshot.CreatedAt, snapshot.ExpiresAt); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snapshot.Fingerprint, err)
	}
	return nil
}

// Load reads the snapshot stored under fingerprint.
func (r *PostgresSnapshotRepository) Load(ctx context.Context, fingerprint string) (*models.DatasetSnapshot, error) {
	const query = `SELECT payload FROM dataset_snapshots WHERE fingerprint = $1`
	var row snapshotRow
	if err := r.db.GetContext(ctx, &row, query, fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, snapshotNotFound(fingerprint)
		}
		return nil, fmt.Errorf("load snapshot %s: %w", fingerprint, err)
	}
	return decodeSnapshot(row.Payload)
}

// Latest returns the newest snapshot that has not expired.
func (r *PostgresSnapshotRepository) Latest(ctx context.Context) (*models.DatasetSnapshot, error) {
	const query = `SELECT payload FROM dataset_snapshots WHERE expires_at > $1 ORDER BY created_at DESC, fingerprint DESC LIMIT 1`
	var row snapshotRow
	if err := r.db.GetContext(ctx, &row, query, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, snapshotNotFound("")
		}
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}
	return decodeSnapshot(row.Payload)
}

// Delete removes the snapshot row.
func (r *PostgresSnapshotRepository) Delete(ctx context.Context, fingerprint string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM dataset_snapshots WHERE fingerprint = $1`, fingerprint); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", fingerprint, err)
	}
	return nil
}

// DeleteExpired purges rows expired at now.
func (r *PostgresSnapshotRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dataset_snapshots WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired snapshots: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count expired snapshots: %w", err)
	}
	return int(affected), nil
}
