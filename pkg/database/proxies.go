package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"proxy-pool/pkg/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// InsertProxyIfAbsent inserts the proxy unless one with the same
// (type, host, port) already exists. The unique endpoint index closes the
// race between concurrent inserts: exactly one succeeds.
func (db *DB) InsertProxyIfAbsent(ctx context.Context, proxy *models.Proxy) (bool, error) {
	if proxy.ID == "" {
		proxy.ID = uuid.NewString()
	}
	if proxy.AddTime.IsZero() {
		proxy.AddTime = time.Now().UTC()
	}
	proxy.HTTP = models.Unreachable
	proxy.HTTPS = models.Unreachable

	res, err := db.NewInsert().
		Model(proxy).
		On("CONFLICT (type, host, port) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("error inserting proxy: %v", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error inserting proxy: %v", err)
	}
	return rows > 0, nil
}

func dueQuery(q *bun.SelectQuery, checkInterval time.Duration, failLimit int) *bun.SelectQuery {
	cutoff := time.Now().UTC().Add(-checkInterval)
	return q.
		Where("last_check_time < ?", cutoff).
		Where("check_fail_count < ?", failLimit).
		Where("checking = ?", false)
}

// FindDue returns up to limit proxies that are stale enough for another
// probe cycle. Each call is a fresh scan; ordering is oldest-checked first.
func (db *DB) FindDue(ctx context.Context, checkInterval time.Duration, failLimit, limit int) ([]models.Proxy, error) {
	var proxies []models.Proxy
	q := dueQuery(db.NewSelect().Model(&proxies), checkInterval, failLimit).
		Order("last_check_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("error querying due proxies: %v", err)
	}
	return proxies, nil
}

// ClaimProxy atomically takes ownership of a proxy for probing. It returns
// false when another worker already holds the claim or the record is gone.
func (db *DB) ClaimProxy(ctx context.Context, id string) (bool, error) {
	res, err := db.NewUpdate().
		Model((*models.Proxy)(nil)).
		Set("checking = ?", true).
		Where("id = ?", id).
		Where("checking = ?", false).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("error claiming proxy: %v", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error claiming proxy: %v", err)
	}
	return rows > 0, nil
}

// ReleaseProxy drops a claim without recording an outcome. Only used on
// abnormal exit paths; normal paths end in CommitSuccess or CommitFailure.
func (db *DB) ReleaseProxy(ctx context.Context, id string) error {
	_, err := db.NewUpdate().
		Model((*models.Proxy)(nil)).
		Set("checking = ?", false).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("error releasing proxy: %v", err)
	}
	return nil
}

// ResetChecking clears every dangling claim left by a previous crash.
func (db *DB) ResetChecking(ctx context.Context) (int64, error) {
	res, err := db.NewUpdate().
		Model((*models.Proxy)(nil)).
		Set("checking = ?", false).
		Where("checking = ?", true).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("error resetting checking flags: %v", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error resetting checking flags: %v", err)
	}
	return rows, nil
}

// CommitSuccess records a cycle where at least one protocol was reachable.
func (db *DB) CommitSuccess(ctx context.Context, id string, httpRes, httpsRes models.ProtocolResult) error {
	_, err := db.NewUpdate().
		Model((*models.Proxy)(nil)).
		Set("http_status = ?", httpRes.Status).
		Set("http_latency = ?", httpRes.Latency).
		Set("https_status = ?", httpsRes.Status).
		Set("https_latency = ?", httpsRes.Latency).
		Set("check_fail_count = 0").
		Set("check_success_count = check_success_count + 1").
		Set("checking = ?", false).
		Set("last_check_time = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("error committing success: %v", err)
	}
	return nil
}

// CommitFailure records a cycle where both protocols failed. The increment
// that reaches failLimit evicts the record; below the limit the claim is
// released and the proxy stays in the pool.
func (db *DB) CommitFailure(ctx context.Context, id string, failLimit int) (evicted bool, err error) {
	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var failCount int
		_, err := tx.NewUpdate().
			Model((*models.Proxy)(nil)).
			Set("check_fail_count = check_fail_count + 1").
			Set("http_status = ?", false).
			Set("http_latency = ?", int64(-1)).
			Set("https_status = ?", false).
			Set("https_latency = ?", int64(-1)).
			Set("checking = ?", false).
			Set("last_check_time = ?", time.Now().UTC()).
			Where("id = ?", id).
			Returning("check_fail_count").
			Exec(ctx, &failCount)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		if failCount < failLimit {
			return nil
		}

		if _, err := tx.NewDelete().
			Model((*models.Proxy)(nil)).
			Where("id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		evicted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("error committing failure: %v", err)
	}
	return evicted, nil
}

func availableQuery(q *bun.SelectQuery, filter models.Filter) *bun.SelectQuery {
	q = q.
		Where("check_success_count > ?", filter.MinSuccessCount).
		Where("check_fail_count <= ?", filter.MaxFailCount)

	switch {
	case filter.OnlyHTTPS && filter.MaxLatency > 0:
		q = q.Where("https_status = ?", true).
			Where("https_latency <= ?", filter.MaxLatency)
	case filter.OnlyHTTPS:
		q = q.Where("https_status = ?", true)
	case filter.MaxLatency > 0:
		q = q.Where("(http_status AND http_latency <= ?) OR (https_status AND https_latency <= ?)",
			filter.MaxLatency, filter.MaxLatency)
	}
	return q
}

func (db *DB) CountAvailable(ctx context.Context, filter models.Filter) (int, error) {
	count, err := availableQuery(db.NewSelect().Model((*models.Proxy)(nil)), filter).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("error counting available proxies: %v", err)
	}
	return count, nil
}

func (db *DB) CountChecking(ctx context.Context) (int, error) {
	count, err := db.NewSelect().
		Model((*models.Proxy)(nil)).
		Where("checking = ?", true).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("error counting checking proxies: %v", err)
	}
	return count, nil
}

func (db *DB) CountDue(ctx context.Context, checkInterval time.Duration, failLimit int) (int, error) {
	count, err := dueQuery(db.NewSelect().Model((*models.Proxy)(nil)), checkInterval, failLimit).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("error counting due proxies: %v", err)
	}
	return count, nil
}

func (db *DB) CountTotal(ctx context.Context) (int, error) {
	count, err := db.NewSelect().Model((*models.Proxy)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("error counting proxies: %v", err)
	}
	return count, nil
}

// UpdateProxyInfo stores enrichment annotations. Health state is never
// touched here.
func (db *DB) UpdateProxyInfo(ctx context.Context, id, country, asOrg string) error {
	_, err := db.NewUpdate().
		Model((*models.Proxy)(nil)).
		Set("country = ?", country).
		Set("as_org = ?", asOrg).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("error updating proxy info: %v", err)
	}
	return nil
}

// SweepExpired deletes proxies that outlived their TTL while also having
// exhausted the failure budget. Age alone never deletes a record.
func (db *DB) SweepExpired(ctx context.Context, ttl time.Duration, failLimit int) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := db.NewDelete().
		Model((*models.Proxy)(nil)).
		Where("add_time < ?", cutoff).
		Where("check_fail_count >= ?", failLimit).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("error sweeping expired proxies: %v", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error sweeping expired proxies: %v", err)
	}
	return rows, nil
}

// SampleAvailable returns one uniformly sampled proxy matching the filter,
// or nil when nothing matches. A nil proxy is not an error: callers must
// distinguish an empty pool from an unreachable backend.
func (db *DB) SampleAvailable(ctx context.Context, filter models.Filter) (*models.Proxy, error) {
	proxy := new(models.Proxy)
	err := availableQuery(db.NewSelect().Model(proxy), filter).
		OrderExpr("random()").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error sampling proxy: %v", err)
	}
	return proxy, nil
}

func (db *DB) GetProxy(ctx context.Context, id string) (*models.Proxy, error) {
	proxy := new(models.Proxy)
	err := db.NewSelect().
		Model(proxy).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting proxy: %v", err)
	}
	return proxy, nil
}

// PenalizeProxy is the administrative delete: it hard-deletes when one more
// failure would exhaust the budget, otherwise it demotes the proxy by
// incrementing its fail count.
func (db *DB) PenalizeProxy(ctx context.Context, id string, failLimit int) (deleted bool, err error) {
	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		proxy := new(models.Proxy)
		if err := tx.NewSelect().Model(proxy).Where("id = ?", id).Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sql.ErrNoRows
			}
			return err
		}

		if proxy.CheckFailCount+1 >= failLimit {
			if _, err := tx.NewDelete().
				Model((*models.Proxy)(nil)).
				Where("id = ?", id).
				Exec(ctx); err != nil {
				return err
			}
			deleted = true
			return nil
		}

		_, err := tx.NewUpdate().
			Model((*models.Proxy)(nil)).
			Set("check_fail_count = check_fail_count + 1").
			Set("last_check_time = ?", time.Now().UTC()).
			Where("id = ?", id).
			Exec(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, models.ErrNotFound
		}
		return false, fmt.Errorf("error penalizing proxy: %v", err)
	}
	return deleted, nil
}
