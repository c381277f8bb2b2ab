package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"modelreg/internal/logging"
	"modelreg/internal/model"
	"modelreg/internal/region"
	"modelreg/internal/storage"
)

// SQLiteCache persists models in the storage database.
type SQLiteCache struct {
	// writeMu serializes writers so that key lookups and inserts of
	// concurrent deposits cannot interleave.
	writeMu sync.Mutex

	db     *storage.DB
	codec  *valueCodec
	logger *logging.Logger
}

// OpenSQLite opens or creates the cache database in dir.
func OpenSQLite(dir string, logger *logging.Logger) (*SQLiteCache, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	db, err := storage.Open(dir, logger)
	if err != nil {
		return nil, err
	}
	codec, err := newValueCodec()
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteCache{db: db, codec: codec, logger: logger}, nil
}

// categoryFilter builds a WHERE clause matching category with wildcards.
// When stored is set, wildcard values stored in a column match as well.
func categoryFilter(c model.Category, stored bool) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	for _, f := range []struct {
		column string
		value  string
	}{
		{"source", c.Source},
		{"family", c.Family},
		{"category", c.Category},
	} {
		if f.value == model.Wildcard {
			continue
		}
		if stored {
			clauses = append(clauses, "("+f.column+" = ? OR "+f.column+" = '')")
		} else {
			clauses = append(clauses, f.column+" = ?")
		}
		args = append(args, f.value)
	}
	if len(clauses) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(clauses, " AND "), args
}

// IntervalSatisfactions implements Cache.
func (c *SQLiteCache) IntervalSatisfactions(ctx context.Context, category model.Category, matchers []model.PropertyMatcher) ([]model.Satisfaction, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT source, family, category, matchers_key, region_json FROM satisfactions
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query satisfactions: %w", err)
	}
	defer rows.Close()

	key := model.MatchersKey(matchers)
	var out []model.Satisfaction
	for rows.Next() {
		var s satisfactionRecord
		var regionJSON string
		if err := rows.Scan(&s.Category.Source, &s.Category.Family, &s.Category.Category, &s.MatchersKey, &regionJSON); err != nil {
			return nil, err
		}
		if !s.covers(category, key) {
			continue
		}
		if err := json.Unmarshal([]byte(regionJSON), &s.Region); err != nil {
			return nil, fmt.Errorf("failed to decode satisfaction region: %w", err)
		}
		out = append(out, model.NewSatisfaction(s.Region))
	}
	return out, rows.Err()
}

// IDs implements Cache.
func (c *SQLiteCache) IDs(ctx context.Context, q *model.Query) ([]int64, error) {
	where, args := categoryFilter(q.Category, false)
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, source, family, category, model_key, extent_json, values_blob
		FROM models WHERE `+where+` ORDER BY id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	var recs []*record
	for rows.Next() {
		r, _, err := c.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if r.answers(q) {
			recs = append(recs, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return selectIDs(recs, q), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (c *SQLiteCache) scanRecord(s scanner) (*record, map[string]json.RawMessage, error) {
	r := &record{}
	var extentJSON string
	var blob []byte
	if err := s.Scan(&r.ID, &r.Category.Source, &r.Category.Family, &r.Category.Category, &r.Key, &extentJSON, &blob); err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal([]byte(extentJSON), &r.Extent); err != nil {
		return nil, nil, fmt.Errorf("model %d: failed to decode extent: %w", r.ID, err)
	}
	raw, err := c.codec.decode(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("model %d: %w", r.ID, err)
	}
	r.Values = generic(raw)
	return r, raw, nil
}

// Values implements Cache.
func (c *SQLiteCache) Values(ctx context.Context, ids []int64, descs []model.PropertyDescriptor) (map[model.PropertyDescriptor][]any, []int, error) {
	out := make(map[model.PropertyDescriptor][]any, len(descs))
	for _, d := range descs {
		out[d] = make([]any, len(ids))
	}

	stmt, err := c.db.Conn().PrepareContext(ctx, "SELECT values_blob FROM models WHERE id = ?")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to prepare values query: %w", err)
	}
	defer stmt.Close()

	var failed []int
	for i, id := range ids {
		var blob []byte
		err := stmt.QueryRowContext(ctx, id).Scan(&blob)
		if err == sql.ErrNoRows {
			failed = append(failed, i)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load model %d: %w", id, err)
		}
		raw, err := c.codec.decode(blob)
		if err != nil {
			c.logger.Warn("Undecodable cached model", map[string]interface{}{
				"id":    id,
				"error": err.Error(),
			})
			failed = append(failed, i)
			continue
		}
		for _, d := range descs {
			if v, ok := typed(raw[d.Name], d.Type); ok {
				out[d][i] = v
			}
		}
	}
	return out, failed, nil
}

// Put implements Cache.
func (c *SQLiteCache) Put(ctx context.Context, d model.Deposit, onModified ModifiedFunc) ([]int64, error) {
	ids := make([]int64, len(d.Items))
	var added, updated []int64
	now := time.Now().UTC().Format(time.RFC3339Nano)

	c.writeMu.Lock()
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		added, updated = nil, nil
		for i, it := range d.Items {
			id, ok, err := c.mergeExisting(ctx, tx, d.Category, it, now)
			if err != nil {
				return err
			}
			if ok {
				ids[i] = id
				updated = append(updated, id)
				continue
			}
			id, err = c.insert(ctx, tx, d.Category, it, now)
			if err != nil {
				return err
			}
			ids[i] = id
			added = append(added, id)
		}
		return nil
	})
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	if onModified != nil && (len(added) > 0 || len(updated) > 0) {
		onModified(added, updated)
	}
	return ids, nil
}

func (c *SQLiteCache) mergeExisting(ctx context.Context, tx *sql.Tx, cat model.Category, it model.DepositItem, now string) (int64, bool, error) {
	if it.Key == "" {
		return 0, false, nil
	}
	row := tx.QueryRowContext(ctx, `
		SELECT id, source, family, category, model_key, extent_json, values_blob
		FROM models WHERE source = ? AND family = ? AND category = ? AND model_key = ?
	`, cat.Source, cat.Family, cat.Category, it.Key)
	r, raw, err := c.scanRecord(row)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	raw, err = mergeRaw(raw, it.Values)
	if err != nil {
		return 0, false, err
	}
	blob, err := c.codec.encode(raw)
	if err != nil {
		return 0, false, err
	}
	extent := r.Extent
	if len(it.Extent) > 0 {
		extent = it.Extent
	}
	extentJSON, err := json.Marshal(extent)
	if err != nil {
		return 0, false, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE models SET extent_json = ?, values_blob = ?, updated_at = ? WHERE id = ?
	`, string(extentJSON), blob, now, r.ID); err != nil {
		return 0, false, fmt.Errorf("failed to update model %d: %w", r.ID, err)
	}
	return r.ID, true, nil
}

func (c *SQLiteCache) insert(ctx context.Context, tx *sql.Tx, cat model.Category, it model.DepositItem, now string) (int64, error) {
	raw, err := mergeRaw(nil, it.Values)
	if err != nil {
		return 0, err
	}
	blob, err := c.codec.encode(raw)
	if err != nil {
		return 0, err
	}
	extent := it.Extent
	if extent == nil {
		extent = region.Box{}
	}
	extentJSON, err := json.Marshal(extent)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO models (source, family, category, model_key, extent_json, values_blob, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, cat.Source, cat.Family, cat.Category, it.Key, string(extentJSON), blob, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert model: %w", err)
	}
	return res.LastInsertId()
}

// RecordSatisfaction implements Cache.
func (c *SQLiteCache) RecordSatisfaction(ctx context.Context, category model.Category, matchers []model.PropertyMatcher, r region.Set) error {
	if r.IsEmpty() {
		return nil
	}
	regionJSON, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO satisfactions (source, family, category, matchers_key, region_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, category.Source, category.Family, category.Category, model.MatchersKey(matchers),
		string(regionJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record satisfaction: %w", err)
	}
	return nil
}

// Clear implements Cache.
func (c *SQLiteCache) Clear(ctx context.Context, category model.Category) ([]int64, error) {
	where, args := categoryFilter(category, false)
	satWhere, satArgs := categoryFilter(category, true)
	var ids []int64

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		ids = nil
		rows, err := tx.QueryContext(ctx, "SELECT id FROM models WHERE "+where+" ORDER BY id", args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM models WHERE "+where, args...); err != nil {
			return fmt.Errorf("failed to clear models: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM satisfactions WHERE "+satWhere, satArgs...); err != nil {
			return fmt.Errorf("failed to clear satisfactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// Stats implements Cache.
func (c *SQLiteCache) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Backend: "sqlite", Path: c.db.Path()}
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM models").Scan(&s.Models); err != nil {
		return s, err
	}
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM satisfactions").Scan(&s.Satisfactions); err != nil {
		return s, err
	}
	return s, nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	c.codec.close()
	return c.db.Close()
}
