package capture

import (
	"context"
	"time"

	"github.com/dgnsrekt/promptdeck/internal/types"
)

// Cursor is a single-pass, keyset-paginated iterator over a filtered result
// set, ordered the same way Search orders (created_at DESC, id ASC). It lets
// the export pipeline stream arbitrarily large result sets without
// materializing them.
type Cursor struct {
	store *Store
	f     types.Filter
	batch int

	started     bool
	done        bool
	lastCreated time.Time
	lastID      string
}

// NewCursor creates a cursor over the filter with the given batch size.
// Pagination fields on the filter are ignored; the cursor visits every match.
func (s *Store) NewCursor(f types.Filter, batchSize int) *Cursor {
	if batchSize < 1 {
		batchSize = 500
	}
	f.Limit = 0
	f.Offset = 0
	return &Cursor{store: s, f: f, batch: batchSize}
}

// Next returns the next batch of records, or (nil, nil) when exhausted.
func (c *Cursor) Next(ctx context.Context) ([]types.CaptureRecord, error) {
	if c.done {
		return nil, nil
	}

	where, args, empty := buildWhere(c.f)
	if empty {
		c.done = true
		return nil, nil
	}

	// Keyset continuation: strictly after the last row in (created_at DESC,
	// id ASC) order.
	if c.started {
		cont := `(created_at < ? OR (created_at = ? AND id > ?))`
		if where == "" {
			where = " WHERE " + cont
		} else {
			where += " AND " + cont
		}
		args = append(args, c.lastCreated, c.lastCreated, c.lastID)
	}

	query := `SELECT ` + captureColumns + ` FROM captures` + where +
		` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, c.batch)

	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.NewError(types.CodeIOError, "cursor query", err)
	}
	defer rows.Close()

	records := make([]types.CaptureRecord, 0, c.batch)
	ids := make([]string, 0, c.batch)
	for rows.Next() {
		rec, err := scanCapture(rows)
		if err != nil {
			return nil, types.NewError(types.CodeIOError, "cursor scan", err)
		}
		records = append(records, rec)
		ids = append(ids, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewError(types.CodeIOError, "cursor rows", err)
	}

	if len(records) == 0 {
		c.done = true
		return nil, nil
	}

	tags, err := c.store.loadTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Tags = tags[records[i].ID]
	}

	last := records[len(records)-1]
	c.lastCreated = last.CreatedAt
	c.lastID = last.ID
	c.started = true
	if len(records) < c.batch {
		c.done = true
	}
	return records, nil
}
