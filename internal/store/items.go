package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// insertBatchSize caps how many item inserts ride in one pgx batch.
var insertBatchSize = 500

// ItemStore persists the per-row ImportItem records.
type ItemStore struct {
	pool *pgxpool.Pool
}

// NewItemStore creates an ItemStore backed by the given pool.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

const itemColumns = `item_id, import_id, row_index, game_title, platform_name, region_name,
	source_type, time_text, completed_at, completion_type, playtime_hours,
	status, catalog_game_id, completion_record_id, error_text`

// BulkInsertItems inserts all rows of a session as PENDING items, in row
// order, using batched statements.
func (s *ItemStore) BulkInsertItems(ctx context.Context, importID string, items []Item) error {
	for start := 0; start < len(items); start += insertBatchSize {
		end := min(start+insertBatchSize, len(items))

		batch := &pgx.Batch{}
		for _, item := range items[start:end] {
			batch.Queue(
				`INSERT INTO import_items (item_id, import_id, row_index, game_title, platform_name,
					region_name, source_type, time_text, completed_at, completion_type, playtime_hours, status)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				uuid.New().String(), importID, item.RowIndex, item.GameTitle, item.PlatformName,
				item.RegionName, item.SourceType, item.TimeText, item.CompletedAt,
				item.CompletionType, item.PlaytimeHours, ItemPending,
			)
		}

		results := s.pool.SendBatch(ctx, batch)
		if err := results.Close(); err != nil {
			return fmt.Errorf("bulk insert items: %w", err)
		}
	}
	return nil
}

// NextPendingItem returns the lowest-indexed PENDING item of the session, or
// nil when the session is drained. Ordering is explicit so resume timing can
// never depend on insertion order.
func (s *ItemStore) NextPendingItem(ctx context.Context, importID string) (*Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+`
		 FROM import_items
		 WHERE import_id = $1 AND status = $2
		 ORDER BY row_index ASC
		 LIMIT 1`,
		importID, ItemPending,
	)

	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending item: %w", err)
	}
	return item, nil
}

// ItemUpdate carries the terminal outcome written back to an item.
type ItemUpdate struct {
	Status             ItemStatus
	CatalogGameID      *string
	CompletionRecordID *string
	ErrorText          *string
}

// UpdateItem commits an item's terminal status. Items are written exactly
// once: an already-terminal item is left untouched and the call fails.
func (s *ItemStore) UpdateItem(ctx context.Context, itemID string, update ItemUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_items
		 SET status = $2, catalog_game_id = $3, completion_record_id = $4, error_text = $5
		 WHERE item_id = $1 AND status = $6`,
		itemID, update.Status, update.CatalogGameID, update.CompletionRecordID, update.ErrorText,
		ItemPending,
	)
	if err != nil {
		return fmt.Errorf("update item %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update item %s: item is not pending", itemID)
	}
	return nil
}

// CountByStatus returns per-status item counts for the session.
func (s *ItemStore) CountByStatus(ctx context.Context, importID string) (map[ItemStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM import_items WHERE import_id = $1 GROUP BY status`,
		importID,
	)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[ItemStatus]int)
	for rows.Next() {
		var status ItemStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count by status: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	return counts, nil
}

func scanItem(row pgx.Row) (*Item, error) {
	var item Item
	err := row.Scan(
		&item.ID, &item.ImportID, &item.RowIndex, &item.GameTitle, &item.PlatformName,
		&item.RegionName, &item.SourceType, &item.TimeText, &item.CompletedAt,
		&item.CompletionType, &item.PlaytimeHours, &item.Status,
		&item.CatalogGameID, &item.CompletionRecordID, &item.ErrorText,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
