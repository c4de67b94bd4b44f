// Package stats derives per-user edit counts from the persisted edit audit
// log. Purely observational: it never feeds back into the edit pipeline.
package stats

import (
	"context"
	"errors"

	"github.com/hyperide/backend/internal/workspace"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("stats: database handle is required")

// Aggregator answers snapshot queries over the edit audit table.
type Aggregator struct {
	db *gorm.DB
}

// NewAggregator constructs the aggregator.
func NewAggregator(db *gorm.DB) (*Aggregator, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Aggregator{db: db}, nil
}

type countRow struct {
	UserName string
	Edits    int64
}

// Snapshot returns the current user→edit-count mapping, recomputed on
// demand with no caching.
func (a *Aggregator) Snapshot(ctx context.Context) (map[string]int64, error) {
	var rows []countRow
	err := a.db.WithContext(ctx).
		Model(&workspace.EditRecord{}).
		Select("user_name, COUNT(*) AS edits").
		Group("user_name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]int64, len(rows))
	for _, row := range rows {
		snapshot[row.UserName] = row.Edits
	}
	return snapshot, nil
}
