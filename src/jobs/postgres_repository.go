package jobs

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresArchive mirrors job records into a jobs table. The in-memory
// store stays authoritative; this exists so operators can inspect runs
// after the fact.
type PostgresArchive struct {
	db *gorm.DB
}

func NewPostgresArchive(db *gorm.DB) (*PostgresArchive, error) {
	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (r *PostgresArchive) Save(ctx context.Context, job *Job) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(job)
	return result.Error
}

// ListByOwner returns archived records for an owner, newest first.
func (r *PostgresArchive) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Job, error) {
	var records []Job
	result := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}
