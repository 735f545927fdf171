package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"orchestrix/internal/infrastructure/persistence/sqlite/model"
	"orchestrix/internal/ports"
)

// WorktreeRepository persists ports.WorktreeRecord rows.
type WorktreeRepository struct {
	db *gorm.DB
}

func NewWorktreeRepository(db *gorm.DB) *WorktreeRepository {
	return &WorktreeRepository{db: db}
}

func (r *WorktreeRepository) Get(ctx context.Context, ticketID int64) (ports.WorktreeRecord, bool, error) {
	var row model.Worktree
	err := r.db.WithContext(ctx).Where("ticket_id = ?", ticketID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ports.WorktreeRecord{}, false, nil
	}
	if err != nil {
		return ports.WorktreeRecord{}, false, fmt.Errorf("get worktree record for ticket %d: %w", ticketID, err)
	}
	return ports.WorktreeRecord{
		TicketID:  row.TicketID,
		Path:      row.Path,
		Branch:    row.Branch,
		CreatedAt: row.CreatedAt,
	}, true, nil
}

func (r *WorktreeRepository) Save(ctx context.Context, record ports.WorktreeRecord) error {
	row := model.Worktree{
		TicketID:  record.TicketID,
		Path:      record.Path,
		Branch:    record.Branch,
		CreatedAt: record.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save worktree record for ticket %d: %w", record.TicketID, err)
	}
	return nil
}

func (r *WorktreeRepository) Delete(ctx context.Context, ticketID int64) error {
	if err := r.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Delete(&model.Worktree{}).Error; err != nil {
		return fmt.Errorf("delete worktree record for ticket %d: %w", ticketID, err)
	}
	return nil
}
