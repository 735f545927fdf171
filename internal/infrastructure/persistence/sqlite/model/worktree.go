package model

// Worktree is the persisted row backing ports.WorktreeStore: one isolated
// working copy per ticket.
type Worktree struct {
	TicketID  int64  `gorm:"column:ticket_id;primaryKey"`
	Path      string `gorm:"column:path;type:text;not null"`
	Branch    string `gorm:"column:branch;type:text;not null"`
	CreatedAt string `gorm:"column:created_at;type:text;not null"`
}

func (Worktree) TableName() string {
	return "worktrees"
}
