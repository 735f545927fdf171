package model

// AgentFailover is the persisted current-model/failover-count row for one
// agent. HistoryJSON holds the ordered swap history as a JSON array; it is
// small and read as a whole, so it is kept denormalized rather than split
// into its own table.
type AgentFailover struct {
	Agent           string  `gorm:"column:agent;type:text;primaryKey"`
	CurrentProvider *string `gorm:"column:current_provider;type:text"`
	CurrentModel    *string `gorm:"column:current_model;type:text"`
	Count           int     `gorm:"column:count;not null;default:0"`
	HistoryJSON     string  `gorm:"column:history_json;type:text;not null;default:'[]'"`
	UpdatedAt       string  `gorm:"column:updated_at;type:text;not null"`
}

func (AgentFailover) TableName() string {
	return "agent_failover"
}
