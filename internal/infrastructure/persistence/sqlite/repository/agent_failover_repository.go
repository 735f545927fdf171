package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"orchestrix/internal/infrastructure/persistence/sqlite/model"
	"orchestrix/internal/ports"
)

// AgentFailoverRepository persists ports.FailoverState rows.
type AgentFailoverRepository struct {
	db *gorm.DB
}

func NewAgentFailoverRepository(db *gorm.DB) *AgentFailoverRepository {
	return &AgentFailoverRepository{db: db}
}

func (r *AgentFailoverRepository) Get(ctx context.Context, agent string) (ports.FailoverState, error) {
	var row model.AgentFailover
	err := r.db.WithContext(ctx).Where("agent = ?", agent).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ports.FailoverState{Agent: agent}, nil
	}
	if err != nil {
		return ports.FailoverState{}, fmt.Errorf("get agent failover state for %q: %w", agent, err)
	}
	return toPortFailoverState(row)
}

func (r *AgentFailoverRepository) Save(ctx context.Context, state ports.FailoverState) error {
	row, err := toModelFailover(state)
	if err != nil {
		return fmt.Errorf("marshal agent failover state for %q: %w", state.Agent, err)
	}
	row.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save agent failover state for %q: %w", state.Agent, err)
	}
	return nil
}

func toPortFailoverState(row model.AgentFailover) (ports.FailoverState, error) {
	state := ports.FailoverState{Agent: row.Agent, Count: row.Count}
	if row.CurrentProvider != nil && row.CurrentModel != nil {
		state.Current = &ports.ModelRef{ProviderID: *row.CurrentProvider, ModelID: *row.CurrentModel}
	}
	if row.HistoryJSON != "" {
		if err := json.Unmarshal([]byte(row.HistoryJSON), &state.History); err != nil {
			return ports.FailoverState{}, fmt.Errorf("unmarshal failover history: %w", err)
		}
	}
	return state, nil
}

func toModelFailover(state ports.FailoverState) (model.AgentFailover, error) {
	history, err := json.Marshal(state.History)
	if err != nil {
		return model.AgentFailover{}, err
	}

	row := model.AgentFailover{
		Agent:       state.Agent,
		Count:       state.Count,
		HistoryJSON: string(history),
	}
	if state.Current != nil {
		provider, modelID := state.Current.ProviderID, state.Current.ModelID
		row.CurrentProvider = &provider
		row.CurrentModel = &modelID
	}
	return row, nil
}
