package models

import (
	"fmt"
	"time"
)

// SyncStateENUMType sync lease state ENUM
type SyncStateENUMType string

const (
	// SyncStateIdle no sync attempt in flight
	SyncStateIdle SyncStateENUMType = "IDLE"
	// SyncStateSyncing a sync attempt holds the lease
	SyncStateSyncing SyncStateENUMType = "SYNCING"
)

// EngineParams engine operating parameters shared by every context using the same store
type EngineParams struct {
	// ID param entry ID. It must always be engine-parameters
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,oneof=engine-parameters"`

	// ActiveCacheVersion the cache engine version currently serving requests
	ActiveCacheVersion string `json:"active_cache_version" gorm:"column:active_cache_version"`

	// SyncState sync lease state
	SyncState SyncStateENUMType `json:"sync_state" gorm:"column:sync_state;not null" validate:"required,sync_state"`

	// SyncLeaseOwner the holder of the sync lease
	SyncLeaseOwner string `json:"sync_lease_owner" gorm:"column:sync_lease_owner"`

	// SyncLeaseExpiry when the sync lease lapses if never released
	SyncLeaseExpiry *time.Time `json:"sync_lease_expiry,omitempty" gorm:"column:sync_lease_expiry;default:null"`

	// LastSyncAt completion time of the last successful sync
	LastSyncAt *time.Time `json:"last_sync_at,omitempty" gorm:"column:last_sync_at;default:null"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateNextSyncState verify can transition to new sync state
func (p *EngineParams) ValidateNextSyncState(newState SyncStateENUMType) error {
	statesWithTransitions := map[SyncStateENUMType]map[SyncStateENUMType]bool{
		SyncStateIdle: {
			SyncStateIdle:    true,
			SyncStateSyncing: true,
		},
		SyncStateSyncing: {
			SyncStateIdle: true,
		},
	}

	availableNextStates, ok := statesWithTransitions[p.SyncState]
	if !ok {
		return fmt.Errorf("sync lease can't transition out of state '%s'", p.SyncState)
	}

	if _, ok := availableNextStates[newState]; !ok {
		return fmt.Errorf("sync lease can't transition from '%s' to '%s'", p.SyncState, newState)
	}

	return nil
}

// SyncLeaseHeld whether the sync lease is held at the given time
func (p *EngineParams) SyncLeaseHeld(now time.Time) bool {
	if p.SyncState != SyncStateSyncing {
		return false
	}
	return p.SyncLeaseExpiry != nil && now.Before(*p.SyncLeaseExpiry)
}

// DeferredTask a durable one-shot task waiting for connectivity to be restored
type DeferredTask struct {
	// Tag task tag
	Tag string `json:"tag" gorm:"column:tag;primaryKey;unique" validate:"required"`

	// Generation bumped on every registration of a pending tag. A run completes the task
	// only if no registration happened since the run listed it.
	Generation int64 `json:"generation" gorm:"column:generation;not null;default:1"`

	// Attempts number of executions which did not complete the task
	Attempts int `json:"attempts" gorm:"column:attempts;not null;default:0"`

	// LastError the error of the most recent failed execution
	LastError string `json:"last_error,omitempty" gorm:"column:last_error"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
