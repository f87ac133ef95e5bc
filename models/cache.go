package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// CacheGenerationKindENUMType cache generation kind ENUM
type CacheGenerationKindENUMType string

const (
	// CacheGenerationKindShell the immutable generation holding the application shell
	CacheGenerationKindShell CacheGenerationKindENUMType = "SHELL"
	// CacheGenerationKindRuntime the mutable generation holding fetched resources
	CacheGenerationKindRuntime CacheGenerationKindENUMType = "RUNTIME"
)

// CacheGenerationStateENUMType cache generation lifecycle state ENUM
type CacheGenerationStateENUMType string

const (
	// CacheGenerationStatePending generation fully installed but not yet serving
	CacheGenerationStatePending CacheGenerationStateENUMType = "PENDING"
	// CacheGenerationStateActive generation is serving requests
	CacheGenerationStateActive CacheGenerationStateENUMType = "ACTIVE"
	// CacheGenerationStateSuperseded generation replaced by a newer version, pending deletion
	CacheGenerationStateSuperseded CacheGenerationStateENUMType = "SUPERSEDED"
)

// CacheGeneration a named, versioned bucket of cached responses
type CacheGeneration struct {
	// Name generation name
	Name string `json:"name" gorm:"column:name;primaryKey;unique" validate:"required"`

	// Version engine version which created the generation
	Version string `json:"version" gorm:"column:version;not null;index" validate:"required"`

	// Kind generation kind
	Kind CacheGenerationKindENUMType `json:"kind" gorm:"column:kind;not null" validate:"required,cache_generation_kind"`

	// State generation lifecycle state
	State CacheGenerationStateENUMType `json:"state" gorm:"column:state;not null;index" validate:"required,cache_generation_state"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateNextState verify can transition to new state
func (g *CacheGeneration) ValidateNextState(newState CacheGenerationStateENUMType) error {
	statesWithTransitions := map[CacheGenerationStateENUMType]map[CacheGenerationStateENUMType]bool{
		CacheGenerationStatePending: {
			CacheGenerationStatePending:    true,
			CacheGenerationStateActive:     true,
			CacheGenerationStateSuperseded: true,
		},
		CacheGenerationStateActive: {
			CacheGenerationStateActive:     true,
			CacheGenerationStateSuperseded: true,
		},
		CacheGenerationStateSuperseded: {
			CacheGenerationStateSuperseded: true,
		},
	}

	availableNextStates, ok := statesWithTransitions[g.State]
	if !ok {
		return fmt.Errorf("cache generation can't transition out of state '%s'", g.State)
	}

	if _, ok := availableNextStates[newState]; !ok {
		return fmt.Errorf("cache generation can't transition from '%s' to '%s'", g.State, newState)
	}

	return nil
}

// CacheEntry one response snapshot within a cache generation
type CacheEntry struct {
	// ID entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// GenerationName the owning generation
	GenerationName string `json:"generation" gorm:"column:generation_name;not null;uniqueIndex:ux_generation_request,priority:1" validate:"required"`

	// RequestKey normalized request identity, method plus absolute URL
	RequestKey string `json:"request_key" gorm:"column:request_key;not null;uniqueIndex:ux_generation_request,priority:2" validate:"required"`

	// StatusCode response status code
	StatusCode int `json:"status_code" gorm:"column:status_code;not null" validate:"gte=100,lte=599"`

	// Header response headers
	Header datatypes.JSON `json:"header,omitempty" gorm:"column:header;default:null"`

	// Body response body
	Body []byte `json:"body,omitempty" gorm:"column:body;default:null"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
