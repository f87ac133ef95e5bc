// Package syncer - reconciliation of local unsynced notes with the server
package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkUnreachable the reconciliation call failed before a response arrived
	ErrNetworkUnreachable = errors.New("network unreachable")
	// ErrServerRejected the reconciliation endpoint did not accept the batch
	ErrServerRejected = errors.New("server rejected batch")
)

// OutcomeStatus sync attempt result category
type OutcomeStatus string

const (
	// OutcomeNoop there was nothing to sync
	OutcomeNoop OutcomeStatus = "NOOP"
	// OutcomeSynced the batch was accepted and marked synced
	OutcomeSynced OutcomeStatus = "SYNCED"
	// OutcomeNetworkFailure the server could not be reached
	OutcomeNetworkFailure OutcomeStatus = "NETWORK_FAILURE"
	// OutcomeServerRejected the server responded but did not accept the batch
	OutcomeServerRejected OutcomeStatus = "SERVER_REJECTED"
	// OutcomeStorageFailure the local store could not be used
	OutcomeStorageFailure OutcomeStatus = "STORAGE_FAILURE"
	// OutcomeCoalesced another attempt was already in flight
	OutcomeCoalesced OutcomeStatus = "COALESCED"
)

// Outcome classified result of one sync request
type Outcome struct {
	// Status result category
	Status OutcomeStatus
	// NoteIDs the notes in the submitted batch
	NoteIDs []string
	// Err the underlying failure, if any
	Err error
}

// Retryable whether a later trigger may succeed without user action
func (o Outcome) Retryable() bool {
	return o.Status == OutcomeNetworkFailure || o.Status == OutcomeServerRejected
}

// StatusMessage user facing description of the outcome
func (o Outcome) StatusMessage() string {
	switch o.Status {
	case OutcomeNoop:
		return "No unsynced notes."
	case OutcomeSynced:
		if len(o.NoteIDs) == 1 {
			return "Synced 1 note."
		}
		return fmt.Sprintf("Synced %d notes.", len(o.NoteIDs))
	case OutcomeNetworkFailure:
		return "Sync failed (network). It will run again once back online."
	case OutcomeServerRejected:
		return "Sync failed (server error)."
	case OutcomeStorageFailure:
		return "Sync failed (local storage unavailable)."
	case OutcomeCoalesced:
		return "Sync already in progress."
	}
	return string(o.Status)
}

// merge fold the outcome of a queued rerun into this one
func (o Outcome) merge(next Outcome) Outcome {
	switch {
	case next.Status == OutcomeNoop || next.Status == OutcomeCoalesced:
		return o
	case o.Status == OutcomeSynced && next.Status == OutcomeSynced:
		return Outcome{Status: OutcomeSynced, NoteIDs: append(append([]string{}, o.NoteIDs...), next.NoteIDs...)}
	}
	return next
}
