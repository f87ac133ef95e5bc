package models

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

/*
RegisterWithValidator register with the validator this custom validation support

	@param v *validator.Validate - the validator to register against
	@return whether successful
*/
func RegisterWithValidator(v *validator.Validate) error {
	if err := v.RegisterValidation(
		"note_text", validateNoteText,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"cache_generation_kind", validateCacheGenerationKind,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"cache_generation_state", validateCacheGenerationState,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"sync_state", validateSyncStateType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"sync_event_type", validateSyncEventType,
	); err != nil {
		return err
	}

	return nil
}

func validateNoteText(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return strings.TrimSpace(fl.Field().String()) != ""
}

func validateCacheGenerationKind(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch CacheGenerationKindENUMType(fl.Field().String()) {
	case CacheGenerationKindShell:
		fallthrough
	case CacheGenerationKindRuntime:
		return true
	}
	return false
}

func validateCacheGenerationState(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch CacheGenerationStateENUMType(fl.Field().String()) {
	case CacheGenerationStatePending:
		fallthrough
	case CacheGenerationStateActive:
		fallthrough
	case CacheGenerationStateSuperseded:
		return true
	}
	return false
}

func validateSyncStateType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch SyncStateENUMType(fl.Field().String()) {
	case SyncStateIdle:
		fallthrough
	case SyncStateSyncing:
		return true
	}
	return false
}

func validateSyncEventType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch SyncEventTypeENUMType(fl.Field().String()) {
	case SyncEventTypeNoteCreated:
		fallthrough
	case SyncEventTypeSyncSucceeded:
		fallthrough
	case SyncEventTypeSyncNetworkFailure:
		fallthrough
	case SyncEventTypeSyncServerRejected:
		fallthrough
	case SyncEventTypeCacheInstalled:
		fallthrough
	case SyncEventTypeCacheActivated:
		fallthrough
	case SyncEventTypeDeferredRegistered:
		fallthrough
	case SyncEventTypeDeferredCompleted:
		return true
	}
	return false
}
