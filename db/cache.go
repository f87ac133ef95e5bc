package db

import (
	"context"
	"fmt"

	"github.com/alwitt/notesync/models"
	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

// ======================================================================================
// Cache generations

/*
DefineCacheGeneration define a new cache generation

	@param ctx context.Context - execution context
	@param name string - generation name
	@param version string - cache engine version
	@param kind models.CacheGenerationKindENUMType - generation kind
	@returns the generation entry, in PENDING state
*/
func (d *databaseImpl) DefineCacheGeneration(
	_ context.Context, name string, version string, kind models.CacheGenerationKindENUMType,
) (models.CacheGeneration, error) {
	newEntry := CacheGenerationDBEntry{
		CacheGeneration: models.CacheGeneration{
			Name:    name,
			Version: version,
			Kind:    kind,
			State:   models.CacheGenerationStatePending,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.CacheGeneration{}, fmt.Errorf(
			"new cache generation '%s' is not valid [%w]", name, invalidEntry(err),
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.CacheGeneration{}, fmt.Errorf(
			"new cache generation '%s' failed insert [%w]", name, classifyError(tmp.Error),
		)
	}

	return newEntry.CacheGeneration, nil
}

// getCacheGenerationEntry find a cache generation by name
func (d *databaseImpl) getCacheGenerationEntry(name string) (CacheGenerationDBEntry, error) {
	var entry CacheGenerationDBEntry
	err := d.db.Where("name = ?", name).First(&entry).Error
	return entry, classifyError(err)
}

/*
GetCacheGeneration fetch a cache generation by name

	@param ctx context.Context - execution context
	@param name string - generation name
	@returns the generation entry
*/
func (d *databaseImpl) GetCacheGeneration(
	_ context.Context, name string,
) (models.CacheGeneration, error) {
	entry, err := d.getCacheGenerationEntry(name)
	if err != nil {
		return models.CacheGeneration{}, fmt.Errorf("failed to fetch cache generation '%s' [%w]", name, err)
	}
	return entry.CacheGeneration, nil
}

/*
ListCacheGenerations list cache generations

	@param ctx context.Context - execution context
	@param filters CacheGenerationQueryFilter - entry listing filter
	@return list of generations
*/
func (d *databaseImpl) ListCacheGenerations(
	_ context.Context, filters CacheGenerationQueryFilter,
) ([]models.CacheGeneration, error) {
	query := d.db.Model(&CacheGenerationDBEntry{})

	if len(filters.TargetStates) > 0 {
		query = query.Where("state in ?", filters.TargetStates)
	}

	if filters.TargetVersion != nil {
		query = query.Where("version = ?", *filters.TargetVersion)
	}

	if len(filters.ExcludeNames) > 0 {
		query = query.Where("name not in ?", filters.ExcludeNames)
	}

	query = applyListFilter(query, filters.CommonListEntryQueryFilter)

	// Shell before runtime, then oldest first
	query = query.Order("kind desc").Order("created_at")

	var entries []CacheGenerationDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list cache generations [%w]", classifyError(tmp.Error))
	}

	result := []models.CacheGeneration{}
	for _, entry := range entries {
		result = append(result, entry.CacheGeneration)
	}

	return result, nil
}

/*
UpdateCacheGenerationState move a cache generation to a new state

	@param ctx context.Context - execution context
	@param name string - generation name
	@param newState models.CacheGenerationStateENUMType - new state
*/
func (d *databaseImpl) UpdateCacheGenerationState(
	_ context.Context, name string, newState models.CacheGenerationStateENUMType,
) error {
	entry, err := d.getCacheGenerationEntry(name)
	if err != nil {
		return fmt.Errorf("failed to fetch cache generation '%s' [%w]", name, err)
	}

	if entry.State == newState {
		// NOOP
		return nil
	}

	if err := entry.ValidateNextState(newState); err != nil {
		return fmt.Errorf("cache generation '%s' state change not allowed [%w]", name, err)
	}

	if tmp := d.db.Model(&CacheGenerationDBEntry{}).
		Where("name = ?", name).
		Update("state", newState); tmp.Error != nil {
		return fmt.Errorf(
			"cache generation '%s' state change failed [%w]", name, classifyError(tmp.Error),
		)
	}

	return nil
}

/*
DeleteCacheGeneration delete a cache generation and all its entries

	@param ctx context.Context - execution context
	@param name string - generation name
*/
func (d *databaseImpl) DeleteCacheGeneration(_ context.Context, name string) error {
	entry, err := d.getCacheGenerationEntry(name)
	if err != nil {
		return fmt.Errorf("failed to fetch cache generation '%s' [%w]", name, err)
	}

	if tmp := d.db.Where("generation_name = ?", name).Delete(&CacheEntryDBEntry{}); tmp.Error != nil {
		return fmt.Errorf(
			"failed to delete entries of cache generation '%s' [%w]", name, classifyError(tmp.Error),
		)
	}

	if tmp := d.db.Delete(&entry); tmp.Error != nil {
		return fmt.Errorf(
			"failed to delete cache generation '%s' [%w]", name, classifyError(tmp.Error),
		)
	}

	return nil
}

// ======================================================================================
// Cache entries

/*
PutCacheEntry write a response snapshot, replacing any snapshot for the same
request key in the same generation

	@param ctx context.Context - execution context
	@param generation string - generation name
	@param requestKey string - normalized request key
	@param statusCode int - response status code
	@param header datatypes.JSON - response headers
	@param body []byte - response body
*/
func (d *databaseImpl) PutCacheEntry(
	_ context.Context,
	generation string,
	requestKey string,
	statusCode int,
	header datatypes.JSON,
	body []byte,
) error {
	newEntry := CacheEntryDBEntry{
		CacheEntry: models.CacheEntry{
			ID:             ulid.Make().String(),
			GenerationName: generation,
			RequestKey:     requestKey,
			StatusCode:     statusCode,
			Header:         header,
			Body:           body,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return fmt.Errorf(
			"cache entry '%s' of '%s' is not valid [%w]", requestKey, generation, invalidEntry(err),
		)
	}

	tmp := d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "generation_name"}, {Name: "request_key"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"status_code", "header", "body", "updated_at"},
		),
	}).Omit("Generation").Create(&newEntry)
	if tmp.Error != nil {
		return fmt.Errorf(
			"failed to write cache entry '%s' of '%s' [%w]",
			requestKey,
			generation,
			classifyError(tmp.Error),
		)
	}

	return nil
}

/*
GetCacheEntry fetch the response snapshot of a request in a generation

	@param ctx context.Context - execution context
	@param generation string - generation name
	@param requestKey string - normalized request key
	@returns the snapshot
*/
func (d *databaseImpl) GetCacheEntry(
	_ context.Context, generation string, requestKey string,
) (models.CacheEntry, error) {
	var entry CacheEntryDBEntry
	if tmp := d.db.
		Where("generation_name = ? AND request_key = ?", generation, requestKey).
		First(&entry); tmp.Error != nil {
		return models.CacheEntry{}, fmt.Errorf(
			"failed to fetch cache entry '%s' of '%s' [%w]",
			requestKey,
			generation,
			classifyError(tmp.Error),
		)
	}
	return entry.CacheEntry, nil
}

/*
ListCacheEntries list the response snapshots of a generation

	@param ctx context.Context - execution context
	@param generation string - generation name
	@returns the snapshots
*/
func (d *databaseImpl) ListCacheEntries(
	_ context.Context, generation string,
) ([]models.CacheEntry, error) {
	var entries []CacheEntryDBEntry
	if tmp := d.db.
		Where("generation_name = ?", generation).
		Order("request_key").
		Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf(
			"failed to list entries of cache generation '%s' [%w]", generation, classifyError(tmp.Error),
		)
	}

	result := []models.CacheEntry{}
	for _, entry := range entries {
		result = append(result, entry.CacheEntry)
	}

	return result, nil
}
