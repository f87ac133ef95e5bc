// Package main - Atlas GORM migration support binary
package main

import (
	"fmt"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"
	"github.com/alwitt/notesync/db"
	"github.com/apex/log"
)

func main() {
	// The client database is SQLite; the server may run on Postgres
	dialect := "sqlite"
	if len(os.Args) > 1 {
		dialect = os.Args[1]
	}

	stmts, err := gormschema.New(dialect).Load(
		&db.SyncEventAuditDBEntry{},
		&db.EngineParamsDBEntry{},
		&db.NoteDBEntry{},
		&db.RemoteNoteDBEntry{},
		&db.CacheGenerationDBEntry{},
		&db.CacheEntryDBEntry{},
		&db.DeferredTaskDBEntry{},
	)
	if err != nil {
		log.WithError(err).WithField("dialect", dialect).Fatal("Failed to load GORM models")
	}
	fmt.Printf("%s\n", stmts)
}
