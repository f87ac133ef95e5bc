package notesync_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alwitt/notesync"
	"github.com/alwitt/notesync/api"
	"github.com/alwitt/notesync/cache"
	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/push"
	"github.com/alwitt/notesync/syncer"
	"github.com/alwitt/notesync/trigger"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// switchableTransport a network which can be taken offline
type switchableTransport struct {
	offline atomic.Bool
	next    http.RoundTripper
}

func (t *switchableTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.offline.Load() {
		return nil, errors.New("network unreachable")
	}
	return t.next.RoundTrip(req)
}

func newTestDB(t *testing.T) db.Client {
	testDB := fmt.Sprintf("/tmp/notesync_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	persistence, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(t, err)
	assert.Nil(t, persistence.RunSQLInTransaction(context.Background(), db.DefineTables))
	return persistence
}

func TestOfflineNotesClientEndToEnd(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	// ------------------------------------------------------------------
	// Notes server with a small application shell
	// ------------------------------------------------------------------
	staticDir := t.TempDir()
	for name, content := range map[string]string{
		"index.html": "<html>notes</html>",
		"app.js":     "console.log('notes')",
	} {
		assert.Nil(os.WriteFile(filepath.Join(staticDir, name), []byte(content), 0o644))
	}
	serverDB := newTestDB(t)
	defer func() {
		assert.Nil(serverDB.Close())
	}()
	handler := api.NewNotesHandler(
		api.HandlerParams{MaxBodyBytes: 1 << 20, RequestIDHeader: "X-Request-ID"},
		serverDB,
		push.NewSubscriptionSet(),
		nil,
	)
	server := httptest.NewServer(api.BuildRouter(handler, staticDir))
	defer server.Close()

	// ------------------------------------------------------------------
	// Client
	// ------------------------------------------------------------------
	network := &switchableTransport{next: http.DefaultTransport}
	clientDB := fmt.Sprintf("/tmp/notesync_ut_%s.db", ulid.Make().String())
	uut, err := notesync.NewOfflineNotesClient(utCtx, notesync.ClientParams{
		DBDialector:    db.GetSqliteDialector(clientDB),
		DBLogLevel:     logger.Error,
		ServerURL:      server.URL,
		RequestTimeout: time.Second * 5,
		Cache: cache.ManagerParams{
			Version:            "v1",
			NamePrefix:         "ut",
			ShellManifest:      []string{"/", "/index.html", "/app.js"},
			InstallConcurrency: 2,
		},
		InstallShell: true,
		Coordinator:  syncer.CoordinatorParams{LeaseTTL: time.Minute},
		Scheduler: trigger.SchedulerParams{
			DeferredRetryAttempts: 2, DeferredRetryDelay: time.Millisecond * 10,
		},
		Network: network,
	})
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Close())
	}()
	assert.True(uut.Online())
	assert.Equal("v1", uut.Cache().ServingVersion())

	countServerNotes := func() int {
		count := 0
		assert.Nil(serverDB.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
			notes, err := dbClient.ListRemoteNotes(ctx, db.CommonListEntryQueryFilter{})
			count = len(notes)
			return err
		}))
		return count
	}

	// Case 0: empty note
	{
		_, _, err := uut.SaveNote(utCtx, "   ", nil)
		assert.ErrorIs(err, notesync.ErrEmptyNote)
	}

	// Case 1: saved and synced while online
	{
		note, message, err := uut.SaveNote(utCtx, "buy milk", nil)
		assert.Nil(err)
		assert.Equal("Saved. Synced 1 note.", message)
		assert.True(note.Synced)
		stored, err := uut.ListNotes(utCtx)
		assert.Nil(err)
		assert.Len(stored, 1)
		assert.Equal(note.ID, stored[0].ID)
		assert.True(stored[0].Synced)
		assert.Equal(1, countServerNotes())
	}

	// Case 2: offline
	network.offline.Store(true)
	uut.Scheduler().ConnectivityChanged(utCtx, false)
	{
		note, message, err := uut.SaveNote(utCtx, "call bob", []byte("not really an image"))
		assert.Nil(err)
		assert.Equal("Saved. Automatic sync will run once online.", message)
		assert.False(note.Synced)
		pending, err := uut.PendingCount(utCtx)
		assert.Nil(err)
		assert.Equal(int64(1), pending)

		_, message = uut.SyncNow(utCtx)
		assert.Equal("You are offline. Sync will run once back online.", message)

		// The shell still loads
		req, err := http.NewRequest(http.MethodGet, server.URL+"/", nil)
		assert.Nil(err)
		resp, err := (&http.Client{Transport: uut.Cache()}).Do(cache.MarkNavigation(req))
		assert.Nil(err)
		body, err := io.ReadAll(resp.Body)
		assert.Nil(err)
		_ = resp.Body.Close()
		assert.Equal("<html>notes</html>", string(body))
	}

	// Case 3: connectivity restored, the deferred sync runs
	network.offline.Store(false)
	uut.Scheduler().ConnectivityChanged(utCtx, true)
	uut.Scheduler().WaitIdle()
	{
		pending, err := uut.PendingCount(utCtx)
		assert.Nil(err)
		assert.Equal(int64(0), pending)
		assert.Equal(2, countServerNotes())

		outcome, message := uut.SyncNow(utCtx)
		assert.Equal(syncer.OutcomeNoop, outcome.Status)
		assert.Equal("No unsynced notes.", message)
	}
}

func TestOfflineNotesClientLeaseOutlivesRequest(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	params := notesync.ClientParams{
		DBDialector: db.GetSqliteDialector(
			fmt.Sprintf("/tmp/notesync_ut_%s.db", ulid.Make().String()),
		),
		DBLogLevel:     logger.Error,
		ServerURL:      "http://127.0.0.1:1",
		RequestTimeout: time.Second * 15,
		Cache:          cache.ManagerParams{Version: "v1", NamePrefix: "ut"},
		Scheduler:      trigger.SchedulerParams{DeferredRetryAttempts: 1},
	}

	// Case 0: lease shorter than a request
	params.Coordinator = syncer.CoordinatorParams{LeaseTTL: time.Second * 10}
	_, err := notesync.NewOfflineNotesClient(utCtx, params)
	assert.NotNil(err)

	// Case 1: lease equal to a request
	params.Coordinator = syncer.CoordinatorParams{LeaseTTL: time.Second * 15}
	_, err = notesync.NewOfflineNotesClient(utCtx, params)
	assert.NotNil(err)
}
