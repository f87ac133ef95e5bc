package push_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alwitt/notesync/push"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

// Client keys of a browser subscription
const (
	testP256dh = "BNNL5ZaTfK81qhXOx23-wewhigUeFb632jN6LvRWCFH1ubQr77FE_9qV1FuojuRmHP42zmf34rXgW80OvUVDgTk"
	testAuth   = "zqbxT6JKstKSY9JKibZLSQ"
)

func subscriptionJSON(endpoint string) []byte {
	return []byte(fmt.Sprintf(
		`{"endpoint":"%s","expirationTime":null,"keys":{"p256dh":"%s","auth":"%s"}}`,
		endpoint, testP256dh, testAuth,
	))
}

func TestSubscriptionSet(t *testing.T) {
	assert := assert.New(t)

	uut := push.NewSubscriptionSet()
	assert.Equal(0, uut.Len())

	// Case 0: add
	first, added, err := uut.Add(subscriptionJSON("https://push.example.com/a"))
	assert.Nil(err)
	assert.True(added)
	assert.Equal("https://push.example.com/a", first.Endpoint)
	assert.Equal(testAuth, first.Keys.Auth)

	// Case 1: same descriptor with different field order is a duplicate
	_, added, err = uut.Add([]byte(fmt.Sprintf(
		`{"keys":{"auth":"%s","p256dh":"%s"},"expirationTime":null,"endpoint":"https://push.example.com/a"}`,
		testAuth, testP256dh,
	)))
	assert.Nil(err)
	assert.False(added)
	assert.Equal(1, uut.Len())

	// Case 2: missing endpoint
	_, _, err = uut.Add([]byte(`{"keys":{"auth":"x"}}`))
	assert.ErrorIs(err, push.ErrBadSubscription)
	_, _, err = uut.Add([]byte(`not json`))
	assert.ErrorIs(err, push.ErrBadSubscription)

	// Case 3: remove
	second, _, err := uut.Add(subscriptionJSON("https://push.example.com/b"))
	assert.Nil(err)
	assert.Equal(1, uut.Remove(first.Key, "unknown"))
	listed := uut.List()
	assert.Len(listed, 1)
	assert.Equal(second.Key, listed[0].Key)
}

func TestFanOutPrunesGone(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	// Push service: the second endpoint is gone, the fourth is failing
	var lock sync.Mutex
	hits := map[string]int{}
	pushService := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lock.Lock()
		hits[r.URL.Path]++
		lock.Unlock()
		assert.Equal("aes128gcm", r.Header.Get("Content-Encoding"))
		assert.Contains(r.Header.Get("Authorization"), "vapid t=")
		switch r.URL.Path {
		case "/sub-2":
			w.WriteHeader(http.StatusGone)
		case "/sub-4":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer pushService.Close()

	privateKey, publicKey, err := push.GenerateVAPIDKeys()
	assert.Nil(err)

	sender, err := push.NewWebPushSender(push.WebPushParams{
		VAPIDPublicKey:  publicKey,
		VAPIDPrivateKey: privateKey,
		Subscriber:      "notes@example.com",
		TTL:             60,
	})
	assert.Nil(err)

	subscriptions := push.NewSubscriptionSet()
	for itr := 1; itr <= 3; itr++ {
		_, added, err := subscriptions.Add(subscriptionJSON(fmt.Sprintf("%s/sub-%d", pushService.URL, itr)))
		assert.Nil(err)
		assert.True(added)
	}

	uut, err := push.NewFanOut(push.FanOutParams{Concurrency: 4}, subscriptions, sender)
	assert.Nil(err)

	// Case 0: second reports gone
	report := uut.Broadcast(utCtx, push.SyncedNotification("Notes", 2))
	assert.Equal(3, report.Attempted)
	assert.Equal(2, report.Delivered)
	assert.Len(report.Pruned, 1)

	remaining := subscriptions.List()
	assert.Len(remaining, 2)
	assert.Equal(pushService.URL+"/sub-1", remaining[0].Endpoint)
	assert.Equal(pushService.URL+"/sub-3", remaining[1].Endpoint)

	// Case 1: other failures do not prune
	_, _, err = subscriptions.Add(subscriptionJSON(pushService.URL + "/sub-4"))
	assert.Nil(err)
	report = uut.Broadcast(utCtx, push.SyncedNotification("Notes", 1))
	assert.Equal(3, report.Attempted)
	assert.Equal(2, report.Delivered)
	assert.Equal(1, report.Failed)
	assert.Empty(report.Pruned)
	assert.Equal(3, subscriptions.Len())

	lock.Lock()
	assert.Equal(1, hits["/sub-2"])
	assert.Equal(2, hits["/sub-1"])
	lock.Unlock()

	// Case 2: empty set
	empty, err := push.NewFanOut(push.FanOutParams{Concurrency: 1}, push.NewSubscriptionSet(), sender)
	assert.Nil(err)
	report = empty.Broadcast(utCtx, push.SyncedNotification("Notes", 1))
	assert.Equal(0, report.Attempted)
	assert.Empty(report.Pruned)
}

func TestSyncedNotification(t *testing.T) {
	assert := assert.New(t)

	// Case 0: one note
	notification := push.SyncedNotification("Notes", 1)
	assert.Equal("Notes", notification.Title)
	assert.Equal("Synced 1 note", notification.Body)

	// Case 1: several notes
	assert.Equal("Synced 3 notes", push.SyncedNotification("Notes", 3).Body)
}
