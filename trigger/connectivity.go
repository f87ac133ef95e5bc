package trigger

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-resty/resty/v2"
)

// Prober checks whether the server can be reached
type Prober interface {
	/*
		Probe check reachability

			@param ctx context.Context - execution context
			@returns nil if reachable
	*/
	Probe(ctx context.Context) error
}

// httpProber implements Prober with a HEAD request against the server
type httpProber struct {
	client *resty.Client
}

/*
NewHTTPProber define a prober issuing HEAD requests against the server base URL

Any HTTP response counts as reachable.

	@param baseURL string - server base URL
	@param timeout time.Duration - probe timeout
	@param transport http.RoundTripper - optional HTTP transport
	@returns the prober
*/
func NewHTTPProber(baseURL string, timeout time.Duration, transport http.RoundTripper) Prober {
	client := resty.New().SetBaseURL(baseURL).SetTimeout(timeout)
	if transport != nil {
		client.SetTransport(transport)
	}
	return &httpProber{client: client}
}

func (p *httpProber) Probe(ctx context.Context) error {
	if _, err := p.client.R().SetContext(ctx).Head("/"); err != nil {
		return fmt.Errorf("%w [%w]", ErrOffline, err)
	}
	return nil
}

// ConnectivityListener receives connectivity transitions
type ConnectivityListener func(ctx context.Context, online bool)

// ConnectivityMonitor polls a Prober and reports connectivity transitions
type ConnectivityMonitor struct {
	goutils.Component

	prober   Prober
	interval time.Duration
	listener ConnectivityListener

	lock  sync.Mutex
	known *bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

/*
NewConnectivityMonitor define a connectivity monitor

	@param prober Prober - reachability check
	@param interval time.Duration - polling interval
	@param listener ConnectivityListener - called on every transition, and on the first probe
	@returns the monitor
*/
func NewConnectivityMonitor(
	prober Prober, interval time.Duration, listener ConnectivityListener,
) *ConnectivityMonitor {
	logTags := log.Fields{"module": "trigger", "component": "connectivity-monitor"}
	return &ConnectivityMonitor{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		prober:   prober,
		interval: interval,
		listener: listener,
	}
}

/*
CheckNow probe once, reporting a transition if one happened

	@param ctx context.Context - execution context
	@returns whether the server is reachable
*/
func (m *ConnectivityMonitor) CheckNow(ctx context.Context) bool {
	online := m.prober.Probe(ctx) == nil

	m.lock.Lock()
	changed := m.known == nil || *m.known != online
	m.known = &online
	m.lock.Unlock()

	if changed {
		log.WithFields(m.GetLogTagsForContext(ctx)).WithField("online", online).Info("Connectivity changed")
		m.listener(ctx, online)
	}
	return online
}

// Start begin polling
func (m *ConnectivityMonitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.CheckNow(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.CheckNow(runCtx)
			}
		}
	}()
}

// Stop end polling
func (m *ConnectivityMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
