package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/alwitt/notesync/db"
	"github.com/alwitt/notesync/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrInstallIncomplete the shell generation could not be fully populated
	ErrInstallIncomplete = errors.New("cache install incomplete")
	// ErrNotInstalled the cache version has not been installed
	ErrNotInstalled = errors.New("cache version not installed")
	// ErrNoCachedResponse no generation holds a response for the request
	ErrNoCachedResponse = errors.New("no cached response")
)

// DefaultShellManifest the core application files pre-populated into the shell generation
var DefaultShellManifest = []string{
	"/",
	"/index.html",
	"/styles.css",
	"/app.js",
	"/idb.js",
	"/manifest.webmanifest",
	"/icons/icon-192.png",
	"/icons/icon-512.png",
}

// DefaultRootDocument the shell document served when a navigation has nothing better
const DefaultRootDocument = "/index.html"

// ManagerParams cache tier manager parameters
type ManagerParams struct {
	// Origin the application origin, e.g. https://notes.example.com
	Origin string `validate:"required,url"`
	// Version cache engine version
	Version string `validate:"required"`
	// NamePrefix prefix of the generation names
	NamePrefix string `validate:"required"`
	// ShellManifest files populated into the shell generation at install
	ShellManifest []string `validate:"required,min=1,dive,startswith=/"`
	// RootDocument last resort document for navigations
	RootDocument string `validate:"required,startswith=/"`
	// InstallConcurrency max parallel fetches during install
	InstallConcurrency int `validate:"gte=1"`
}

// Manager the cache tier manager. It intercepts outgoing requests and applies the
// fetch strategy of the request class.
type Manager interface {
	http.RoundTripper

	/*
		Fetch process one outgoing request

			@param ctx context.Context - execution context
			@param req *http.Request - the request
			@returns the response
	*/
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)

	/*
		Load pick up the generations already activated in the store

			@param ctx context.Context - execution context
	*/
	Load(ctx context.Context) error

	/*
		Install populate the shell generation of this version from the manifest

		Either every manifest file is stored, or nothing is. The serving generations are
		not changed.

			@param ctx context.Context - execution context
	*/
	Install(ctx context.Context) error

	/*
		Activate switch serving to the generations of this version and delete every
		other generation

			@param ctx context.Context - execution context
	*/
	Activate(ctx context.Context) error

	/*
		Upgrade install then activate this version, unless it is already serving

			@param ctx context.Context - execution context
	*/
	Upgrade(ctx context.Context) error

	/*
		Generations list every known cache generation

			@param ctx context.Context - execution context
			@returns the generations
	*/
	Generations(ctx context.Context) ([]models.CacheGeneration, error)

	// ServingVersion the cache version currently serving; empty when none
	ServingVersion() string

	// ShellGenerationName name of this version's shell generation
	ShellGenerationName() string

	// RuntimeGenerationName name of this version's runtime generation
	RuntimeGenerationName() string

	// WaitIdle block until all background revalidations finish
	WaitIdle()

	// Close stop starting background revalidations, and wait for the running ones
	Close()
}

// servingGenerations the generations requests are served from
type servingGenerations struct {
	version string
	shell   string
	runtime string
}

// managerImpl implements Manager
type managerImpl struct {
	goutils.Component

	params      ManagerParams
	origin      *url.URL
	persistence db.Client
	network     http.RoundTripper

	lock    sync.RWMutex
	serving *servingGenerations

	// revalidateLock guards closed against revalidations.Add
	revalidateLock sync.Mutex
	closed         bool
	revalidations  sync.WaitGroup
}

/*
NewManager define a new cache tier manager

No generation serves until Load or Activate finds one.

	@param params ManagerParams - manager parameters
	@param persistence db.Client - persistence layer client
	@param network http.RoundTripper - the network transport; http.DefaultTransport if nil
	@returns new manager
*/
func NewManager(
	params ManagerParams, persistence db.Client, network http.RoundTripper,
) (Manager, error) {
	if params.RootDocument == "" {
		params.RootDocument = DefaultRootDocument
	}
	if len(params.ShellManifest) == 0 {
		params.ShellManifest = DefaultShellManifest
	}
	if params.InstallConcurrency == 0 {
		params.InstallConcurrency = 4
	}

	if err := validator.New().Struct(&params); err != nil {
		return nil, fmt.Errorf("cache manager parameters not valid [%w]", err)
	}

	origin, err := url.Parse(params.Origin)
	if err != nil {
		return nil, fmt.Errorf("failed to parse origin '%s' [%w]", params.Origin, err)
	}

	if network == nil {
		network = http.DefaultTransport
	}

	logTags := log.Fields{
		"module": "cache", "component": "cache-tier-manager", "version": params.Version,
	}

	return &managerImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		params:      params,
		origin:      origin,
		persistence: persistence,
		network:     network,
	}, nil
}

func (m *managerImpl) ShellGenerationName() string {
	return fmt.Sprintf("%s-shell-%s", m.params.NamePrefix, m.params.Version)
}

func (m *managerImpl) RuntimeGenerationName() string {
	return fmt.Sprintf("%s-runtime-%s", m.params.NamePrefix, m.params.Version)
}

func (m *managerImpl) currentServing() *servingGenerations {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.serving
}

func (m *managerImpl) setServing(serving *servingGenerations) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.serving = serving
}

func (m *managerImpl) ServingVersion() string {
	if serving := m.currentServing(); serving != nil {
		return serving.version
	}
	return ""
}

func (m *managerImpl) WaitIdle() {
	m.revalidations.Wait()
}

func (m *managerImpl) Close() {
	m.revalidateLock.Lock()
	m.closed = true
	m.revalidateLock.Unlock()
	m.revalidations.Wait()
}

// absoluteURL resolve a path against the origin
func (m *managerImpl) absoluteURL(filePath string) string {
	return m.origin.ResolveReference(&url.URL{Path: filePath}).String()
}

// RoundTrip implements http.RoundTripper
func (m *managerImpl) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Fetch(req.Context(), req)
}

func (m *managerImpl) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Context() != ctx {
		req = req.WithContext(ctx)
	}

	class := Classify(req, m.origin)
	strategy := StrategyFor(class)

	serving := m.currentServing()
	if serving == nil || strategy == StrategyPassthrough {
		return m.network.RoundTrip(req)
	}

	logTags := m.GetLogTagsForContext(ctx)
	log.WithFields(logTags).
		WithField("request", RequestKey(req)).
		WithField("class", class).
		WithField("strategy", strategy).
		Debug("Intercepted request")

	switch strategy {
	case StrategyNetworkFirst:
		return m.networkFirst(ctx, req, serving)
	case StrategyStaleWhileRevalidate:
		return m.staleWhileRevalidate(ctx, req, serving)
	case StrategyCacheFirst:
		return m.cacheFirst(ctx, req, serving)
	}
	return m.network.RoundTrip(req)
}

// ======================================================================================
// Strategies

func (m *managerImpl) networkFirst(
	ctx context.Context, req *http.Request, serving *servingGenerations,
) (*http.Response, error) {
	logTags := m.GetLogTagsForContext(ctx)
	key := RequestKey(req)

	resp, netErr := m.fetchAndStore(ctx, req, serving)
	if netErr == nil {
		return resp, nil
	}

	log.WithError(netErr).WithFields(logTags).WithField("request", key).Debug("Network unavailable")

	cached, err := m.match(ctx, req, serving)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrNoCachedResponse) {
		log.WithError(err).WithFields(logTags).WithField("request", key).Error("Cache lookup failed")
	}

	rootReq, err := http.NewRequestWithContext(
		ctx, http.MethodGet, m.absoluteURL(m.params.RootDocument), nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to define root document request [%w]", err)
	}
	cached, err = m.match(ctx, rootReq, serving)
	if err == nil {
		cached.Request = req
		return cached, nil
	}

	return nil, fmt.Errorf("%w for '%s' [%w]", ErrNoCachedResponse, key, netErr)
}

func (m *managerImpl) staleWhileRevalidate(
	ctx context.Context, req *http.Request, serving *servingGenerations,
) (*http.Response, error) {
	cached, err := m.match(ctx, req, serving)
	if err == nil {
		m.revalidate(ctx, req, serving)
		return cached, nil
	}
	if !errors.Is(err, ErrNoCachedResponse) {
		log.WithError(err).
			WithFields(m.GetLogTagsForContext(ctx)).
			WithField("request", RequestKey(req)).
			Error("Cache lookup failed")
	}
	return m.fetchAndStore(ctx, req, serving)
}

func (m *managerImpl) cacheFirst(
	ctx context.Context, req *http.Request, serving *servingGenerations,
) (*http.Response, error) {
	cached, err := m.match(ctx, req, serving)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrNoCachedResponse) {
		log.WithError(err).
			WithFields(m.GetLogTagsForContext(ctx)).
			WithField("request", RequestKey(req)).
			Error("Cache lookup failed")
	}
	return m.fetchAndStore(ctx, req, serving)
}

// revalidate refresh a cached entry in the background
func (m *managerImpl) revalidate(
	ctx context.Context, req *http.Request, serving *servingGenerations,
) {
	m.revalidateLock.Lock()
	defer m.revalidateLock.Unlock()
	if m.closed {
		log.WithFields(m.GetLogTagsForContext(ctx)).
			WithField("request", RequestKey(req)).
			Debug("Cache tier closed, skipping revalidation")
		return
	}

	// Outlives the caller
	bgCtx := context.WithoutCancel(ctx)
	bgReq := req.Clone(bgCtx)

	m.revalidations.Add(1)
	go func() {
		defer m.revalidations.Done()
		resp, err := m.fetchAndStore(bgCtx, bgReq, serving)
		if err != nil {
			log.WithError(err).
				WithFields(m.GetLogTagsForContext(bgCtx)).
				WithField("request", RequestKey(bgReq)).
				Debug("Background revalidation failed")
			return
		}
		_ = resp.Body.Close()
	}()
}

// ======================================================================================
// Cache access

// fetchAndStore fetch from the network and refresh the runtime generation
//
// A failure to write the cache does not fail the fetch.
func (m *managerImpl) fetchAndStore(
	ctx context.Context, req *http.Request, serving *servingGenerations,
) (*http.Response, error) {
	resp, err := m.network.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	snap, err := bufferResponse(resp)
	if err != nil {
		return nil, err
	}

	if err := m.put(ctx, serving.runtime, RequestKey(req), snap); err != nil {
		log.WithError(err).
			WithFields(m.GetLogTagsForContext(ctx)).
			WithField("request", RequestKey(req)).
			Warn("Runtime cache refresh failed")
	}

	return resp, nil
}

// put write a snapshot into a generation
func (m *managerImpl) put(ctx context.Context, generation, key string, snap snapshot) error {
	if !snap.isCacheable() {
		return nil
	}
	header, err := snap.encodedHeader()
	if err != nil {
		return err
	}
	return m.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.PutCacheEntry(dbCtx, generation, key, snap.statusCode, header, snap.body)
		},
	)
}

// match find a stored response for the request, shell generation first
func (m *managerImpl) match(
	ctx context.Context, req *http.Request, serving *servingGenerations,
) (*http.Response, error) {
	key := RequestKey(req)

	var found *models.CacheEntry
	if err := m.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			for _, generation := range []string{serving.shell, serving.runtime} {
				entry, err := dbClient.GetCacheEntry(dbCtx, generation, key)
				if err == nil {
					found = &entry
					return nil
				}
				if !errors.Is(err, db.ErrNotFound) {
					return err
				}
			}
			return nil
		},
	); err != nil {
		return nil, fmt.Errorf("failed to look up '%s' [%w]", key, err)
	}

	if found == nil {
		return nil, ErrNoCachedResponse
	}
	return responseFromEntry(*found, req)
}
