// Package cache - request interception and cache generation management
package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// RequestClass category of an intercepted request
type RequestClass string

const (
	// RequestClassNavigation document load
	RequestClassNavigation RequestClass = "navigation"
	// RequestClassAsset script or style sheet
	RequestClassAsset RequestClass = "asset"
	// RequestClassImage image asset
	RequestClassImage RequestClass = "image"
	// RequestClassBypass anything the cache tier does not govern
	RequestClassBypass RequestClass = "bypass"
)

// Strategy fetch strategy applied to a request class
type Strategy string

const (
	// StrategyNetworkFirst try the network, fall back to the cache, then the shell root document
	StrategyNetworkFirst Strategy = "network-first"
	// StrategyStaleWhileRevalidate serve the cache while refreshing it in the background
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
	// StrategyCacheFirst serve the cache, only fetch on a miss
	StrategyCacheFirst Strategy = "cache-first"
	// StrategyPassthrough send the request straight to the network
	StrategyPassthrough Strategy = "passthrough"
)

// PolicyTable request class to strategy dispatch table
var PolicyTable = map[RequestClass]Strategy{
	RequestClassNavigation: StrategyNetworkFirst,
	RequestClassAsset:      StrategyStaleWhileRevalidate,
	RequestClassImage:      StrategyCacheFirst,
	RequestClassBypass:     StrategyPassthrough,
}

// StrategyFor the strategy for a request class; unknown classes pass through
func StrategyFor(class RequestClass) Strategy {
	if strategy, ok := PolicyTable[class]; ok {
		return strategy
	}
	return StrategyPassthrough
}

// Fetch metadata headers a browser attaches; Go callers set them with MarkNavigation / MarkImage
const (
	headerFetchMode = "Sec-Fetch-Mode"
	headerFetchDest = "Sec-Fetch-Dest"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".ico":  true,
	".avif": true,
}

/*
Classify decide the class of a request

Only GET requests to the application origin are ever intercepted.

	@param req *http.Request - the request
	@param origin *url.URL - the application origin
	@returns the request class
*/
func Classify(req *http.Request, origin *url.URL) RequestClass {
	if req == nil || req.URL == nil || origin == nil {
		return RequestClassBypass
	}

	if req.Method != http.MethodGet && req.Method != "" {
		return RequestClassBypass
	}

	if !sameOrigin(req.URL, origin) {
		return RequestClassBypass
	}

	if req.Header.Get(headerFetchMode) == "navigate" || req.Header.Get(headerFetchDest) == "document" {
		return RequestClassNavigation
	}

	ext := strings.ToLower(path.Ext(req.URL.Path))
	if ext == ".js" || ext == ".css" {
		return RequestClassAsset
	}

	if req.Header.Get(headerFetchDest) == "image" || imageExtensions[ext] {
		return RequestClassImage
	}

	return RequestClassBypass
}

// MarkNavigation tag a request as a document load
func MarkNavigation(req *http.Request) *http.Request {
	req.Header.Set(headerFetchMode, "navigate")
	req.Header.Set(headerFetchDest, "document")
	return req
}

// MarkImage tag a request as an image load
func MarkImage(req *http.Request) *http.Request {
	req.Header.Set(headerFetchMode, "no-cors")
	req.Header.Set(headerFetchDest, "image")
	return req
}

// sameOrigin compare scheme, host and port
func sameOrigin(target *url.URL, origin *url.URL) bool {
	return strings.EqualFold(target.Scheme, origin.Scheme) &&
		strings.EqualFold(effectiveHost(target), effectiveHost(origin))
}

func effectiveHost(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return fmt.Sprintf("%s:%s", u.Hostname(), port)
}

/*
RequestKey normalized request identity used as the cache key

The key is the method plus the absolute URL without its fragment. An empty path is
the root path.

	@param req *http.Request - the request
	@returns the key
*/
func RequestKey(req *http.Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := *req.URL
	target.Fragment = ""
	target.RawFragment = ""
	if target.Path == "" {
		target.Path = "/"
	}
	return fmt.Sprintf("%s %s", method, target.String())
}
