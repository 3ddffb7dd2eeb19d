// Package strategy routes intercepted requests to caching strategies:
// network-only with an offline fallback, cache-first over the active
// generation's static partition, and network-first with a cached fallback.
package strategy

import (
	"fmt"
	"strings"

	"github.com/hupe1980/edgecache/fetch"
)

// Decision selects the strategy that serves a request.
type Decision int

const (
	// DecisionNetworkOnly always fetches; network failures resolve to the
	// offline page.
	DecisionNetworkOnly Decision = iota
	// DecisionCacheFirst serves from the static partition and fills it on
	// miss.
	DecisionCacheFirst
	// DecisionNetworkFirst fetches and falls back to the cache. The default
	// classification never selects it; custom classifiers may.
	DecisionNetworkFirst
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionNetworkOnly:
		return "network-only"
	case DecisionCacheFirst:
		return "cache-first"
	case DecisionNetworkFirst:
		return "network-first"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// Classifier maps a request to a routing decision. Implementations must be
// pure functions of the request URL.
type Classifier func(req *fetch.Request) Decision

// NewClassifier builds the default classification. First match wins:
//
//  1. URL path under one of the data namespaces, or ending in ".json",
//     is NetworkOnly — data stays live.
//  2. Hostname containing one of the stable-content substrings is
//     CacheFirst.
//  3. Everything else is NetworkOnly.
func NewClassifier(dataPrefixes, stableHosts []string) Classifier {
	return func(req *fetch.Request) Decision {
		path := req.URL.Path

		for _, prefix := range dataPrefixes {
			if strings.HasPrefix(path, prefix) {
				return DecisionNetworkOnly
			}
		}

		if strings.HasSuffix(path, ".json") {
			return DecisionNetworkOnly
		}

		host := req.URL.Hostname()

		for _, h := range stableHosts {
			if strings.Contains(host, h) {
				return DecisionCacheFirst
			}
		}

		return DecisionNetworkOnly
	}
}
