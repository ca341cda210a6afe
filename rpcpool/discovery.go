package rpcpool

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"

	"github.com/golemfactory/evmpay/model"
)

// discoverer periodically ingests endpoint lists from DNS-TXT and
// HTTP-JSON sources (spec §4.A "External discovery") and upserts them
// into the owning pool. A go-redis cache persists the last-known list so
// a process restart doesn't have to wait for the first discovery sweep
// before it has endpoints to call.
type discoverer struct {
	pool     *Pool
	interval time.Duration
	sources  []string // "dns:<domain>" or "http:<url>"
	cache    *redis.Client
	grace    time.Duration
}

type httpDiscoveryResponse struct {
	Names []string `json:"names"`
	URLs  []string `json:"urls"`
}

// NewDiscoverer wires a discoverer for pool. cache may be nil, in which
// case discovered lists are not persisted across restarts.
func NewDiscoverer(pool *Pool, interval time.Duration, sources []string, cache *redis.Client) *discoverer {
	return &discoverer{pool: pool, interval: interval, sources: sources, cache: cache, grace: 2 * interval}
}

// Run blocks, refreshing on interval until ctx is cancelled. Intended to
// be launched as its own goroutine by the runtime (spec §4.I).
func (d *discoverer) Run(ctx context.Context) {
	d.restoreFromCache()
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.refreshOnce(ctx)
		}
	}
}

func (d *discoverer) restoreFromCache() {
	if d.cache == nil {
		return
	}
	for _, src := range d.sources {
		raw, err := d.cache.Get(cacheKey(src)).Result()
		if err != nil {
			continue
		}
		var urls []string
		if err := json.Unmarshal([]byte(raw), &urls); err != nil {
			continue
		}
		d.upsert(src, urls)
	}
}

func (d *discoverer) refreshOnce(ctx context.Context) {
	for _, src := range d.sources {
		urls, err := d.resolve(ctx, src)
		if err != nil {
			logger.Warn("discovery source failed", "source", src, "err", err)
			continue
		}
		d.upsert(src, urls)
		if d.cache != nil {
			if b, err := json.Marshal(urls); err == nil {
				d.cache.Set(cacheKey(src), b, 0)
			}
		}
	}
}

func (d *discoverer) resolve(ctx context.Context, src string) ([]string, error) {
	switch {
	case strings.HasPrefix(src, "dns:"):
		return d.resolveDNS(ctx, strings.TrimPrefix(src, "dns:"))
	case strings.HasPrefix(src, "http:"), strings.HasPrefix(src, "https:"):
		return d.resolveHTTP(ctx, src)
	default:
		return nil, errors.Errorf("rpcpool: unknown discovery source %q", src)
	}
}

// resolveDNS reads the TXT records of domain, whose concatenated data is a
// comma-separated list of URLs (spec §4.A).
func (d *discoverer) resolveDNS(ctx context.Context, domain string) ([]string, error) {
	var resolver net.Resolver
	recs, err := resolver.LookupTXT(ctx, domain)
	if err != nil {
		return nil, errors.Wrap(err, "rpcpool: dns txt lookup")
	}
	var urls []string
	for _, rec := range recs {
		for _, u := range strings.Split(rec, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls, nil
}

func (d *discoverer) resolveHTTP(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "rpcpool: http discovery request")
	}
	defer resp.Body.Close()
	var body httpDiscoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "rpcpool: decode http discovery response")
	}
	return body.URLs, nil
}

func (d *discoverer) upsert(sourceID string, urls []string) {
	present := map[string]bool{}
	for i, u := range urls {
		params := model.EndpointParams{
			ID:                   stableEndpointID(sourceID, u),
			URL:                  u,
			Name:                 discoveredName(sourceID, i),
			ChainID:              d.pool.chainID,
			BackupLevel:          1,
			VerifyIntervalSecs:   60,
			TimeoutMS:            5000,
			MaxHeadBehindSecs:    120,
			MaxConsecutiveErrors: 5,
			SourceID:             &sourceID,
		}
		present[params.ID] = true
		d.pool.upsertFromDiscovery(params)
	}
	d.pool.removeStaleFromSource(sourceID, present)
}

func stableEndpointID(sourceID, url string) string { return sourceID + "|" + url }

func discoveredName(sourceID string, i int) string { return sourceID }

func cacheKey(source string) string { return "evmpay:rpcpool:discovery:" + source }
