package cache

import (
	"github.com/VictoriaMetrics/metrics"
)

var (
	privateHits = metrics.NewCounter(`dcache_cache_hits_total{scope="private"}`)
	sharedHits  = metrics.NewCounter(`dcache_cache_hits_total{scope="shared"}`)
	loaderHits  = metrics.NewCounter(`dcache_cache_hits_total{scope="loader"}`)
	misses      = metrics.NewCounter(`dcache_cache_misses_total`)
	puts        = metrics.NewCounter(`dcache_cache_puts_total`)
	caches      = metrics.NewCounter(`dcache_caches_created_total`)
	releases    = metrics.NewCounter(`dcache_caches_released_total`)
)

func hit(s Scope, n int) {
	if s == Shared {
		sharedHits.Add(n)
	} else {
		privateHits.Add(n)
	}
}
