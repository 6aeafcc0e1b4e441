package server

import (
	"fmt"

	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

var (
	findBroadcasts    = metrics.NewCounter(`dcache_server_find_broadcasts_total`)
	findTimeouts      = metrics.NewCounter(`dcache_server_find_timeouts_total`)
	broadcastFailures = metrics.NewCounter(`dcache_server_broadcast_failures_total`)
	protocolErrors    = metrics.NewCounter(`dcache_server_protocol_errors_total`)
)

// requests counts handled requests per message type
func requests(t common.MessageType) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dcache_server_requests_total{type=%q}`, t.String()))
}
