/*
Package cache implements the value cache of a computation cycle.

A ValueCache combines three parts:

  - an identifier.IdentifierMap that turns value keys into 64-bit identifiers
  - a private store.BinaryStore, only visible to this process
  - a shared store.BinaryStore, visible to every process attached to the
    same cache key (usually a remote store, see rpc/client)

Values are encoded with a codec.Codec. Reads look at the private store first,
so a process sees its own values before the cluster state, then at the shared
store and finally ask an optional MissLoader (the server uses one to find
values on other nodes). Bulk reads intern all keys with one call and query
each store once. Bulk writes are partitioned by a Hint and issue one write per
scope.

A Source owns the caches of all cache keys (cycle id and calculation
configuration) of a process. Caches are created on first access;
ReleaseCaches destroys all caches of a cycle, and a later access starts with
an empty cache.

EstimateValueSize is advisory: it returns the encoded size last measured for
the key (kept in a bounded ristretto cache) or the fixed encoded size of the
value's type, if the codec knows one.

Hits, misses and puts are counted with github.com/VictoriaMetrics/metrics.
*/
package cache
