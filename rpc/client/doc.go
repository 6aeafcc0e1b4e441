// Package client implements the dCache client. A Client owns a cache.Source
// whose caches keep the private scope locally and the shared scope on the
// server. Identifiers are assigned by the server and cached locally.
//
// Key Components:
//
//   - NewClient: Connects to a server and registers the client for
//     broadcasts. The client publishes private entries when the server
//     broadcasts a Find for them and drops its caches of a released cycle.
//
//   - NewRPCStoreFactory: A store.Factory whose stores forward to the shared
//     scope of the server. It only serves shared store names.
//
//   - NewRemoteIdentifierMap: An identifier.IdentifierMap backed by the server.
//
//   - Client.Session: A deferred.Session on the cache of a cache key. With
//     Options.WriteBehind the writes are applied in the background and
//     Flush waits for them; Options.ReadBuffer enables read coalescing.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:  []string{"localhost:8080"},
//	    RetryCount: 3,
//	  },
//	  TimeoutSecond: 5,
//	}
//
//	c, err := client.NewClient(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer(), client.Options{})
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Close()
//
//	vc, _ := c.Cache(cache.CacheKey{CycleID: 777, CalcConfig: "Default"})
//	_ = vc.PutPrivate(cache.Value{Key: k, Value: 1.5})
//
//	// a value another client only holds privately
//	v, found, _ := vc.GetScoped(other, cache.Shared)
//
//	// a job writing in the background
//	s, _ := c.Session(cache.CacheKey{CycleID: 777, CalcConfig: "Default"})
//	_ = s.PutShared(cache.Value{Key: k, Value: 1.5})
//	if err := s.Flush(); err != nil {
//	  log.Fatal(err)
//	}
//
// Thread Safety:
//
//	A Client is safe for concurrent use.
package client
