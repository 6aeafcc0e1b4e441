package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/dCache/lib/db"
	"github.com/ValentinKolb/dCache/lib/db/engines/leveldb"
	"github.com/ValentinKolb/dCache/lib/db/engines/maple"
	"github.com/ValentinKolb/dCache/lib/db/engines/pebble"
	"github.com/ValentinKolb/dCache/lib/db/worker"
	"github.com/ValentinKolb/dCache/lib/identifier"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/lib/store/mstore"
	"github.com/ValentinKolb/dCache/lib/store/pstore"
	"github.com/ValentinKolb/dCache/lib/store/redisstore"
	"github.com/ValentinKolb/dCache/rpc/common"
	goredis "github.com/redis/go-redis/v9"
)

// snapshotFile is the file in the data directory that keeps the maple
// shared scope between restarts
const snapshotFile = "shared.maple"

// backend bundles the storage of a server: the factory of the shared stores
// and the identifier map, plus everything that has to be closed on shutdown.
type backend struct {
	shared store.Factory
	ids    identifier.IdentifierMap

	worker *worker.Worker
	redis  goredis.UniversalClient

	// maple backend only
	mapleWorker *worker.Worker
	maple       db.Engine
	snapshot    string
}

// openBackend creates the storage described by config.
//
// With a data directory, one engine in that directory keeps the identifier
// map and, for the pebble and leveldb backends, the shared stores. The engine
// is leveldb for the leveldb backend and pebble otherwise. All access goes
// through a single worker.
//
// The maple backend keeps the shared stores in memory on a worker of its own.
// A snapshot in the data directory is loaded at start and written on close.
func openBackend(config common.ServerConfig) (*backend, error) {
	b := &backend{}

	if config.DataDir != "" {
		if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}

		var engine db.Engine
		var err error
		if config.SharedBackend == common.BackendLevelDB {
			engine, err = leveldb.Open(config.DataDir, nil)
		} else {
			engine, err = pebble.Open(config.DataDir, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open database in %s: %w", config.DataDir, err)
		}
		b.worker = worker.New(engine, worker.WithName("server"))
		if err := b.worker.Start(); err != nil {
			_ = engine.Close()
			return nil, fmt.Errorf("failed to start store worker: %w", err)
		}
		b.ids = identifier.NewPersistentIdentifierMap(b.worker)
	} else {
		b.ids = identifier.NewMemoryIdentifierMap()
	}

	switch config.SharedBackend {
	case common.BackendMemory, "":
		b.shared = mstore.NewFactory()
	case common.BackendPebble, common.BackendLevelDB:
		if b.worker == nil {
			return nil, fmt.Errorf("the %s backend needs a data directory", config.SharedBackend)
		}
		b.shared = pstore.NewFactory(b.worker)
	case common.BackendMaple:
		if err := b.openMaple(config.DataDir); err != nil {
			_ = b.close()
			return nil, err
		}
	case common.BackendRedis:
		b.redis = goredis.NewClient(&goredis.Options{Addr: config.RedisAddr})
		b.shared = redisstore.NewFactory(b.redis, redisstore.Options{
			Prefix:  config.RedisPrefix,
			Timeout: time.Duration(config.TimeoutSecond) * time.Second,
		})
	default:
		_ = b.close()
		return nil, fmt.Errorf("invalid shared backend: %s", config.SharedBackend)
	}

	return b, nil
}

// openMaple starts the in-memory shared engine, restoring the snapshot in
// dataDir if there is one
func (b *backend) openMaple(dataDir string) error {
	engine := maple.NewMapleDB(nil)

	if dataDir != "" {
		b.snapshot = filepath.Join(dataDir, snapshotFile)
		f, err := os.Open(b.snapshot)
		switch {
		case err == nil:
			err = engine.(db.Snapshotter).Load(f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("failed to load snapshot %s: %w", b.snapshot, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("failed to open snapshot %s: %w", b.snapshot, err)
		}
	}

	w := worker.New(engine, worker.WithName("shared"))
	if err := w.Start(); err != nil {
		_ = engine.Close()
		return fmt.Errorf("failed to start shared worker: %w", err)
	}
	b.mapleWorker = w
	b.maple = engine
	b.shared = pstore.NewFactory(w)
	return nil
}

// saveSnapshot writes the maple engine to a temporary file and renames it
// over the previous snapshot
func (b *backend) saveSnapshot() error {
	tmp := b.snapshot + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := b.maple.(db.Snapshotter).Save(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return os.Rename(tmp, b.snapshot)
}

// close stops the workers (closing their engines) and the redis client. The
// maple snapshot is written after its worker has drained the queue.
func (b *backend) close() error {
	var errs []error
	if b.mapleWorker != nil {
		errs = append(errs, b.mapleWorker.Stop())
		if b.snapshot != "" {
			errs = append(errs, b.saveSnapshot())
		}
	}
	if b.worker != nil {
		errs = append(errs, b.worker.Stop())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	return errors.Join(errs...)
}
