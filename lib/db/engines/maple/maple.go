package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dCache/lib/db"
	"github.com/ValentinKolb/dCache/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/dCache/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum     = "MAPLEDB\x00" // File format identifier
	mapleVersion = 4             // Snapshot format version
)

// --------------------------------------------------------------------------
// Core Maple engine structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory transactional engine with sharded tables
type mapleImpl struct {
	numShards int
	tables    *xsync.MapOf[db.Table, *internal.Table]
	commits   atomic.Uint64 // Number of committed transactions

	// commitMu serializes commits against snapshots so Save always sees
	// whole transactions
	commitMu sync.RWMutex
	closed   atomic.Bool
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards per table (0 = auto)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(), // Auto-determine based on CPU count
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new in-memory engine with the specified options (optional).
// The returned engine also implements db.Snapshotter.
func NewMapleDB(opts *DBOptions) db.Engine {
	if opts == nil || opts.NumShards <= 0 {
		opts = DefaultOptions()
	}
	return &mapleImpl{
		numShards: opts.NumShards,
		tables:    xsync.NewMapOf[db.Table, *internal.Table](),
	}
}

// table returns the committed table, creating it if create is set.
func (maple *mapleImpl) table(name db.Table, create bool) *internal.Table {
	if !create {
		t, _ := maple.tables.Load(name)
		return t
	}
	t, _ := maple.tables.LoadOrCompute(name, func() *internal.Table {
		return internal.NewTable(maple.numShards)
	})
	return t
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.Engine)
// --------------------------------------------------------------------------

func (maple *mapleImpl) Begin() (db.Txn, error) {
	if maple.closed.Load() {
		return nil, db.ErrClosed
	}
	return &mapleTxn{
		maple:    maple,
		overlays: make(map[db.Table]*internal.Overlay),
	}, nil
}

func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureSnapshot | db.FeatureCount
	return supportedFeatures&feature == feature
}

// GetInfo returns statistics about the engine
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	histogram := util.NewSizeHistogram()
	samplesPerTable := 100
	tableSizes := make([]float64, 0)
	keys := 0

	maple.tables.Range(func(name db.Table, t *internal.Table) bool {
		count := 0
		t.Range(func(_ string, value []byte) bool {
			histogram.AddSample(len(value))
			count++
			return count < samplesPerTable
		})
		size := t.Size()
		keys += size
		tableSizes = append(tableSizes, float64(size))
		return true
	})

	// weighted estimate (60% median, 40% average) times the number of keys
	entrySize := (histogram.MedianEstimate()*60 + histogram.AverageSize()*40) / 100
	sizeBytes := entrySize * keys

	meta := &struct {
		Commits           uint64                 `json:"commits"`
		TableCount        int                    `json:"table_count"`
		KeyCount          int                    `json:"key_count"`
		TableDistribution util.DistributionStats `json:"table_distribution"`
		Info              string                 `json:"info"`
	}{
		Commits:           maple.commits.Load(),
		TableCount:        len(tableSizes),
		KeyCount:          keys,
		TableDistribution: util.NewDistributionStats(tableSizes),
		Info:              "SizeBytes is an estimate based on sampled values.",
	}

	return db.DatabaseInfo{
		SizeBytes:         sizeBytes,
		DbType:            db.ImplMaple,
		SupportedFeatures: []db.Feature{db.FeatureSnapshot, db.FeatureCount},
		Metadata:          meta,
	}
}

func (maple *mapleImpl) Close() error {
	maple.closed.Store(true)
	return nil
}

// --------------------------------------------------------------------------
// Commit
// --------------------------------------------------------------------------

// apply writes the overlays of a transaction into the committed tables.
func (maple *mapleImpl) apply(overlays map[db.Table]*internal.Overlay) {
	maple.commitMu.Lock()
	defer maple.commitMu.Unlock()

	for name, o := range overlays {
		if o.Dropped {
			if t := maple.table(name, false); t != nil {
				t.Clear()
			}
		}
		if len(o.Writes) == 0 {
			continue
		}
		t := maple.table(name, true)
		for k, w := range o.Writes {
			shard := t.Shard(k)
			if w.Deleted {
				shard.Data.Delete(k)
			} else {
				shard.Data.Store(k, w.Value)
			}
		}
	}
	maple.commits.Add(1)
}

// --------------------------------------------------------------------------
// Snapshot Methods (docu see db.Snapshotter)
// --------------------------------------------------------------------------

// Save writes all committed tables to w.
//
// Format: magic number, version (uint8), table count (uint64), then per table
// the name (uint32 length + bytes), entry count (uint64) and the entries
// (uint32 key length, key, uint32 value length, value). All integers are
// little endian.
func (maple *mapleImpl) Save(w io.Writer) error {
	maple.commitMu.RLock()
	defer maple.commitMu.RUnlock()

	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}

	names := make([]db.Table, 0, maple.tables.Size())
	maple.tables.Range(func(name db.Table, _ *internal.Table) bool {
		names = append(names, name)
		return true
	})
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(names))); err != nil {
		return err
	}

	for _, name := range names {
		t := maple.table(name, true)
		if err := writeBytes(bw, []byte(name)); err != nil {
			return err
		}

		// the count is fixed before writing since commits are blocked
		if err := binary.Write(bw, binary.LittleEndian, uint64(t.Size())); err != nil {
			return err
		}

		var err error
		t.Range(func(k string, v []byte) bool {
			if err = writeBytes(bw, []byte(k)); err != nil {
				return false
			}
			err = writeBytes(bw, v)
			return err == nil
		})
		if err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the committed state with the snapshot read from r.
func (maple *mapleImpl) Load(r io.Reader) error {
	maple.commitMu.Lock()
	defer maple.commitMu.Unlock()

	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var tableCount uint64
	if err := binary.Read(br, binary.LittleEndian, &tableCount); err != nil {
		return err
	}

	tables := xsync.NewMapOf[db.Table, *internal.Table]()
	for i := uint64(0); i < tableCount; i++ {
		name, err := readBytes(br)
		if err != nil {
			return err
		}
		var count uint64
		if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
			return err
		}

		t := internal.NewTable(maple.numShards)
		for j := uint64(0); j < count; j++ {
			k, err := readBytes(br)
			if err != nil {
				return err
			}
			v, err := readBytes(br)
			if err != nil {
				return err
			}
			t.Shard(string(k)).Data.Store(string(k), v)
		}
		tables.Store(db.Table(name), t)
	}

	// swap content only after the whole snapshot was read
	maple.tables.Clear()
	tables.Range(func(name db.Table, t *internal.Table) bool {
		maple.tables.Store(name, t)
		return true
	})
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
