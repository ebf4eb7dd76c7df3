// Package hashcache stores (path, mtime, size) -> File Digest so a
// second upload of the same unchanged file skips the Hasher entirely.
// The sqlite WAL plays the role of the append-only journal the cache
// is specified to keep: every store is a WAL write, and Flush issues
// an explicit checkpoint instead of waiting for sqlite's automatic
// threshold. A small in-memory LRU sits in front so repeat lookups in
// a single sync pass never round-trip to disk.
package hashcache

import (
	"database/sql"
	"errors"
	"log/slog"
	"sync"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"

	"github.com/xpan-cli/xpan/internal/db"
	"github.com/xpan-cli/xpan/internal/xpantypes"
)

const schema = `
CREATE TABLE IF NOT EXISTS hash_cache (
	path      TEXT PRIMARY KEY,
	mtime_ns  INTEGER NOT NULL,
	size      INTEGER NOT NULL,
	md5       BLOB NOT NULL,
	slice_md5 BLOB NOT NULL,
	crc32     INTEGER NOT NULL
);
`

type key struct {
	path    string
	mtimeNS int64
	size    int64
}

// Cache is safe for concurrent lookups. Stores are serialized against
// each other but never block a concurrent lookup.
type Cache struct {
	db      *sqlx.DB
	mem     *lru.Cache[string, entry]
	storeMu sync.Mutex
}

type entry struct {
	key    key
	digest xpantypes.FileDigest
}

type row struct {
	Path     string `db:"path"`
	MtimeNS  int64  `db:"mtime_ns"`
	Size     int64  `db:"size"`
	MD5      []byte `db:"md5"`
	SliceMD5 []byte `db:"slice_md5"`
	CRC32    uint32 `db:"crc32"`
}

// Open creates or attaches to the cache database at path. A corrupt or
// unreadable database is never a correctness hazard: Open falls back to
// a fresh in-memory database and logs the problem rather than failing
// the caller's command.
func Open(path string, memEntries int) (*Cache, error) {
	sdb, err := db.NewSqliteDb(db.WithPath(path))
	if err != nil {
		slog.Warn("hashcache: falling back to empty in-memory cache", "path", path, "error", err)
		sdb, err = db.NewSqliteDb(db.WithPath(":memory:"))
		if err != nil {
			return nil, err
		}
	}

	if _, err := sdb.Exec(schema); err != nil {
		sdb.Close()
		return nil, err
	}

	if memEntries <= 0 {
		memEntries = 4096
	}
	mem, err := lru.New[string, entry](memEntries)
	if err != nil {
		sdb.Close()
		return nil, err
	}

	return &Cache{db: sdb, mem: mem}, nil
}

// Close releases the underlying database handle. It does not flush;
// callers that want a checkpoint call Flush first.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Lookup returns the cached digest for path if its on-disk (mtime,
// size) still matches the cached key. Any mismatch, including absence,
// is reported as a miss rather than an error.
func (c *Cache) Lookup(path string, mtimeNS, size int64) (xpantypes.FileDigest, bool) {
	want := key{path: path, mtimeNS: mtimeNS, size: size}

	if e, ok := c.mem.Get(path); ok {
		if e.key == want {
			return e.digest, true
		}
		c.mem.Remove(path)
	}

	var r row
	err := c.db.Get(&r, `SELECT path, mtime_ns, size, md5, slice_md5, crc32 FROM hash_cache WHERE path = ?`, path)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Debug("hashcache: lookup failed", "path", path, "error", err)
		}
		return xpantypes.FileDigest{}, false
	}

	if r.MtimeNS != mtimeNS || r.Size != size {
		return xpantypes.FileDigest{}, false
	}

	d := rowToDigest(r)
	c.mem.Add(path, entry{key: want, digest: d})
	return d, true
}

// Store records digest under (path, mtime, size), replacing any
// existing entry for path. The WAL write this produces is the journal
// entry; Flush is what makes it durable against the journal growing
// unbounded.
func (c *Cache) Store(path string, mtimeNS, size int64, digest xpantypes.FileDigest) error {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	_, err := c.db.Exec(
		`INSERT INTO hash_cache (path, mtime_ns, size, md5, slice_md5, crc32)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET mtime_ns=excluded.mtime_ns, size=excluded.size,
			md5=excluded.md5, slice_md5=excluded.slice_md5, crc32=excluded.crc32`,
		path, mtimeNS, size, digest.MD5[:], digest.SliceMD5[:], digest.CRC32,
	)
	if err != nil {
		return err
	}

	c.mem.Add(path, entry{key: key{path: path, mtimeNS: mtimeNS, size: size}, digest: digest})
	return nil
}

// Flush checkpoints the WAL into the main database file. Callers
// should call this at process exit; loss of uncheckpointed entries is
// never a correctness hazard, only a performance one.
func (c *Cache) Flush() error {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	return db.Checkpoint(c.db)
}

func rowToDigest(r row) xpantypes.FileDigest {
	var d xpantypes.FileDigest
	copy(d.MD5[:], r.MD5)
	copy(d.SliceMD5[:], r.SliceMD5)
	d.CRC32 = r.CRC32
	d.Size = r.Size
	return d
}
