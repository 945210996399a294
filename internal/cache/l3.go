package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// l3Tier is the disk-backed cache tier: one JSON file per key, sharded
// into subdirectories by the first two hex characters of the key's
// hash (spec 4.3), so no single directory accumulates more than a few
// hundred entries under typical load. Access to a key first locks that
// key's own .lock file beside its .cache file, following the teacher's
// FileLock (internal/embed/lock.go) rather than relying on rename
// atomicity alone, since the maintenance loop's cleanup pass reads
// while a request-path Set may be writing.
type l3Tier struct {
	dir string

	stats Stats
}

func newL3Tier(dir string) (*l3Tier, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "codeindexmcp-cache")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create L3 cache dir: %w", err)
	}
	return &l3Tier{dir: dir}, nil
}

type l3Payload struct {
	Entry       Entry     `json:"entry"`
	AccessCount int       `json:"access_count"`
}

func (t *l3Tier) shardDir(shard string) string {
	return filepath.Join(t.dir, shard)
}

func (t *l3Tier) paths(key string) (shard, file, lockFile string) {
	sum := sha256.Sum256([]byte(key))
	hexKey := hex.EncodeToString(sum[:])
	shard = hexKey[:2]
	file = filepath.Join(t.shardDir(shard), hexKey+".cache")
	lockFile = filepath.Join(t.shardDir(shard), hexKey+".lock")
	return shard, file, lockFile
}

func (t *l3Tier) get(key string) (Entry, bool, error) {
	shard, file, lockFile := t.paths(key)

	// No shard directory means no entry; locking would fail to create
	// the lock file there.
	if _, err := os.Stat(t.shardDir(shard)); os.IsNotExist(err) {
		t.stats.Misses++
		return Entry{}, false, nil
	}

	fl := flock.New(lockFile)
	if err := fl.Lock(); err != nil {
		return Entry{}, false, fmt.Errorf("lock L3 entry: %w", err)
	}
	defer fl.Unlock()

	raw, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		t.stats.Misses++
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var payload l3Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		// corrupted file: remove it and report a miss rather than erroring
		os.Remove(file)
		t.stats.Misses++
		return Entry{}, false, nil
	}

	if payload.Entry.Expired(time.Now()) {
		os.Remove(file)
		t.stats.Misses++
		return Entry{}, false, nil
	}

	payload.AccessCount++
	payload.Entry.AccessCount = payload.AccessCount
	if raw, err := json.Marshal(payload); err == nil {
		_ = writeAtomic(file, raw)
	}

	t.stats.Hits++
	return payload.Entry, true, nil
}

func (t *l3Tier) set(key string, entry Entry) error {
	shard, file, lockFile := t.paths(key)
	if err := os.MkdirAll(t.shardDir(shard), 0o755); err != nil {
		return fmt.Errorf("create L3 shard dir: %w", err)
	}

	fl := flock.New(lockFile)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock L3 entry: %w", err)
	}
	defer fl.Unlock()

	payload := l3Payload{Entry: entry}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return writeAtomic(file, raw)
}

// writeAtomic writes to a temp file in the same directory then renames
// it into place, matching the original cache's temp-then-rename
// pattern so a crash mid-write never leaves a partially-written entry.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (t *l3Tier) delete(key string) (bool, error) {
	_, file, lockFile := t.paths(key)
	fl := flock.New(lockFile)
	if err := fl.Lock(); err != nil {
		return false, err
	}
	defer fl.Unlock()

	if err := os.Remove(file); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// purgeExpired walks every shard, removing expired and corrupted
// files, for the maintenance loop's step (a) (spec 4.3).
func (t *l3Tier) purgeExpired() (int, error) {
	purged := 0
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	now := time.Now()
	for _, shardEntry := range entries {
		if !shardEntry.IsDir() {
			continue
		}
		shardDir := filepath.Join(t.dir, shardEntry.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if filepath.Ext(f.Name()) != ".cache" {
				continue
			}
			path := filepath.Join(shardDir, f.Name())
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			var payload l3Payload
			if err := json.Unmarshal(raw, &payload); err != nil {
				os.Remove(path)
				purged++
				continue
			}
			if payload.Entry.Expired(now) {
				os.Remove(path)
				purged++
			}
		}
	}
	return purged, nil
}

func (t *l3Tier) clear() (int, error) {
	count := 0
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		shardDir := filepath.Join(t.dir, e.Name())
		files, _ := os.ReadDir(shardDir)
		for _, f := range files {
			if filepath.Ext(f.Name()) == ".cache" {
				count++
			}
		}
		if err := os.RemoveAll(shardDir); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (t *l3Tier) statsSnapshot() Stats {
	return t.stats
}
