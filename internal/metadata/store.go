// Package metadata implements the Metadata Store: one flat key=value file
// per session, with atomic reserve/read/merge-update/archive-delete.
//
// The on-disk format and the exclusive-create reservation discipline are
// intentional (spec §4.B, §9 "Stringly-typed metadata"): human-inspectable,
// atomic via rename, no schema versioning needed. Grounded on the atomic
// temp-file-then-rename idiom used throughout the reference implementation's
// config loader for re-writable state, generalized here to per-session
// files instead of a single config file.
package metadata

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// idPattern is the shape every session id and every file name scanned by
// List must match (spec §3: "must match [A-Za-z0-9_-]+").
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidID reports whether id is a legal session id.
func ValidID(id string) bool {
	return id != "" && idPattern.MatchString(id)
}

// Store is a flat-file metadata store rooted at a directory derived from
// the hash of a configuration file path, so multiple independent
// orchestrators coexist on one host without collision (spec §4.B).
type Store struct {
	root string

	mu      sync.Mutex
	fileMus map[string]*sync.Mutex
}

// RootFor derives the storage root for a given base directory and config
// file path: baseDir/<first 16 hex chars of sha256(configPath)>.
func RootFor(baseDir, configPath string) string {
	sum := sha256.Sum256([]byte(configPath))
	return filepath.Join(baseDir, hex.EncodeToString(sum[:])[:16])
}

// Open creates (if needed) and returns a Store rooted at root.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("metadata: create sessions dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "sessions", "archive"), 0o755); err != nil {
		return nil, fmt.Errorf("metadata: create archive dir: %w", err)
	}
	return &Store{root: root, fileMus: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.root, "sessions", id)
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.fileMus[id]
	if !ok {
		m = &sync.Mutex{}
		s.fileMus[id] = m
	}
	return m
}

// Reserve claims id by exclusively creating its metadata file. It is the
// only way ids are allocated (spec I1). Returns os.ErrExist (wrapped) if
// id is already reserved.
func (s *Store) Reserve(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("metadata: invalid id %q", id)
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(s.path(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Read returns the parsed key=value map for id, or ok=false if no file
// exists.
func (s *Store) Read(id string) (map[string]string, bool, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return decode(data), true, nil
}

// UpdateMerge reads, merges patch into the existing map in memory, and
// writes the result back via write-to-temp-then-rename (spec I6). Absent
// keys in patch are left untouched; keys with empty-string values are
// removed from the stored map.
func (s *Store) UpdateMerge(id string, patch map[string]string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, _, err := s.Read(id)
	if err != nil {
		return err
	}
	if current == nil {
		current = make(map[string]string)
	}
	for k, v := range patch {
		if v == "" {
			delete(current, k)
			continue
		}
		current[k] = v
	}
	return writeAtomic(s.path(id), encode(current))
}

// Archive moves id's metadata file into the archive/ subfolder with a
// timestamp suffix.
func (s *Store) Archive(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	src := s.path(id)
	dst := filepath.Join(s.root, "sessions", "archive", fmt.Sprintf("%s.%d", id, time.Now().UnixNano()))
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// List scans the sessions directory and returns all ids whose file exists
// and whose name validates as a session id, sorted for a stable order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "sessions"))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ValidID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func encode(m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, m[k])
	}
	return []byte(b.String())
}

func decode(data []byte) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i < 0 {
			continue
		}
		out[line[:i]] = line[i+1:]
	}
	return out
}
