package build

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Fingerprinter hashes source files for cache keys. Content hashes are
// remembered per path:mtime:size so unchanged files are not read again.
type Fingerprinter struct {
	mu     sync.RWMutex
	hashes map[string]uint64
}

// NewFingerprinter creates an empty fingerprinter.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{hashes: make(map[string]uint64)}
}

// Files returns one hash over the given paths. Order does not matter. Missing
// files contribute a marker so that deleting a file changes the result.
func (f *Fingerprinter) Files(paths ...string) uint64 {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	d := xxhash.New()
	var buf [8]byte
	for _, path := range sorted {
		_, _ = d.WriteString(path)
		_, _ = d.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[:], f.file(path))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// Dir hashes every regular file below dir.
func (f *Fingerprinter) Dir(dir string) (uint64, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return f.Files(paths...), nil
}

func (f *Fingerprinter) file(path string) uint64 {
	stat, err := os.Stat(path)
	if err != nil {
		return xxhash.Sum64String("missing:" + path)
	}

	metadataKey := fmt.Sprintf("%s:%d:%d", path, stat.ModTime().UnixNano(), stat.Size())

	f.mu.RLock()
	hash, found := f.hashes[metadataKey]
	f.mu.RUnlock()
	if found {
		return hash
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return xxhash.Sum64String(metadataKey)
	}
	hash = xxhash.Sum64(content)

	f.mu.Lock()
	f.hashes[metadataKey] = hash
	f.mu.Unlock()

	return hash
}
