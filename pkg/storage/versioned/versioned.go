// Package versioned assigns version numbers to datasets and writes each
// version exactly once through a Backend.
package versioned

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Extension is appended to every stored version.
const Extension = ".csv"

// MaxNameBytes caps a dataset name well below the 255-byte file name
// limit of common filesystems and the 1024-byte S3 key limit.
const MaxNameBytes = 200

// maxAttempts bounds how often Put rescans after losing a version to a
// writer outside this process.
const maxAttempts = 5

var (
	// ErrInvalidDataset is returned when a filename yields no usable dataset name.
	ErrInvalidDataset = errors.New("invalid dataset name")
	// ErrNameTooLong is the ErrInvalidDataset returned for names over MaxNameBytes.
	ErrNameTooLong = fmt.Errorf("%w: longer than %d bytes", ErrInvalidDataset, MaxNameBytes)
	// ErrVersionExists is returned by a Backend when the target version is taken.
	ErrVersionExists = errors.New("version already exists")
)

// Backend persists version files. Write must not replace an existing
// version; it returns ErrVersionExists instead.
type Backend interface {
	Versions(ctx context.Context, dataset string) ([]int, error)
	Write(ctx context.Context, dataset string, version int, data []byte, metadata map[string]string) (string, error)
	Close() error
}

// Artifact describes one stored dataset version.
type Artifact struct {
	Dataset  string
	Version  int
	Path     string
	Size     int64
	Checksum string
}

// StorageError reports a backend failure while storing a dataset.
type StorageError struct {
	Dataset string
	Version int
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s %s v%d: %v", e.Op, e.Dataset, e.Version, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Dataset, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store serialises version assignment per dataset.
type Store struct {
	backend Backend
	locks   *keyedMutex
	logger  *zap.Logger
}

// New returns a Store on top of backend.
func New(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend: backend,
		locks:   newKeyedMutex(),
		logger:  logger,
	}
}

// Put stores data as the next version of dataset. The scan of existing
// versions and the write happen under the dataset's lock, so two uploads of
// the same dataset never receive the same version.
func (s *Store) Put(ctx context.Context, dataset string, data []byte, checksum string) (*Artifact, error) {
	if !validName(dataset) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDataset, dataset)
	}

	unlock := s.locks.Lock(dataset)
	defer unlock()

	metadata := map[string]string{"checksum": checksum}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		versions, err := s.backend.Versions(ctx, dataset)
		if err != nil {
			return nil, &StorageError{Dataset: dataset, Op: "list versions", Err: err}
		}
		next := nextVersion(versions)

		location, err := s.backend.Write(ctx, dataset, next, data, metadata)
		if errors.Is(err, ErrVersionExists) {
			s.logger.Warn("version taken by another writer, rescanning",
				zap.String("dataset", dataset),
				zap.Int("version", next),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, &StorageError{Dataset: dataset, Version: next, Op: "write", Err: err}
		}

		return &Artifact{
			Dataset:  dataset,
			Version:  next,
			Path:     location,
			Size:     int64(len(data)),
			Checksum: checksum,
		}, nil
	}
	return nil, &StorageError{Dataset: dataset, Op: "assign version", Err: fmt.Errorf("gave up after %d attempts: %w", maxAttempts, ErrVersionExists)}
}

// Versions lists the stored versions of dataset in ascending order.
func (s *Store) Versions(ctx context.Context, dataset string) ([]int, error) {
	if !validName(dataset) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDataset, dataset)
	}
	versions, err := s.backend.Versions(ctx, dataset)
	if err != nil {
		return nil, &StorageError{Dataset: dataset, Op: "list versions", Err: err}
	}
	return versions, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func nextVersion(versions []int) int {
	highest := 0
	for _, v := range versions {
		if v > highest {
			highest = v
		}
	}
	return highest + 1
}

var unsafeRune = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// DatasetName derives the dataset partition key from an uploaded filename:
// directory components and the extension are dropped, every rune outside
// [A-Za-z0-9._-] becomes '_' and leading dots are removed. Names longer
// than MaxNameBytes are refused rather than cut, so two long filenames never
// collapse into one dataset.
func DatasetName(filename string) (string, error) {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if base == "." || base == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidDataset, filename)
	}
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	name := strings.TrimLeft(unsafeRune.ReplaceAllString(base, "_"), ".")
	if len(name) > MaxNameBytes {
		return "", fmt.Errorf("%w: %q", ErrNameTooLong, filename)
	}
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDataset, filename)
	}
	return name, nil
}

func validName(name string) bool {
	return name != "" && len(name) <= MaxNameBytes &&
		!strings.HasPrefix(name, ".") && !unsafeRune.MatchString(name)
}

// FileName is the object or file name of a version inside its dataset.
func FileName(version int) string {
	return "v" + strconv.Itoa(version) + Extension
}

// ParseFileName reverses FileName. ok is false for anything that is not a
// version file.
func ParseFileName(name string) (int, bool) {
	if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, Extension) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, "v"), Extension)
	if digits == "" || strings.HasPrefix(digits, "0") {
		return 0, false
	}
	v, err := strconv.Atoi(digits)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// keyedMutex hands out one mutex per key and drops it once no goroutine
// holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
