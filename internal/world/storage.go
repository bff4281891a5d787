package world

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrLevelNotFound is returned when neither part of a level exists on disk.
var ErrLevelNotFound = errors.New("level not found")

// DimensionMismatchError is returned when a blob's stored length disagrees
// with the dimensions in the level metadata.
type DimensionMismatchError struct {
	Name     string
	Expected int
	Stored   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("level %s: metadata describes %d blocks but blob holds %d", e.Name, e.Expected, e.Stored)
}

// CompressBlocks produces the on-disk and on-wire blob: gzip over a 4-byte
// big-endian length followed by the blocks.
func CompressBlocks(blocks []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(blocks)))
	if _, err := zw.Write(prefix[:]); err != nil {
		return nil, fmt.Errorf("failed to compress level: %w", err)
	}
	if _, err := zw.Write(blocks); err != nil {
		return nil, fmt.Errorf("failed to compress level: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress level: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressBlocks reverses CompressBlocks. The stored length decides how
// many blocks are read.
func DecompressBlocks(blob []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("corrupt level blob: %w", err)
	}
	defer zr.Close()

	var prefix [4]byte
	if _, err := io.ReadFull(zr, prefix[:]); err != nil {
		return nil, fmt.Errorf("corrupt level blob: missing length: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxVolume {
		return nil, fmt.Errorf("corrupt level blob: stored length %d exceeds %d blocks", n, MaxVolume)
	}
	blocks := make([]byte, n)
	if _, err := io.ReadFull(zr, blocks); err != nil {
		return nil, fmt.Errorf("corrupt level blob: expected %d blocks: %w", n, err)
	}
	return blocks, nil
}

// Metadata is the JSON half of a saved level.
type Metadata struct {
	SizeX      int         `json:"sizeX"`
	SizeY      int         `json:"sizeY"`
	SizeZ      int         `json:"sizeZ"`
	SpawnX     float64     `json:"spawnX"`
	SpawnY     float64     `json:"spawnY"`
	SpawnZ     float64     `json:"spawnZ"`
	Textures   string      `json:"customTextures"`
	Weather    Weather     `json:"customWeather"`
	Properties Environment `json:"customProperties"`
}

// Record is a level as persisted: metadata plus the raw block array.
// Revision is the level revision the snapshot was taken at.
type Record struct {
	Name     string
	Metadata Metadata
	Blocks   []byte
	Revision uint64
}

// Record snapshots the level for saving.
func (l *Level) Record() *Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Record{
		Name: l.name,
		Metadata: Metadata{
			SizeX: l.sizeX, SizeY: l.sizeY, SizeZ: l.sizeZ,
			SpawnX: l.spawn.X, SpawnY: l.spawn.Y, SpawnZ: l.spawn.Z,
			Textures:   l.textures,
			Weather:    l.weather,
			Properties: l.env,
		},
		Blocks:   append([]byte(nil), l.blocks...),
		Revision: l.revision,
	}
}

// MarkSaved clears the dirty flag if nothing changed since the snapshot at
// revision was taken.
func (l *Level) MarkSaved(revision uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revision != revision {
		return false
	}
	l.dirty = false
	return true
}

// FromRecord builds a level from a loaded record. The block array length
// must match the metadata dimensions.
func FromRecord(r *Record) (*Level, error) {
	m := r.Metadata
	if m.SizeX <= 0 || m.SizeY <= 0 || m.SizeZ <= 0 {
		return nil, fmt.Errorf("level %s: invalid dimensions %dx%dx%d", r.Name, m.SizeX, m.SizeY, m.SizeZ)
	}
	if want := m.SizeX * m.SizeY * m.SizeZ; want != len(r.Blocks) {
		return nil, &DimensionMismatchError{Name: r.Name, Expected: want, Stored: len(r.Blocks)}
	}
	if !m.Weather.Valid() {
		m.Weather = WeatherClear
	}
	l := NewLevel(r.Name, m.SizeX, m.SizeY, m.SizeZ)
	l.blocks = r.Blocks
	l.spawn = Position{X: m.SpawnX, Y: m.SpawnY, Z: m.SpawnZ}
	l.textures = m.Textures
	l.weather = m.Weather
	l.env = m.Properties
	return l, nil
}

// Store loads and saves levels.
type Store interface {
	Load(name string) (*Record, error)
	Save(r *Record) error
	Exists(name string) bool
	List() ([]string, error)
	// Quarantine moves an unreadable level out of the way and returns
	// where its blob went.
	Quarantine(name string) (string, error)
}

// FileStore keeps each level as <dir>/<name>.lvl and <dir>/<name>.json.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates a store rooted at dir, creating the directory.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create levels directory: %w", err)
	}
	return &FileStore{
		dir:    dir,
		logger: log.With().Str("component", "level_store").Logger(),
	}, nil
}

func (s *FileStore) blobPath(name string) string { return filepath.Join(s.dir, name+".lvl") }
func (s *FileStore) metaPath(name string) string { return filepath.Join(s.dir, name+".json") }

// Exists reports whether both parts of a level are present.
func (s *FileStore) Exists(name string) bool {
	if _, err := os.Stat(s.blobPath(name)); err != nil {
		return false
	}
	_, err := os.Stat(s.metaPath(name))
	return err == nil
}

// Load reads both parts of a level.
func (s *FileStore) Load(name string) (*Record, error) {
	blob, err := os.ReadFile(s.blobPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrLevelNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read level %s: %w", name, err)
	}
	metaData, err := os.ReadFile(s.metaPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read level metadata %s: %w", name, err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse level metadata %s: %w", name, err)
	}
	blocks, err := DecompressBlocks(blob)
	if err != nil {
		return nil, fmt.Errorf("level %s: %w", name, err)
	}
	s.logger.Debug().Str("level", name).Int("blocks", len(blocks)).Msg("Level read")
	return &Record{Name: name, Metadata: meta, Blocks: blocks}, nil
}

// Save writes both parts of a level.
func (s *FileStore) Save(r *Record) error {
	blob, err := CompressBlocks(r.Blocks)
	if err != nil {
		return err
	}
	meta, err := json.MarshalIndent(r.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal level metadata: %w", err)
	}
	if err := s.writeFile(s.blobPath(r.Name), blob); err != nil {
		return fmt.Errorf("failed to write level %s: %w", r.Name, err)
	}
	if err := s.writeFile(s.metaPath(r.Name), meta); err != nil {
		return fmt.Errorf("failed to write level metadata %s: %w", r.Name, err)
	}
	s.logger.Debug().Str("level", r.Name).Int("bytes", len(blob)).Msg("Level written")
	return nil
}

// writeFile replaces path with data through a temporary file in the same
// directory, so a crash never leaves a truncated file behind.
func (s *FileStore) writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Quarantine renames both parts of a level with a .corrupt-<unix time>
// suffix. Missing parts are ignored.
func (s *FileStore) Quarantine(name string) (string, error) {
	suffix := fmt.Sprintf(".corrupt-%d", time.Now().Unix())
	moved := s.blobPath(name) + suffix
	for _, path := range []string{s.blobPath(name), s.metaPath(name)} {
		err := os.Rename(path, path+suffix)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to move level %s aside: %w", name, err)
		}
	}
	s.logger.Warn().Str("level", name).Str("moved_to", moved).Msg("Level moved aside")
	return moved, nil
}

// List returns the names of every level with a blob on disk.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list levels: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lvl") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".lvl"))
	}
	sort.Strings(names)
	return names, nil
}

var _ Store = (*FileStore)(nil)
