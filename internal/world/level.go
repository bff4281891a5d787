package world

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
)

var (
	ErrLevelFull   = errors.New("level has no free entity ids")
	ErrInvalidURL  = errors.New("invalid texture pack url")
	ErrBadWeather  = errors.New("invalid weather type")
	ErrInLevel     = errors.New("entity is already in a level")
	ErrUnknownProp = errors.New("unknown environment property")
)

// maxEntities is the number of usable entity IDs; 255 is the self sentinel.
const maxEntities = 255

// MaxVolume is the largest block count a level may have.
const MaxVolume = 1 << 24

// Level is a dense block grid with its environment and member entities.
// The block array never changes length.
type Level struct {
	mu       sync.RWMutex
	name     string
	sizeX    int
	sizeY    int
	sizeZ    int
	blocks   []byte
	spawn    Position
	env      Environment
	weather  Weather
	textures string
	entities map[uint8]*Entity
	dirty    bool
	// revision counts modifications; a save only clears dirty when it
	// wrote the latest revision.
	revision uint64
}

// NewLevel creates an empty level with spawn at its centre.
func NewLevel(name string, sizeX, sizeY, sizeZ int) *Level {
	return &Level{
		name:     name,
		sizeX:    sizeX,
		sizeY:    sizeY,
		sizeZ:    sizeZ,
		blocks:   make([]byte, sizeX*sizeY*sizeZ),
		spawn:    Position{X: float64(sizeX / 2), Y: float64(sizeY / 2), Z: float64(sizeZ / 2)},
		env:      DefaultEnvironment(sizeY),
		entities: make(map[uint8]*Entity),
	}
}

func (l *Level) Name() string { return l.name }

// Size returns the level dimensions.
func (l *Level) Size() (x, y, z int) {
	return l.sizeX, l.sizeY, l.sizeZ
}

// Volume is the number of blocks in the level.
func (l *Level) Volume() int {
	return len(l.blocks)
}

// Index flattens a coordinate: y*(sizeX*sizeZ) + z*sizeX + x.
func (l *Level) Index(x, y, z int) int {
	return y*(l.sizeX*l.sizeZ) + z*l.sizeX + x
}

// Contains reports whether the coordinate lies inside the level.
func (l *Level) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < l.sizeX && y < l.sizeY && z < l.sizeZ
}

// GetBlock returns the block at a coordinate the caller has validated.
func (l *Level) GetBlock(x, y, z int) byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[l.Index(x, y, z)]
}

// SetBlock stores a block at a coordinate the caller has validated and
// returns the block it replaced.
func (l *Level) SetBlock(x, y, z int, b byte) byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.Index(x, y, z)
	old := l.blocks[i]
	l.blocks[i] = b
	l.touch()
	return old
}

// Blocks returns a copy of the block array.
func (l *Level) Blocks() []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]byte(nil), l.blocks...)
}

// touch records a modification. The caller holds mu for writing.
func (l *Level) touch() {
	l.dirty = true
	l.revision++
}

// Dirty reports whether the level changed since the last save.
func (l *Level) Dirty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dirty
}

func (l *Level) Spawn() Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.spawn
}

func (l *Level) SetSpawn(p Position) {
	l.mu.Lock()
	l.spawn = p
	l.touch()
	l.mu.Unlock()
}

func (l *Level) Environment() Environment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.env
}

func (l *Level) Weather() Weather {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.weather
}

// SetWeather changes the weather. Only clear, raining and snowing are valid.
func (l *Level) SetWeather(w Weather) error {
	if !w.Valid() {
		return fmt.Errorf("%w: %d", ErrBadWeather, uint8(w))
	}
	l.mu.Lock()
	l.weather = w
	l.touch()
	l.mu.Unlock()
	return nil
}

func (l *Level) Textures() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.textures
}

// SetTextures sets the texture pack URL; "none" clears it.
func (l *Level) SetTextures(raw string) error {
	if raw == "none" {
		raw = ""
	} else if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	l.mu.Lock()
	l.textures = raw
	l.touch()
	l.mu.Unlock()
	return nil
}

// SetProperty changes an environment property by name and returns it.
func (l *Level) SetProperty(name string, value float64) (EnvProperty, error) {
	p, ok := ParseEnvProperty(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownProp, name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.env.Set(p, value); err != nil {
		return 0, err
	}
	l.touch()
	return p, nil
}

// AddEntity gives e the lowest free entity ID of this level.
func (l *Level) AddEntity(e *Entity) error {
	if e.Level() != nil {
		return ErrInLevel
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := 0; id < maxEntities; id++ {
		if _, used := l.entities[uint8(id)]; !used {
			l.entities[uint8(id)] = e
			e.attach(l, uint8(id))
			return nil
		}
	}
	return ErrLevelFull
}

// RemoveEntity takes e out of the level, freeing its ID.
func (l *Level) RemoveEntity(e *Entity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := e.ID()
	if l.entities[id] != e {
		return false
	}
	delete(l.entities, id)
	e.detach()
	return true
}

// Entities returns the level's entities ordered by ID.
func (l *Level) Entities() []*Entity {
	l.mu.RLock()
	out := make([]*Entity, 0, len(l.entities))
	for _, e := range l.entities {
		out = append(out, e)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// BroadcastMoves sends the position of every entity that moved since the
// last call to each viewer other than its owner, and returns the number of
// packets sent. An unchanged entity produces nothing.
func (l *Level) BroadcastMoves(viewers []Viewer) int {
	sent := 0
	for _, e := range l.Entities() {
		if _, moved := e.takeMove(); !moved {
			continue
		}
		for _, v := range viewers {
			if e.owner != nil && e.owner == v {
				continue
			}
			v.Send(e.PositionPacket(v))
			sent++
		}
	}
	return sent
}
