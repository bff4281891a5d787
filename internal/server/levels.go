package server

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/cubeforge-project/cubeforge/internal/events"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

var (
	ErrLevelExists    = errors.New("level already exists")
	ErrNoSuchLevel    = errors.New("level does not exist")
	ErrAlreadyInLevel = errors.New("player is already in this level")
	ErrInvalidLevel   = errors.New("invalid level name or size")
)

// MaxLevelDimension is the largest size of one level axis on the wire.
const MaxLevelDimension = 1<<16 - 1

var levelNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

// loadLevels reads every stored level. A level that fails to load is
// skipped, except the main level: an unreadable main level is moved aside
// and generated again. The main level is created when missing.
func (s *Server) loadLevels() error {
	names, err := s.store.List()
	if err != nil {
		return err
	}
	scfg := s.cfg.GetServer()
	for _, name := range names {
		l, err := s.loadLevel(name)
		if err != nil {
			s.logger.Error().Err(err).Str("level", name).Msg("Failed to load level")
			if name == scfg.MainLevel {
				if err := s.quarantineLevel(name); err != nil {
					return err
				}
			}
			continue
		}
		s.mu.Lock()
		s.levels[name] = l
		s.mu.Unlock()
		x, y, z := l.Size()
		s.logger.Info().Str("level", name).Int("x", x).Int("y", y).Int("z", z).Msg("Level loaded")
	}

	if _, ok := s.Level(scfg.MainLevel); !ok {
		size := scfg.MainLevelSize
		if _, err := s.CreateLevel(scfg.MainLevel, size[0], size[1], size[2]); err != nil {
			return fmt.Errorf("failed to create main level: %w", err)
		}
	}
	return nil
}

func (s *Server) loadLevel(name string) (*world.Level, error) {
	rec, err := s.store.Load(name)
	if err != nil {
		return nil, err
	}
	return world.FromRecord(rec)
}

// quarantineLevel moves an unreadable level aside so a fresh one can take
// its name.
func (s *Server) quarantineLevel(name string) error {
	moved, err := s.store.Quarantine(name)
	if err != nil {
		return fmt.Errorf("main level %s is unreadable and could not be moved aside: %w", name, err)
	}
	s.logger.Error().
		Str("level", name).
		Str("moved_to", moved).
		Msg("Main level is unreadable, it was moved aside and will be generated again")
	return nil
}

// Level returns a loaded level by name.
func (s *Server) Level(name string) (*world.Level, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.levels[name]
	return l, ok
}

// Levels describes every loaded level, sorted by name.
func (s *Server) Levels() []LevelInfo {
	levels := s.loadedLevels()
	sort.Slice(levels, func(i, j int) bool { return levels[i].Name() < levels[j].Name() })

	out := make([]LevelInfo, 0, len(levels))
	for _, l := range levels {
		x, y, z := l.Size()
		out = append(out, LevelInfo{
			Name:     l.Name(),
			SizeX:    x,
			SizeY:    y,
			SizeZ:    z,
			Players:  len(s.playersIn(l)),
			Entities: len(l.Entities()),
			Weather:  l.Weather().String(),
			Textures: l.Textures(),
			Dirty:    l.Dirty(),
		})
	}
	return out
}

// CreateLevel generates a flat level, stores it and makes it available.
func (s *Server) CreateLevel(name string, sizeX, sizeY, sizeZ int) (*world.Level, error) {
	if !levelNamePattern.MatchString(name) ||
		sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 ||
		sizeX > MaxLevelDimension || sizeY > MaxLevelDimension || sizeZ > MaxLevelDimension ||
		sizeX*sizeY*sizeZ > world.MaxVolume {
		return nil, ErrInvalidLevel
	}

	s.mu.Lock()
	if _, ok := s.levels[name]; ok || s.store.Exists(name) {
		s.mu.Unlock()
		return nil, ErrLevelExists
	}
	l := world.NewLevel(name, sizeX, sizeY, sizeZ)
	s.levels[name] = l
	s.mu.Unlock()

	gen := world.DefaultFlatGenerator(sizeY)
	gen.Generate(l)
	if err := s.saveLevel(l); err != nil {
		s.logger.Error().Err(err).Str("level", name).Msg("Failed to save new level")
	}

	s.logger.Info().Str("level", name).Str("generator", gen.Name()).
		Int("x", sizeX).Int("y", sizeY).Int("z", sizeZ).Msg("Level created")
	s.emit(events.EventLevelCreated, events.LevelPayload{Name: name, SizeX: sizeX, SizeY: sizeY, SizeZ: sizeZ})
	return l, nil
}

func (s *Server) saveLevel(l *world.Level) error {
	rec := l.Record()
	if err := s.store.Save(rec); err != nil {
		return err
	}
	if !l.MarkSaved(rec.Revision) {
		s.logger.Debug().Str("level", l.Name()).Msg("Level changed while saving, still dirty")
	}
	s.emit(events.EventLevelSaved, events.LevelPayload{Name: l.Name()})
	return nil
}

// SaveLevels writes every dirty level, or every level when force is set.
// It returns the number of levels written.
func (s *Server) SaveLevels(force bool) int {
	saved := 0
	for _, l := range s.loadedLevels() {
		if !force && !l.Dirty() {
			continue
		}
		if err := s.saveLevel(l); err != nil {
			s.logger.Error().Err(err).Str("level", l.Name()).Msg("Failed to save level")
			continue
		}
		saved++
	}
	return saved
}

// autosave saves dirty levels in the background. Only one save runs at a
// time.
func (s *Server) autosave() {
	if !s.saving.CompareAndSwap(false, true) {
		return
	}
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		defer s.saving.Store(false)
		if n := s.SaveLevels(false); n > 0 {
			s.logger.Info().Int("levels", n).Msg("Autosave complete")
		}
	}()
}

// SendPlayerToLevel moves a logged in player into the named level.
func (s *Server) SendPlayerToLevel(p *Player, name string) error {
	l, ok := s.Level(name)
	if !ok {
		return ErrNoSuchLevel
	}
	if p.Level() == l {
		return ErrAlreadyInLevel
	}
	return p.sendToLevel(l)
}
