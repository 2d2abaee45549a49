package replay

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gridline-data/gridline.replay/internal/framecache"
	"github.com/gridline-data/gridline.replay/internal/telemetry"
)

// Round is one event of a season as reported by the upstream source.
type Round struct {
	Round int    `json:"round_number"`
	Name  string `json:"event_name"`
}

// Upstream is the data provider the manager loads sessions from.
type Upstream interface {
	// Rounds lists the season's events in calendar order.
	Rounds(ctx context.Context, year int) ([]Round, error)

	// Sprints lists the subset of rounds run with a sprint format.
	Sprints(ctx context.Context, year int) ([]Round, error)

	// RaceSource returns the telemetry source for a race ("R") or sprint
	// ("S") session.
	RaceSource(year, round int, kind string) telemetry.SessionSource

	// QualiSource returns the telemetry source for a qualifying ("Q") or
	// sprint-qualifying ("SQ") session.
	QualiSource(year, round int, kind string) telemetry.QualiSource
}

// IsQualiKind reports whether the session kind is served as a qualifying
// catalog rather than a race frame stream.
func IsQualiKind(kind string) bool { return kind == "Q" || kind == "SQ" }

// Manager owns the process-wide session map. Creation requests spawn a
// background loader per session; repeated requests without refresh return
// the existing entry. A refresh cancels the running loader, if any, before
// rebuilding.
type Manager struct {
	up    Upstream
	cache *framecache.Cache
	codec *Codec
	log   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	cancels  map[string]context.CancelFunc
}

// NewManager returns a Manager backed by the given upstream and cache. The
// cache may be nil, in which case every load rebuilds from upstream.
func NewManager(up Upstream, cache *framecache.Cache, log zerolog.Logger) (*Manager, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &Manager{
		up:       up,
		cache:    cache,
		codec:    codec,
		log:      log,
		sessions: make(map[string]*Session),
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// SessionIDs lists the ids of all known sessions.
func (m *Manager) SessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Create returns the session for (year, round, kind), starting a background
// load if it does not exist yet or refresh is set. The returned session may
// still be loading.
func (m *Manager) Create(year, round int, kind string, refresh bool) *Session {
	id := SessionID(year, round, kind)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok && !refresh {
		return s
	}
	if cancel, ok := m.cancels[id]; ok {
		cancel()
	}

	s := newSession(year, round, kind, m.codec)
	ctx, cancel := context.WithCancel(context.Background())
	m.sessions[id] = s
	m.cancels[id] = cancel

	m.log.Info().Str("session", id).Bool("refresh", refresh).Msg("starting session load")
	go m.load(ctx, s, refresh)
	return s
}

// Shutdown cancels every running loader.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.cancels {
		cancel()
	}
}

func (m *Manager) load(ctx context.Context, s *Session, refresh bool) {
	s.setProgress(StateLoading, 0, "Initializing session")

	var err error
	if IsQualiKind(s.Kind) {
		err = m.loadQuali(ctx, s, refresh)
	} else {
		err = m.loadRace(ctx, s, refresh)
	}

	switch {
	case ctx.Err() != nil:
		// Superseded by a refresh; the replacement session reports its own
		// progress.
		m.log.Info().Str("session", s.ID()).Msg("session load cancelled")
	case err != nil:
		m.log.Error().Str("session", s.ID()).Err(err).Msg("session load failed")
		s.setProgress(StateError, 100, err.Error())
	default:
		m.log.Info().Str("session", s.ID()).Int("frames", s.FrameCount()).Msg("session ready")
		s.setProgress(StateReady, 100, "Ready")
	}
}

func (m *Manager) loadRace(ctx context.Context, s *Session, refresh bool) error {
	if !refresh {
		if data := m.cachedRace(ctx, s); data != nil {
			s.setProgress(StateLoading, 60, "Restored frames from cache")
			s.setProgress(StateLoading, 75, "Preparing track geometry")
			return s.install(data, func() {
				s.setProgress(StateLoading, 90, "Pre-serializing frames")
			})
		}
	} else if m.cache != nil {
		if err := m.cache.Delete(ctx, s.Year, s.Round, s.Kind); err != nil {
			m.log.Warn().Err(err).Str("session", s.ID()).Msg("cache invalidation failed")
		}
	}

	s.setProgress(StateLoading, 10, "Fetching telemetry")
	src := m.up.RaceSource(s.Year, s.Round, s.Kind)
	data, err := telemetry.BuildRace(ctx, src, telemetry.BuildOptions{
		Progress: func(p float64) {
			s.setProgress(StateLoading, 10+50*p, "Generating frames")
		},
	})
	if err != nil {
		return err
	}
	s.setProgress(StateLoading, 60, "Frames generated")

	if m.cache != nil {
		if err := m.cache.Save(ctx, s.Year, s.Round, s.Kind, &framecache.Entry{Race: data}); err != nil {
			m.log.Warn().Err(err).Str("session", s.ID()).Msg("cache save failed")
		}
	}

	s.setProgress(StateLoading, 75, "Preparing track geometry")
	return s.install(data, func() {
		s.setProgress(StateLoading, 90, "Pre-serializing frames")
	})
}

func (m *Manager) loadQuali(ctx context.Context, s *Session, refresh bool) error {
	if !refresh {
		if catalog := m.cachedQuali(ctx, s); catalog != nil {
			s.setProgress(StateLoading, 60, "Restored catalog from cache")
			s.installQuali(catalog)
			return nil
		}
	} else if m.cache != nil {
		if err := m.cache.Delete(ctx, s.Year, s.Round, s.Kind); err != nil {
			m.log.Warn().Err(err).Str("session", s.ID()).Msg("cache invalidation failed")
		}
	}

	s.setProgress(StateLoading, 10, "Fetching qualifying telemetry")
	src := m.up.QualiSource(s.Year, s.Round, s.Kind)
	catalog, err := telemetry.BuildQuali(ctx, src, telemetry.BuildOptions{
		Progress: func(p float64) {
			s.setProgress(StateLoading, 10+50*p, "Extracting fastest laps")
		},
	})
	if err != nil {
		return err
	}
	s.setProgress(StateLoading, 60, "Catalog generated")

	if m.cache != nil {
		if err := m.cache.Save(ctx, s.Year, s.Round, s.Kind, &framecache.Entry{Quali: catalog}); err != nil {
			m.log.Warn().Err(err).Str("session", s.ID()).Msg("cache save failed")
		}
	}
	s.installQuali(catalog)
	return nil
}

func (m *Manager) cachedRace(ctx context.Context, s *Session) *telemetry.RaceData {
	if m.cache == nil {
		return nil
	}
	entry, err := m.cache.Load(ctx, s.Year, s.Round, s.Kind)
	if err != nil {
		if !errors.Is(err, framecache.ErrMiss) {
			m.log.Warn().Err(err).Str("session", s.ID()).Msg("cache load failed")
		}
		return nil
	}
	return entry.Race
}

func (m *Manager) cachedQuali(ctx context.Context, s *Session) *telemetry.QualiCatalog {
	if m.cache == nil {
		return nil
	}
	entry, err := m.cache.Load(ctx, s.Year, s.Round, s.Kind)
	if err != nil {
		if !errors.Is(err, framecache.ErrMiss) {
			m.log.Warn().Err(err).Str("session", s.ID()).Msg("cache load failed")
		}
		return nil
	}
	return entry.Quali
}
