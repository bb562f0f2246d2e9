package lecture

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"dronelab/internal/metrics"
	"dronelab/pkg/interfaces"
	"dronelab/pkg/types"
)

const (
	minCode = 10000
	maxCode = 99999
)

// Manager is the registry of lecture records. It keeps active lectures in
// memory so join and action paths can check liveness without a query.
type Manager struct {
	store          interfaces.LectureStore
	activeLectures map[string]*types.Lecture // code -> Lecture
	attempts       int
	newCode        func() string
	mu             sync.RWMutex

	gates   map[string]*sync.RWMutex // code -> lecture gate, never removed
	gatesMu sync.Mutex
}

// NewManager creates a new lecture manager. attempts bounds how many random
// codes Create tries before giving up.
func NewManager(store interfaces.LectureStore, attempts int) *Manager {
	if attempts <= 0 {
		attempts = 1
	}
	return &Manager{
		store:          store,
		activeLectures: make(map[string]*types.Lecture),
		attempts:       attempts,
		newCode:        randomCode,
		gates:          make(map[string]*sync.RWMutex),
	}
}

func randomCode() string {
	return strconv.Itoa(minCode + rand.Intn(maxCode-minCode+1))
}

func (m *Manager) gate(code string) *sync.RWMutex {
	m.gatesMu.Lock()
	defer m.gatesMu.Unlock()

	g, ok := m.gates[code]
	if !ok {
		g = &sync.RWMutex{}
		m.gates[code] = g
	}
	return g
}

// Enter holds the lecture's gate shared while the lecture is active. Any
// number of actions may be inside at once; Exclusive waits for all of them.
// ok is false, and nothing is held, when the lecture is not active.
func (m *Manager) Enter(code string) (release func(), ok bool) {
	// unknown codes never get a gate
	if !m.IsActive(code) {
		return nil, false
	}
	g := m.gate(code)
	g.RLock()
	if !m.IsActive(code) {
		g.RUnlock()
		return nil, false
	}
	return g.RUnlock, true
}

// Exclusive holds the lecture's gate alone until release is called.
func (m *Manager) Exclusive(code string) (release func()) {
	g := m.gate(code)
	g.Lock()
	return g.Unlock
}

// LoadActiveLectures loads all active lectures from the store into memory
func (m *Manager) LoadActiveLectures(ctx context.Context) error {
	lectures, err := m.store.ListActiveLectures(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active lectures: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.activeLectures = make(map[string]*types.Lecture, len(lectures))
	for _, l := range lectures {
		m.activeLectures[l.Code] = l
	}
	metrics.LecturesActive.Set(float64(len(m.activeLectures)))

	log.Info().Str("module", "lecture").Int("count", len(lectures)).Msg("loaded active lectures")
	return nil
}

// GenerateCode returns a random five digit code that no active lecture uses
// right now. The code is not reserved; Create re-checks on insert.
func (m *Manager) GenerateCode() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := 0; i < m.attempts; i++ {
		code := m.newCode()
		if _, taken := m.activeLectures[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// Create starts a new lecture for the instructor under a fresh code.
func (m *Manager) Create(ctx context.Context, instructorID string) (*types.Lecture, error) {
	if !types.IsValidUserID(instructorID) {
		return nil, ErrInvalidInstructorID
	}

	for i := 0; i < m.attempts; i++ {
		code, err := m.GenerateCode()
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		lecture := &types.Lecture{
			Code:         code,
			InstructorID: instructorID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		err = m.store.CreateLecture(ctx, lecture)
		if errors.Is(err, interfaces.ErrCodeInUse) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create lecture: %w", err)
		}

		m.mu.Lock()
		m.activeLectures[code] = lecture
		metrics.LecturesActive.Set(float64(len(m.activeLectures)))
		m.mu.Unlock()

		log.Info().Str("module", "lecture").Str("lecture", code).Str("instructor", instructorID).Msg("lecture created")
		return lecture, nil
	}
	return nil, ErrCodeSpaceExhausted
}

// Get returns the lecture for a code, active or ended.
func (m *Manager) Get(ctx context.Context, code string) (*types.Lecture, error) {
	if !types.IsValidLectureCode(code) {
		return nil, ErrInvalidCode
	}

	m.mu.RLock()
	if l, ok := m.activeLectures[code]; ok {
		m.mu.RUnlock()
		return l, nil
	}
	m.mu.RUnlock()

	l, err := m.store.GetLectureByCode(ctx, code)
	if errors.Is(err, interfaces.ErrLectureNotFound) {
		return nil, ErrLectureNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// GetActive is Get restricted to live lectures.
func (m *Manager) GetActive(ctx context.Context, code string) (*types.Lecture, error) {
	l, err := m.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !l.Active {
		return nil, ErrLectureEnded
	}
	return l, nil
}

// IsActive checks if a lecture is active (cache-only check)
func (m *Manager) IsActive(code string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.activeLectures[code]
	return ok
}

// Deactivate marks the lecture ended. It removes the code from the cache
// before persisting so new joins are refused immediately. Deactivating an
// unknown or ended lecture is a no-op.
func (m *Manager) Deactivate(ctx context.Context, code string) error {
	m.mu.Lock()
	l, ok := m.activeLectures[code]
	delete(m.activeLectures, code)
	metrics.LecturesActive.Set(float64(len(m.activeLectures)))
	m.mu.Unlock()

	if err := m.store.DeactivateLecture(ctx, code, time.Now().UTC()); err != nil {
		if ok {
			m.mu.Lock()
			m.activeLectures[code] = l
			metrics.LecturesActive.Set(float64(len(m.activeLectures)))
			m.mu.Unlock()
		}
		return fmt.Errorf("failed to end lecture: %w", err)
	}

	if ok {
		log.Info().Str("module", "lecture").Str("lecture", code).Msg("lecture ended")
	}
	return nil
}

// ListActive returns active lectures ordered by code.
func (m *Manager) ListActive() []*types.Lecture {
	m.mu.RLock()
	lectures := make([]*types.Lecture, 0, len(m.activeLectures))
	for _, l := range m.activeLectures {
		lectures = append(lectures, l)
	}
	m.mu.RUnlock()

	sort.Slice(lectures, func(i, j int) bool { return lectures[i].Code < lectures[j].Code })
	return lectures
}

// GetStats returns lecture manager statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"active_lectures": len(m.activeLectures),
	}
}
