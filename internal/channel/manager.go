package channel

import (
	"sync"

	"github.com/rs/zerolog/log"

	"dronelab/internal/metrics"
	"dronelab/pkg/interfaces"
	"dronelab/pkg/types"
)

// Binding is the business identity a connection is bound under.
// StudentID is empty for supervisors.
type Binding struct {
	Lecture   string
	Role      string
	StudentID string
}

type boundConn struct {
	conn     interfaces.Connection
	binding  Binding
	channels []string
}

// Manager maps connections to lecture channels. It keeps the transport
// identity (connection id) apart from the business identity (lecture and
// student id) with an index in each direction.
type Manager struct {
	channels     map[string]map[string]interfaces.Connection // channel -> connID -> conn
	bindings     map[string]*boundConn                       // connID -> binding
	participants map[string]string                           // lecture/student -> connID
	mu           sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		channels:     make(map[string]map[string]interfaces.Connection),
		bindings:     make(map[string]*boundConn),
		participants: make(map[string]string),
	}
}

func participantKey(lecture, studentID string) string {
	return lecture + "/" + studentID
}

// JoinAsParticipant binds conn to the session, students and private
// channels. Joining again under the same identity is a no-op and a
// connection bound to another identity is refused. If another connection
// holds the identity it is unbound and closed.
func (m *Manager) JoinAsParticipant(lecture, studentID string, conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if lecture == "" || studentID == "" {
		return ErrEmptyIdentity
	}
	if conn.Role() != types.RoleStudent {
		return ErrWrongRole
	}

	want := Binding{Lecture: lecture, Role: types.RoleStudent, StudentID: studentID}
	key := participantKey(lecture, studentID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.bindings[conn.ID()]; ok {
		if current.binding == want {
			return nil
		}
		return ErrAlreadyBound
	}

	if oldID, ok := m.participants[key]; ok && oldID != conn.ID() {
		if old, ok := m.bindings[oldID]; ok {
			m.unbindLocked(oldID)
			log.Info().Str("module", "channel").Str("lecture", lecture).Str("student", studentID).Str("conn", oldID).Msg("replacing participant connection")
			go func(c interfaces.Connection) {
				if err := c.Close(); err != nil {
					log.Debug().Str("module", "channel").Err(err).Msg("failed to close replaced connection")
				}
			}(old.conn)
		}
	}

	m.bindLocked(conn, want, Session(lecture), Students(lecture), Private(lecture, studentID))
	m.participants[key] = conn.ID()
	return nil
}

// JoinAsSupervisor binds conn to the session and instructor channels.
func (m *Manager) JoinAsSupervisor(lecture string, conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if lecture == "" {
		return ErrEmptyIdentity
	}
	if conn.Role() != types.RoleInstructor {
		return ErrWrongRole
	}

	want := Binding{Lecture: lecture, Role: types.RoleInstructor}

	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.bindings[conn.ID()]; ok {
		if current.binding == want {
			return nil
		}
		return ErrAlreadyBound
	}

	m.bindLocked(conn, want, Session(lecture), Instructor(lecture))
	return nil
}

// Leave unbinds conn if it is bound to that identity. It reports whether
// anything was unbound; calling it on an unbound connection is a no-op.
func (m *Manager) Leave(lecture, studentID string, conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.bindings[conn.ID()]
	if !ok || current.binding.Lecture != lecture || current.binding.StudentID != studentID {
		return false
	}
	m.unbindLocked(conn.ID())
	return true
}

// Disconnect drops every binding held by conn and returns what it was
// bound as.
func (m *Manager) Disconnect(conn interfaces.Connection) (Binding, bool) {
	if conn == nil {
		return Binding{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.bindings[conn.ID()]
	if !ok {
		return Binding{}, false
	}
	b := current.binding
	m.unbindLocked(conn.ID())
	return b, true
}

// EvictSession removes every connection bound to the lecture from all its
// channels and returns how many were removed. Connections stay open.
func (m *Manager) EvictSession(lecture string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, bc := range m.bindings {
		if bc.binding.Lecture == lecture {
			m.unbindLocked(id)
			evicted++
		}
	}
	if evicted > 0 {
		log.Info().Str("module", "channel").Str("lecture", lecture).Int("connections", evicted).Msg("evicted lecture connections")
	}
	return evicted
}

// Binding returns the identity conn is bound as.
func (m *Manager) Binding(conn interfaces.Connection) (Binding, bool) {
	if conn == nil {
		return Binding{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	bc, ok := m.bindings[conn.ID()]
	if !ok {
		return Binding{}, false
	}
	return bc.binding, true
}

// ConnectedParticipants returns the student ids with a bound socket.
func (m *Manager) ConnectedParticipants(lecture string) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connected := make(map[string]bool)
	for _, bc := range m.bindings {
		if bc.binding.Lecture == lecture && bc.binding.Role == types.RoleStudent {
			connected[bc.binding.StudentID] = true
		}
	}
	return connected
}

// Members returns how many connections are bound to a channel.
func (m *Manager) Members(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels[channel])
}

// Broadcast marshals the payload once and hands the frame to every
// connection on the channel. Sends never block; a connection whose queue is
// full or closed misses the frame. It returns the number of connections the
// frame was queued for.
func (m *Manager) Broadcast(channel, event string, payload interface{}) int {
	frame, err := types.NewFrame(event, payload)
	if err != nil {
		log.Error().Str("module", "channel").Str("event", event).Err(err).Msg("failed to encode broadcast")
		return 0
	}
	return m.BroadcastFrame(channel, frame)
}

// BroadcastFrame is Broadcast for an already encoded frame.
func (m *Manager) BroadcastFrame(channel string, frame []byte) int {
	m.mu.RLock()
	members := make([]interfaces.Connection, 0, len(m.channels[channel]))
	for _, c := range m.channels[channel] {
		members = append(members, c)
	}
	m.mu.RUnlock()

	metrics.Broadcasts.WithLabelValues(kindOf(channel)).Inc()

	delivered := 0
	for _, c := range members {
		if err := c.Send(frame); err != nil {
			metrics.FramesDropped.Inc()
			log.Debug().Str("module", "channel").Str("channel", channel).Str("conn", c.ID()).Err(err).Msg("dropped frame")
			continue
		}
		delivered++
	}
	return delivered
}

// GetStats returns binding statistics for the health endpoint.
func (m *Manager) GetStats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lectures := make(map[string]bool)
	stats := map[string]int{"channels": len(m.channels), "students": 0, "instructors": 0}
	for _, bc := range m.bindings {
		lectures[bc.binding.Lecture] = true
		if bc.binding.Role == types.RoleStudent {
			stats["students"]++
		} else {
			stats["instructors"]++
		}
	}
	stats["lectures"] = len(lectures)
	return stats
}

func (m *Manager) bindLocked(conn interfaces.Connection, b Binding, channels ...string) {
	for _, ch := range channels {
		members, ok := m.channels[ch]
		if !ok {
			members = make(map[string]interfaces.Connection)
			m.channels[ch] = members
		}
		members[conn.ID()] = conn
	}
	m.bindings[conn.ID()] = &boundConn{conn: conn, binding: b, channels: channels}
}

func (m *Manager) unbindLocked(connID string) {
	bc, ok := m.bindings[connID]
	if !ok {
		return
	}
	for _, ch := range bc.channels {
		if members, ok := m.channels[ch]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(m.channels, ch)
			}
		}
	}
	if bc.binding.Role == types.RoleStudent {
		key := participantKey(bc.binding.Lecture, bc.binding.StudentID)
		if m.participants[key] == connID {
			delete(m.participants, key)
		}
	}
	delete(m.bindings, connID)
}
