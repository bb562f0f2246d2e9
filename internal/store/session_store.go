package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"dronelab/internal/metrics"
	"dronelab/pkg/types"
)

// Per-lecture hashes. Each concern lives in its own hash keyed by student id.
const (
	hashPresence    = "students"
	hashCode        = "codes"
	hashDroneStatus = "droneStatus"
	hashCodeActive  = "codeActive"
	hashDroneActive = "droneActive"
)

// Key returns the hash key for one concern of a lecture.
func Key(lecture, concern string) string {
	return "lecture:" + lecture + ":" + concern
}

// Keys returns every hash key held for a lecture.
func Keys(lecture string) []string {
	return []string{
		Key(lecture, hashPresence),
		Key(lecture, hashCode),
		Key(lecture, hashDroneStatus),
		Key(lecture, hashCodeActive),
		Key(lecture, hashDroneActive),
	}
}

// SessionStore is the typed view of participant state over a HashStore.
// It is the only source of truth for participant fields.
type SessionStore struct {
	hashes  HashStore
	timeout time.Duration
}

func NewSessionStore(hashes HashStore, timeout time.Duration) *SessionStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SessionStore{hashes: hashes, timeout: timeout}
}

func (s *SessionStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *SessionStore) fail(op string, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	log.Error().Str("module", "store").Str("operation", op).Err(err).Msg("session store operation failed")
	return fmt.Errorf("failed to %s: %w", op, err)
}

// RegisterParticipant records presence under name and seeds the code text
// with template if the participant never had any. Existing code and flags
// are left alone so a reconnect resumes where it left off.
func (s *SessionStore) RegisterParticipant(ctx context.Context, lecture, studentID, name, template string) (*types.Participant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.hashes.SetField(ctx, Key(lecture, hashPresence), studentID, name); err != nil {
		return nil, s.fail("register presence", err)
	}
	if _, err := s.hashes.SetFieldIfAbsent(ctx, Key(lecture, hashCode), studentID, template); err != nil {
		return nil, s.fail("seed code", err)
	}
	return s.participant(ctx, lecture, studentID)
}

// RemovePresence drops the participant from the roster. Code, status and
// flags stay keyed by the student id.
func (s *SessionStore) RemovePresence(ctx context.Context, lecture, studentID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.hashes.DeleteField(ctx, Key(lecture, hashPresence), studentID); err != nil {
		return s.fail("remove presence", err)
	}
	return nil
}

func (s *SessionStore) SaveCode(ctx context.Context, lecture, studentID, code string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.hashes.SetField(ctx, Key(lecture, hashCode), studentID, code); err != nil {
		return s.fail("save code", err)
	}
	return nil
}

func (s *SessionStore) SaveDroneStatus(ctx context.Context, lecture, studentID, status string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.hashes.SetField(ctx, Key(lecture, hashDroneStatus), studentID, status); err != nil {
		return s.fail("save drone status", err)
	}
	return nil
}

// CodeActive reports the code editing flag. A flag that was never written
// reads as true.
func (s *SessionStore) CodeActive(ctx context.Context, lecture, studentID string) (bool, error) {
	return s.flag(ctx, hashCodeActive, lecture, studentID)
}

// DroneActive reports the drone control flag. A flag that was never written
// reads as true.
func (s *SessionStore) DroneActive(ctx context.Context, lecture, studentID string) (bool, error) {
	return s.flag(ctx, hashDroneActive, lecture, studentID)
}

func (s *SessionStore) flag(ctx context.Context, concern, lecture, studentID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	v, ok, err := s.hashes.GetField(ctx, Key(lecture, concern), studentID)
	if err != nil {
		return false, s.fail("read "+concern, err)
	}
	return parseFlag(v, ok), nil
}

func (s *SessionStore) SetCodeActive(ctx context.Context, lecture, studentID string, active bool) error {
	return s.setFlag(ctx, hashCodeActive, lecture, studentID, active)
}

func (s *SessionStore) SetDroneActive(ctx context.Context, lecture, studentID string, active bool) error {
	return s.setFlag(ctx, hashDroneActive, lecture, studentID, active)
}

func (s *SessionStore) setFlag(ctx context.Context, concern, lecture, studentID string, active bool) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.hashes.SetField(ctx, Key(lecture, concern), studentID, strconv.FormatBool(active)); err != nil {
		return s.fail("write "+concern, err)
	}
	return nil
}

// SetAllCodeActive writes the code flag for every known participant in one
// batched write and returns how many were written.
func (s *SessionStore) SetAllCodeActive(ctx context.Context, lecture string, active bool) (int, error) {
	return s.setAllFlags(ctx, hashCodeActive, lecture, active)
}

// SetAllDroneActive is SetAllCodeActive for the drone flag.
func (s *SessionStore) SetAllDroneActive(ctx context.Context, lecture string, active bool) (int, error) {
	return s.setAllFlags(ctx, hashDroneActive, lecture, active)
}

// setAllFlags targets every student that is present or has code on record,
// so participants who left keep the class-wide setting if they return.
func (s *SessionStore) setAllFlags(ctx context.Context, concern, lecture string, active bool) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	presence, err := s.hashes.GetAllFields(ctx, Key(lecture, hashPresence))
	if err != nil {
		return 0, s.fail("list participants", err)
	}
	codes, err := s.hashes.GetAllFields(ctx, Key(lecture, hashCode))
	if err != nil {
		return 0, s.fail("list participants", err)
	}

	value := strconv.FormatBool(active)
	fields := make(map[string]string, len(presence)+len(codes))
	for id := range presence {
		fields[id] = value
	}
	for id := range codes {
		fields[id] = value
	}

	if err := s.hashes.SetFields(ctx, Key(lecture, concern), fields); err != nil {
		return 0, s.fail("write all "+concern, err)
	}
	return len(fields), nil
}

// Participant loads one participant's fields. It returns
// ErrParticipantUnknown when the id has no presence and no code on record.
func (s *SessionStore) Participant(ctx context.Context, lecture, studentID string) (*types.Participant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.participant(ctx, lecture, studentID)
}

func (s *SessionStore) participant(ctx context.Context, lecture, studentID string) (*types.Participant, error) {
	p := &types.Participant{StudentID: studentID}

	name, present, err := s.hashes.GetField(ctx, Key(lecture, hashPresence), studentID)
	if err != nil {
		return nil, s.fail("read presence", err)
	}
	code, hasCode, err := s.hashes.GetField(ctx, Key(lecture, hashCode), studentID)
	if err != nil {
		return nil, s.fail("read code", err)
	}
	if !present && !hasCode {
		return nil, ErrParticipantUnknown
	}
	status, hasStatus, err := s.hashes.GetField(ctx, Key(lecture, hashDroneStatus), studentID)
	if err != nil {
		return nil, s.fail("read drone status", err)
	}
	codeFlag, hasCodeFlag, err := s.hashes.GetField(ctx, Key(lecture, hashCodeActive), studentID)
	if err != nil {
		return nil, s.fail("read code flag", err)
	}
	droneFlag, hasDroneFlag, err := s.hashes.GetField(ctx, Key(lecture, hashDroneActive), studentID)
	if err != nil {
		return nil, s.fail("read drone flag", err)
	}

	p.Name = name
	p.Code = code
	p.DroneStatus = types.DefaultDroneStatus
	if hasStatus {
		p.DroneStatus = status
	}
	p.CodeActive = parseFlag(codeFlag, hasCodeFlag)
	p.DroneActive = parseFlag(droneFlag, hasDroneFlag)
	return p, nil
}

// Roster joins the five hashes into one entry per present participant,
// ordered by name then id. connected marks which students have a live socket.
func (s *SessionStore) Roster(ctx context.Context, lecture string, connected map[string]bool) ([]types.RosterEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	concerns := []string{hashPresence, hashCode, hashDroneStatus, hashCodeActive, hashDroneActive}
	all := make(map[string]map[string]string, len(concerns))
	for _, c := range concerns {
		fields, err := s.hashes.GetAllFields(ctx, Key(lecture, c))
		if err != nil {
			return nil, s.fail("read roster", err)
		}
		all[c] = fields
	}

	roster := make([]types.RosterEntry, 0, len(all[hashPresence]))
	for id, name := range all[hashPresence] {
		status, ok := all[hashDroneStatus][id]
		if !ok {
			status = types.DefaultDroneStatus
		}
		codeFlag, hasCodeFlag := all[hashCodeActive][id]
		droneFlag, hasDroneFlag := all[hashDroneActive][id]

		roster = append(roster, types.RosterEntry{
			Participant: types.Participant{
				StudentID:   id,
				Name:        name,
				Code:        all[hashCode][id],
				DroneStatus: status,
				CodeActive:  parseFlag(codeFlag, hasCodeFlag),
				DroneActive: parseFlag(droneFlag, hasDroneFlag),
			},
			IsConnected: connected[id],
		})
	}

	sort.Slice(roster, func(i, j int) bool {
		if roster[i].Name != roster[j].Name {
			return roster[i].Name < roster[j].Name
		}
		return roster[i].StudentID < roster[j].StudentID
	})
	return roster, nil
}

// NameTaken reports whether another present participant uses name.
func (s *SessionStore) NameTaken(ctx context.Context, lecture, studentID, name string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	presence, err := s.hashes.GetAllFields(ctx, Key(lecture, hashPresence))
	if err != nil {
		return false, s.fail("read presence", err)
	}
	for id, n := range presence {
		if id != studentID && n == name {
			return true, nil
		}
	}
	return false, nil
}

// Purge deletes every hash held for the lecture.
func (s *SessionStore) Purge(ctx context.Context, lecture string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.hashes.DeleteHash(ctx, Keys(lecture)...); err != nil {
		return s.fail("purge lecture", err)
	}
	log.Info().Str("module", "store").Str("lecture", lecture).Msg("lecture state purged")
	return nil
}

func (s *SessionStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.hashes.Ping(ctx)
}

// parseFlag treats a missing or unreadable flag as enabled.
func parseFlag(v string, ok bool) bool {
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}
