package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronelab/internal/channel"
	"dronelab/internal/events"
	"dronelab/internal/lecture"
	"dronelab/internal/store"
	"dronelab/internal/testutil"
	"dronelab/pkg/types"
)

const template = "# template"

type fakeLectures struct {
	active map[string]*types.Lecture
	mu     sync.Mutex
	gate   sync.RWMutex
}

func (f *fakeLectures) GetActive(_ context.Context, code string) (*types.Lecture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.active[code]; ok {
		return l, nil
	}
	return nil, lecture.ErrLectureNotFound
}

func (f *fakeLectures) IsActive(code string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[code]
	return ok
}

func (f *fakeLectures) Enter(code string) (func(), bool) {
	f.gate.RLock()
	if !f.IsActive(code) {
		f.gate.RUnlock()
		return nil, false
	}
	return f.gate.RUnlock, true
}

func (f *fakeLectures) end(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, code)
}

// endWith ends the lecture the way the lifecycle controller does: it waits
// for actions inside the lecture to finish, then runs cleanup.
func (f *fakeLectures) endWith(code string, cleanup func()) {
	f.gate.Lock()
	defer f.gate.Unlock()
	f.end(code)
	cleanup()
}

type call struct {
	channel string
	event   string
}

// recorder counts broadcasts on their way to the channel manager.
type recorder struct {
	inner Broadcaster
	calls []call
	mu    sync.Mutex
}

func (r *recorder) Broadcast(ch, event string, payload interface{}) int {
	r.mu.Lock()
	r.calls = append(r.calls, call{ch, event})
	r.mu.Unlock()
	return r.inner.Broadcast(ch, event, payload)
}

func (r *recorder) count(ch, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.channel == ch && c.event == event {
			n++
		}
	}
	return n
}

func (r *recorder) countEvent(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.event == event {
			n++
		}
	}
	return n
}

type harness struct {
	lectures   *fakeLectures
	hashes     *store.MemoryHashStore
	store      *store.SessionStore
	channels   *channel.Manager
	out        *recorder
	dispatcher *Dispatcher
}

// faults swaps layers of the harness for failing or instrumented ones.
type faults struct {
	hashes func(store.HashStore) store.HashStore
	store  func(*store.SessionStore) Store
}

func newHarness(t *testing.T, requireOwner bool, perMinute int) *harness {
	return newHarnessWith(t, requireOwner, perMinute, faults{})
}

func newHarnessWith(t *testing.T, requireOwner bool, perMinute int, f faults) *harness {
	t.Helper()

	h := &harness{
		lectures: &fakeLectures{active: map[string]*types.Lecture{
			"00000": {Code: "00000", InstructorID: "inst-1", Active: true},
		}},
		hashes:   store.NewMemoryHashStore(),
		channels: channel.NewManager(),
	}
	var hashes store.HashStore = h.hashes
	if f.hashes != nil {
		hashes = f.hashes(hashes)
	}
	h.store = store.NewSessionStore(hashes, time.Second)
	var st Store = h.store
	if f.store != nil {
		st = f.store(h.store)
	}
	h.out = &recorder{inner: h.channels}

	bus := events.NewBus(100)
	require.NoError(t, NewNotifier(h.out).Register(bus))
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop() })

	participants := NewParticipantGateway(h.lectures, st, h.channels, bus, template)
	supervisors := NewSupervisorGateway(h.lectures, st, h.channels, bus, requireOwner)
	h.dispatcher = NewDispatcher(participants, supervisors, NewRateLimiter(perMinute))
	return h
}

func (h *harness) send(t *testing.T, conn *testutil.FakeConn, event string, data interface{}) {
	t.Helper()
	frame, err := types.NewFrame(event, data)
	require.NoError(t, err)
	h.dispatcher.HandleFrame(context.Background(), conn, frame)
}

func (h *harness) joinStudent(t *testing.T, id, name string) *testutil.FakeConn {
	t.Helper()
	conn := testutil.NewFakeConn(types.RoleStudent)
	h.send(t, conn, types.EventJoinLecture, types.JoinRequest{SessionID: "00000", ParticipantID: id, Name: name})
	ack := testutil.Decode[types.JoinSuccess](t, conn, types.AckJoinSuccess)
	require.True(t, ack.Success, ack.Message)
	return conn
}

func (h *harness) joinInstructor(t *testing.T) *testutil.FakeConn {
	t.Helper()
	conn := testutil.NewFakeConn(types.RoleInstructor).WithPrincipal("inst-1")
	h.send(t, conn, types.EventJoinLecture, types.JoinRequest{SessionID: "00000"})
	ack := testutil.Decode[types.JoinResponse](t, conn, types.AckJoinResponse)
	require.True(t, ack.Success, ack.Message)
	return conn
}

func ackOf(t *testing.T, conn *testutil.FakeConn, event string) types.Ack {
	t.Helper()
	return testutil.Decode[types.Ack](t, conn, event)
}

func waitFor(t *testing.T, conn *testutil.FakeConn, event string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return conn.Count(event) >= n }, time.Second, 5*time.Millisecond,
		"waiting for %d %q frames, got %v", n, event, conn.Events())
}

func TestJoin_ReturnsSnapshotAndIsIdempotent(t *testing.T) {
	h := newHarness(t, false, 1000)
	conn := testutil.NewFakeConn(types.RoleStudent)
	req := types.JoinRequest{SessionID: "00000", ParticipantID: "p1", Name: "Alice"}

	h.send(t, conn, types.EventJoinLecture, req)
	first := testutil.Decode[types.JoinSuccess](t, conn, types.AckJoinSuccess)
	h.send(t, conn, types.EventJoinLecture, req)
	second := testutil.Decode[types.JoinSuccess](t, conn, types.AckJoinSuccess)

	assert.True(t, first.Success)
	assert.Equal(t, template, first.Code)
	assert.True(t, first.CodeActive)
	assert.True(t, first.DroneActive)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.channels.Members(channel.Private("00000", "p1")))
	assert.Equal(t, 1, h.channels.Members(channel.Session("00000")))
}

func TestJoin_NotifiesSupervisorsWithFullRoster(t *testing.T) {
	h := newHarness(t, false, 1000)
	inst := h.joinInstructor(t)
	h.joinStudent(t, "p1", "Alice")
	h.joinStudent(t, "p2", "Bob")

	waitFor(t, inst, types.EventStudentJoined, 2)
	notice := testutil.Decode[types.RosterNotice](t, inst, types.EventStudentJoined)
	assert.Equal(t, "p2", notice.StudentID)
	require.Len(t, notice.Students, 2)
	assert.Equal(t, "Alice", notice.Students[0].Name)
	assert.True(t, notice.Students[0].IsConnected)
	assert.Equal(t, types.DefaultDroneStatus, notice.Students[1].DroneStatus)
}

func TestJoin_Failures(t *testing.T) {
	h := newHarness(t, false, 1000)
	h.joinStudent(t, "p1", "Alice")

	tests := []struct {
		name   string
		req    types.JoinRequest
		reason string
	}{
		{"unknown lecture", types.JoinRequest{SessionID: "99999", ParticipantID: "p2", Name: "Bob"}, ReasonUnknownSession},
		{"bad participant id", types.JoinRequest{SessionID: "00000", ParticipantID: "p 2", Name: "Bob"}, ReasonInvalidPayload},
		{"blank name", types.JoinRequest{SessionID: "00000", ParticipantID: "p2", Name: "  "}, ReasonInvalidPayload},
		{"name in use", types.JoinRequest{SessionID: "00000", ParticipantID: "p2", Name: "Alice"}, ReasonNameTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := testutil.NewFakeConn(types.RoleStudent)
			h.send(t, conn, types.EventJoinLecture, tt.req)
			ack := ackOf(t, conn, types.AckJoinSuccess)
			assert.False(t, ack.Success)
			assert.Equal(t, tt.reason, ack.Code)
			_, bound := h.channels.Binding(conn)
			assert.False(t, bound)
		})
	}
}

func TestSubmitCode_CapabilityGate(t *testing.T) {
	h := newHarness(t, false, 1000)
	inst := h.joinInstructor(t)
	p1 := h.joinStudent(t, "p1", "Alice")

	h.send(t, inst, types.EventCodeSetActive, types.ActiveRequest{SessionID: "00000", ParticipantID: "p1", Active: false})
	require.True(t, ackOf(t, inst, types.AckCodeActiveSaved).Success)

	h.send(t, p1, types.EventCodeSubmit, types.CodeRequest{SessionID: "00000", ParticipantID: "p1", Code: "drone.takeoff()"})
	ack := ackOf(t, p1, types.AckCodeSaved)
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonCapabilityDenied, ack.Code)

	p, err := h.store.Participant(context.Background(), "00000", "p1")
	require.NoError(t, err)
	assert.Equal(t, template, p.Code)

	// drone control is a separate capability
	h.send(t, p1, types.EventDroneUpdate, types.DroneStatusRequest{Status: "hovering"})
	assert.True(t, ackOf(t, p1, types.AckDroneSaved).Success)
}

func TestDroneUpdate_CapabilityGate(t *testing.T) {
	h := newHarness(t, false, 1000)
	inst := h.joinInstructor(t)
	p1 := h.joinStudent(t, "p1", "Alice")

	h.send(t, inst, types.EventDroneSetActive, types.ActiveRequest{ParticipantID: "p1", Active: false})
	require.True(t, ackOf(t, inst, types.AckDroneActiveSaved).Success)

	h.send(t, p1, types.EventDroneUpdate, types.DroneStatusRequest{SessionID: "00000", ParticipantID: "p1", Status: "flying"})
	ack := ackOf(t, p1, types.AckDroneSaved)
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonCapabilityDenied, ack.Code)

	p, err := h.store.Participant(context.Background(), "00000", "p1")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultDroneStatus, p.DroneStatus)
}

func TestSetActive_ScopedNotification(t *testing.T) {
	h := newHarness(t, false, 1000)
	inst := h.joinInstructor(t)
	p1 := h.joinStudent(t, "p1", "Alice")
	p2 := h.joinStudent(t, "p2", "Bob")
	waitFor(t, inst, types.EventStudentJoined, 2)

	h.send(t, inst, types.EventCodeSetActive, types.ActiveRequest{SessionID: "00000", ParticipantID: "p1", Active: false})

	waitFor(t, inst, types.EventCodeActiveChanged, 1)
	waitFor(t, p1, types.EventCodeActiveChanged, 1)

	roster := testutil.Decode[types.ActiveNotice](t, inst, types.EventCodeActiveChanged)
	require.Len(t, roster.Students, 2)
	assert.False(t, roster.Students[0].CodeActive)
	assert.True(t, roster.Students[1].CodeActive)

	private := testutil.Decode[types.ActiveNotice](t, p1, types.EventCodeActiveChanged)
	assert.Equal(t, "p1", private.StudentID)
	assert.False(t, private.Active)
	assert.Empty(t, private.Students)

	assert.Equal(t, 0, p2.Count(types.EventCodeActiveChanged))
	assert.Equal(t, 0, h.out.count(channel.Private("00000", "p2"), types.EventCodeActiveChanged))
	assert.Equal(t, 0, h.out.count(channel.Students("00000"), types.EventCodeActiveChanged))
}

func TestSetAllActive_SingleBroadcast(t *testing.T) {
	h := newHarness(t, false, 1000)
	inst := h.joinInstructor(t)
	students := []*testutil.FakeConn{
		h.joinStudent(t, "p1", "Alice"),
		h.joinStudent(t, "p2", "Bob"),
		h.joinStudent(t, "p3", "Carol"),
		h.joinStudent(t, "p4", "Dave"),
	}

	h.send(t, inst, types.EventDroneSetAllActive, types.ActiveRequest{SessionID: "00000", Active: false})
	require.True(t, ackOf(t, inst, types.AckDroneActiveSaved).Success)

	waitFor(t, inst, types.EventDroneAllActiveChanged, 1)
	for _, s := range students {
		waitFor(t, s, types.EventDroneAllActiveChanged, 1)
		assert.Equal(t, 1, s.Count(types.EventDroneAllActiveChanged))
	}

	assert.Equal(t, 1, h.out.count(channel.Students("00000"), types.EventDroneAllActiveChanged))
	assert.Equal(t, 1, h.out.count(channel.Instructor("00000"), types.EventDroneAllActiveChanged))
	assert.Equal(t, 2, h.out.countEvent(types.EventDroneAllActiveChanged))

	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		active, err := h.store.DroneActive(context.Background(), "00000", id)
		require.NoError(t, err)
		assert.False(t, active, id)
		codeActive, err := h.store.CodeActive(context.Background(), "00000", id)
		require.NoError(t, err)
		assert.True(t, codeActive, "code flag untouched for %s", id)
	}
}

func TestSetActive_UnknownParticipant(t *testing.T) {
	h := newHarness(t, false, 1000)
	inst := h.joinInstructor(t)

	h.send(t, inst, types.EventCodeSetActive, types.ActiveRequest{ParticipantID: "ghost", Active: false})
	ack := ackOf(t, inst, types.AckCodeActiveSaved)
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonUnknownParticipant, ack.Code)
}

func TestInstructorEdit_OverwritesStudentEditor(t *testing.T) {
	h := newHarness(t, false, 1000)
	inst := h.joinInstructor(t)
	p1 := h.joinStudent(t, "p1", "Alice")
	p2 := h.joinStudent(t, "p2", "Bob")

	// editing ignores the student's own code flag
	h.send(t, inst, types.EventCodeSetActive, types.ActiveRequest{ParticipantID: "p1", Active: false})
	h.send(t, inst, types.EventCodeInstructorEdit, types.CodeRequest{SessionID: "00000", ParticipantID: "p1", Code: "drone.land()"})
	require.True(t, ackOf(t, inst, types.AckInstructorEditSaved).Success)

	waitFor(t, p1, types.EventCodeOverwritten, 1)
	notice := testutil.Decode[types.CodeNotice](t, p1, types.EventCodeOverwritten)
	assert.Equal(t, "drone.land()", notice.Code)

	waitFor(t, inst, types.EventCodeUpdated, 1)
	roster := testutil.Decode[types.RosterNotice](t, inst, types.EventCodeUpdated)
	assert.Equal(t, "drone.land()", roster.Students[0].Code)
	assert.Equal(t, 0, p2.Count(types.EventCodeOverwritten))
}

func TestLeave(t *testing.T) {
	h := newHarness(t, false, 1000)
	inst := h.joinInstructor(t)
	p1 := h.joinStudent(t, "p1", "Alice")

	h.send(t, p1, types.EventLeaveLecture, types.LeaveRequest{SessionID: "00000", ParticipantID: "p1"})
	assert.True(t, ackOf(t, p1, types.AckLeaveResponse).Success)
	_, bound := h.channels.Binding(p1)
	assert.False(t, bound)

	waitFor(t, inst, types.EventStudentLeft, 1)
	notice := testutil.Decode[types.RosterNotice](t, inst, types.EventStudentLeft)
	assert.Empty(t, notice.Students)

	// leaving again is a no-op
	p1.Reset()
	h.send(t, p1, types.EventLeaveLecture, types.LeaveRequest{SessionID: "00000", ParticipantID: "p1"})
	assert.True(t, ackOf(t, p1, types.AckLeaveResponse).Success)

	// the name is free again and the record survives for p1
	h.joinStudent(t, "p2", "Alice")
	p, err := h.store.Participant(context.Background(), "00000", "p1")
	require.NoError(t, err)
	assert.Equal(t, template, p.Code)
}

func TestDisconnect_KeepsRecordAndRefreshesRoster(t *testing.T) {
	h := newHarness(t, false, 1000)
	inst := h.joinInstructor(t)
	p1 := h.joinStudent(t, "p1", "Alice")

	h.send(t, p1, types.EventCodeSubmit, types.CodeRequest{Code: "drone.takeoff()"})
	require.True(t, ackOf(t, p1, types.AckCodeSaved).Success)

	h.dispatcher.HandleClose(context.Background(), p1)
	waitFor(t, inst, types.EventStudentDisconnected, 1)
	notice := testutil.Decode[types.RosterNotice](t, inst, types.EventStudentDisconnected)
	require.Len(t, notice.Students, 1)
	assert.False(t, notice.Students[0].IsConnected)
	assert.Equal(t, "drone.takeoff()", notice.Students[0].Code)

	back := testutil.NewFakeConn(types.RoleStudent)
	h.send(t, back, types.EventJoinLecture, types.JoinRequest{SessionID: "00000", ParticipantID: "p1", Name: "Alice"})
	ack := testutil.Decode[types.JoinSuccess](t, back, types.AckJoinSuccess)
	require.True(t, ack.Success)
	assert.Equal(t, "drone.takeoff()", ack.Code)
}

// failingDeletes fails the next n DeleteField calls.
type failingDeletes struct {
	store.HashStore
	n atomic.Int32
}

func (f *failingDeletes) DeleteField(ctx context.Context, key, field string) error {
	if f.n.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.HashStore.DeleteField(ctx, key, field)
}

func TestLeave_RetriesAfterStoreFailure(t *testing.T) {
	flaky := &failingDeletes{}
	h := newHarnessWith(t, false, 1000, faults{
		hashes: func(inner store.HashStore) store.HashStore {
			flaky.HashStore = inner
			return flaky
		},
	})
	inst := h.joinInstructor(t)
	p1 := h.joinStudent(t, "p1", "Alice")

	flaky.n.Store(1)
	h.send(t, p1, types.EventLeaveLecture, types.LeaveRequest{})
	ack := ackOf(t, p1, types.AckLeaveResponse)
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonStoreUnavailable, ack.Code)

	b, bound := h.channels.Binding(p1)
	require.True(t, bound, "a failed leave keeps the socket bound")
	assert.Equal(t, "p1", b.StudentID)
	assert.Equal(t, 0, inst.Count(types.EventStudentLeft))

	p1.Reset()
	h.send(t, p1, types.EventLeaveLecture, types.LeaveRequest{})
	assert.True(t, ackOf(t, p1, types.AckLeaveResponse).Success)
	_, bound = h.channels.Binding(p1)
	assert.False(t, bound)

	waitFor(t, inst, types.EventStudentLeft, 1)
	notice := testutil.Decode[types.RosterNotice](t, inst, types.EventStudentLeft)
	assert.Empty(t, notice.Students)

	h.joinStudent(t, "p2", "Alice")
}

func TestJoin_RefusesSecondIdentityOnSocket(t *testing.T) {
	h := newHarness(t, false, 1000)
	inst := h.joinInstructor(t)
	conn := h.joinStudent(t, "p1", "Alice")
	waitFor(t, inst, types.EventStudentJoined, 1)

	conn.Reset()
	h.send(t, conn, types.EventJoinLecture, types.JoinRequest{SessionID: "00000", ParticipantID: "p2", Name: "Bob"})
	ack := ackOf(t, conn, types.AckJoinSuccess)
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonAlreadyJoined, ack.Code)

	b, ok := h.channels.Binding(conn)
	require.True(t, ok)
	assert.Equal(t, "p1", b.StudentID)
	assert.Equal(t, map[string]bool{"p1": true}, h.channels.ConnectedParticipants("00000"))

	_, err := h.store.Participant(context.Background(), "00000", "p2")
	assert.ErrorIs(t, err, store.ErrParticipantUnknown)
	roster, err := h.store.Roster(context.Background(), "00000", h.channels.ConnectedParticipants("00000"))
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "p1", roster[0].StudentID)

	// the same identity may still rejoin on the socket
	h.send(t, conn, types.EventJoinLecture, types.JoinRequest{SessionID: "00000", ParticipantID: "p1", Name: "Alice"})
	assert.True(t, testutil.Decode[types.JoinSuccess](t, conn, types.AckJoinSuccess).Success)
}

// rosterOutage fails roster reads while down is set.
type rosterOutage struct {
	*store.SessionStore
	down atomic.Bool
}

func (r *rosterOutage) Roster(ctx context.Context, lecture string, connected map[string]bool) ([]types.RosterEntry, error) {
	if r.down.Load() {
		return nil, errors.New("roster unavailable")
	}
	return r.SessionStore.Roster(ctx, lecture, connected)
}

func TestRosterOutage_StudentsStillNotified(t *testing.T) {
	outage := &rosterOutage{}
	h := newHarnessWith(t, false, 1000, faults{
		store: func(inner *store.SessionStore) Store {
			outage.SessionStore = inner
			return outage
		},
	})
	inst := h.joinInstructor(t)
	p1 := h.joinStudent(t, "p1", "Alice")
	p2 := h.joinStudent(t, "p2", "Bob")
	waitFor(t, inst, types.EventStudentJoined, 2)

	outage.down.Store(true)

	h.send(t, inst, types.EventCodeSetActive, types.ActiveRequest{ParticipantID: "p1", Active: false})
	require.True(t, ackOf(t, inst, types.AckCodeActiveSaved).Success)
	waitFor(t, p1, types.EventCodeActiveChanged, 1)
	assert.False(t, testutil.Decode[types.ActiveNotice](t, p1, types.EventCodeActiveChanged).Active)

	h.send(t, inst, types.EventCodeInstructorEdit, types.CodeRequest{ParticipantID: "p2", Code: "drone.land()"})
	require.True(t, ackOf(t, inst, types.AckInstructorEditSaved).Success)
	waitFor(t, p2, types.EventCodeOverwritten, 1)

	h.send(t, inst, types.EventDroneSetAllActive, types.ActiveRequest{Active: false})
	require.True(t, ackOf(t, inst, types.AckDroneActiveSaved).Success)
	waitFor(t, p1, types.EventDroneAllActiveChanged, 1)
	waitFor(t, p2, types.EventDroneAllActiveChanged, 1)

	// supervisors keep their last roster rather than an empty one
	assert.Equal(t, 0, inst.Count(types.EventCodeActiveChanged))
	assert.Equal(t, 0, inst.Count(types.EventCodeUpdated))
	assert.Equal(t, 0, inst.Count(types.EventDroneAllActiveChanged))
}

// endingStore ends the lecture from inside a code write, while the
// submitting action is still in flight.
type endingStore struct {
	*store.SessionStore
	once   sync.Once
	onSave func()
}

func (e *endingStore) SaveCode(ctx context.Context, lecture, studentID, code string) error {
	e.once.Do(func() {
		go e.onSave()
		time.Sleep(20 * time.Millisecond)
	})
	return e.SessionStore.SaveCode(ctx, lecture, studentID, code)
}

func TestEndDuringAction_LeavesNoState(t *testing.T) {
	ending := &endingStore{}
	h := newHarnessWith(t, false, 1000, faults{
		store: func(inner *store.SessionStore) Store {
			ending.SessionStore = inner
			return ending
		},
	})
	p1 := h.joinStudent(t, "p1", "Alice")

	ended := make(chan struct{})
	ending.onSave = func() {
		defer close(ended)
		h.lectures.endWith("00000", func() {
			assert.NoError(t, h.store.Purge(context.Background(), "00000"))
			h.channels.EvictSession("00000")
		})
	}

	h.send(t, p1, types.EventCodeSubmit, types.CodeRequest{Code: "drone.takeoff()"})
	assert.True(t, ackOf(t, p1, types.AckCodeSaved).Success)

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("lecture never ended")
	}
	for _, key := range store.Keys("00000") {
		assert.False(t, h.hashes.Exists(key), "%s survived the end", key)
	}
	_, bound := h.channels.Binding(p1)
	assert.False(t, bound)

	// actions after the end are refused instead of writing again
	h.send(t, p1, types.EventCodeSubmit, types.CodeRequest{Code: "drone.land()"})
	assert.Equal(t, ReasonNotJoined, ackOf(t, p1, types.AckCodeSaved).Code)
	assert.False(t, h.hashes.Exists(store.Key("00000", "codes")))
}

func TestActions_RequireBinding(t *testing.T) {
	h := newHarness(t, false, 1000)
	stranger := testutil.NewFakeConn(types.RoleStudent)
	h.joinStudent(t, "p1", "Alice")

	h.send(t, stranger, types.EventCodeSubmit, types.CodeRequest{SessionID: "00000", ParticipantID: "p1", Code: "x"})
	ack := ackOf(t, stranger, types.AckCodeSaved)
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonNotJoined, ack.Code)

	inst := testutil.NewFakeConn(types.RoleInstructor)
	h.send(t, inst, types.EventCodeSetAllActive, types.ActiveRequest{SessionID: "00000", Active: false})
	assert.Equal(t, ReasonNotJoined, ackOf(t, inst, types.AckCodeActiveSaved).Code)
}

func TestActions_EndedLecture(t *testing.T) {
	h := newHarness(t, false, 1000)
	p1 := h.joinStudent(t, "p1", "Alice")
	h.lectures.end("00000")

	h.send(t, p1, types.EventCodeSubmit, types.CodeRequest{Code: "x"})
	ack := ackOf(t, p1, types.AckCodeSaved)
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonUnknownSession, ack.Code)
}

func TestDispatcher_BadFrames(t *testing.T) {
	h := newHarness(t, false, 1000)
	conn := testutil.NewFakeConn(types.RoleStudent)

	h.dispatcher.HandleFrame(context.Background(), conn, []byte("not json"))
	assert.Equal(t, ReasonInvalidPayload, ackOf(t, conn, types.EventError).Code)

	conn.Reset()
	h.send(t, conn, types.EventCodeSetAllActive, types.ActiveRequest{Active: true})
	assert.Equal(t, ReasonInvalidPayload, ackOf(t, conn, types.EventError).Code, "students cannot toggle")

	conn.Reset()
	h.dispatcher.HandleFrame(context.Background(), conn, []byte(`{"event":"joinLecture","data":{"sessionId":5}}`))
	ack := ackOf(t, conn, types.AckJoinSuccess)
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonInvalidPayload, ack.Code)
}

func TestDispatcher_RateLimit(t *testing.T) {
	h := newHarness(t, false, 2)
	conn := testutil.NewFakeConn(types.RoleStudent)
	leave := types.LeaveRequest{}

	h.send(t, conn, types.EventLeaveLecture, leave)
	h.send(t, conn, types.EventLeaveLecture, leave)
	h.send(t, conn, types.EventLeaveLecture, leave)

	assert.Equal(t, 2, conn.Count(types.AckLeaveResponse))
	assert.Equal(t, ReasonRateLimited, ackOf(t, conn, types.EventError).Code)

	h.dispatcher.HandleClose(context.Background(), conn)
	assert.Equal(t, 0, h.dispatcher.limiter.Tracked())
}

func TestSupervisorJoin_RequiresOwner(t *testing.T) {
	h := newHarness(t, true, 1000)

	intruder := testutil.NewFakeConn(types.RoleInstructor).WithPrincipal("inst-2")
	h.send(t, intruder, types.EventJoinLecture, types.JoinRequest{SessionID: "00000"})
	ack := ackOf(t, intruder, types.AckJoinResponse)
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonForbidden, ack.Code)

	h.joinInstructor(t)
}

func TestStoreUnavailable(t *testing.T) {
	h := newHarness(t, false, 1000)
	p1 := h.joinStudent(t, "p1", "Alice")
	require.NoError(t, h.hashes.Close())

	h.send(t, p1, types.EventCodeSubmit, types.CodeRequest{Code: "x"})
	ack := ackOf(t, p1, types.AckCodeSaved)
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonStoreUnavailable, ack.Code)
}

// Alice joins, is locked out of editing, then let back in by the class-wide
// toggle, and the supervisor sees her new code.
func TestScenario_AliceLockedOutAndRestored(t *testing.T) {
	h := newHarness(t, false, 1000)
	inst := h.joinInstructor(t)

	alice := testutil.NewFakeConn(types.RoleStudent)
	h.send(t, alice, types.EventJoinLecture, types.JoinRequest{SessionID: "00000", ParticipantID: "p1", Name: "Alice"})
	joined := testutil.Decode[types.JoinSuccess](t, alice, types.AckJoinSuccess)
	require.True(t, joined.Success)
	assert.Equal(t, template, joined.Code)
	assert.True(t, joined.CodeActive)

	h.send(t, inst, types.EventCodeSetActive, types.ActiveRequest{SessionID: "00000", ParticipantID: "p1", Active: false})
	h.send(t, alice, types.EventCodeSubmit, types.CodeRequest{SessionID: "00000", ParticipantID: "p1", Code: "drone.takeoff()"})
	assert.False(t, ackOf(t, alice, types.AckCodeSaved).Success)

	p, err := h.store.Participant(context.Background(), "00000", "p1")
	require.NoError(t, err)
	assert.Equal(t, template, p.Code)

	h.send(t, inst, types.EventCodeSetAllActive, types.ActiveRequest{SessionID: "00000", Active: true})
	alice.Reset()
	h.send(t, alice, types.EventCodeSubmit, types.CodeRequest{SessionID: "00000", ParticipantID: "p1", Code: "drone.takeoff()"})
	assert.True(t, ackOf(t, alice, types.AckCodeSaved).Success)

	require.Eventually(t, func() bool {
		env, ok := inst.Last(types.EventCodeUpdated)
		if !ok {
			return false
		}
		var notice types.RosterNotice
		if err := json.Unmarshal(env.Data, &notice); err != nil || len(notice.Students) != 1 {
			return false
		}
		return notice.Students[0].Code == "drone.takeoff()"
	}, time.Second, 5*time.Millisecond)
}

func TestReason(t *testing.T) {
	assert.Equal(t, ReasonStoreUnavailable, Reason(storeErr(assert.AnError)))
	assert.Equal(t, ReasonInvalidPayload, Reason(ErrUnknownEvent))
	assert.Equal(t, ReasonInternal, Reason(assert.AnError))
}
