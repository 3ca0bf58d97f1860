package room

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/Cheese-Match-server/internal/domain"
	"github.com/park285/Cheese-Match-server/internal/persist"
	"github.com/park285/Cheese-Match-server/internal/store"
)

type seeded struct {
	mu      sync.Mutex
	matches []*domain.Match
}

func (s *seeded) Create(m *domain.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, m)
}

type finishLog struct {
	mu    sync.Mutex
	tasks []persist.CloseTask
}

func (f *finishLog) CloseMatch(t persist.CloseTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
}

type failingWriter struct{}

func (failingWriter) CreateMatch(context.Context, *domain.Match) error { return errors.New("db down") }

type testManager struct {
	*Manager
	repo     *store.Memory
	sessions *seeded
	finished *finishLog
}

func newTestManager(t *testing.T) *testManager {
	t.Helper()
	tm := &testManager{repo: store.NewMemory(), sessions: &seeded{}, finished: &finishLog{}}
	tm.Manager = NewManager(NewMemoryStore(time.Hour), tm.repo, tm.sessions, tm.finished)
	return tm
}

func intp(v int) *int { return &v }

func TestCreateJoinSetup(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	r, err := m.CreateRoom(ctx, "alice", intp(600))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if len(r.Code) != 6 || r.Status != StatusWaiting {
		t.Fatalf("room = %+v", r)
	}

	if _, err := m.FinalizeSetup(ctx, r.Code, "alice", "white"); !errors.Is(err, ErrNoGuest) {
		t.Fatalf("setup without guest: %v", err)
	}

	j, err := m.JoinRoom(ctx, r.Code, "bob")
	if err != nil || j.Guest != "bob" || j.Status != StatusReady {
		t.Fatalf("JoinRoom: %+v %v", j, err)
	}
	// same guest again is fine, lower-case input too
	if _, err := m.JoinRoom(ctx, " "+strings.ToLower(r.Code)+" ", "bob"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	matchID, err := m.FinalizeSetup(ctx, r.Code, "alice", "WHITE")
	if err != nil || matchID == "" {
		t.Fatalf("FinalizeSetup: %q %v", matchID, err)
	}
	match, err := m.repo.GetMatch(ctx, matchID)
	if err != nil {
		t.Fatalf("durable match: %v", err)
	}
	if match.Player1 != "alice" || match.Player2 != "bob" {
		t.Fatalf("colors: white=%s black=%s", match.Player1, match.Player2)
	}
	if match.TimeLimit == nil || *match.TimeLimit != 600 || match.Source != domain.SourceRoom {
		t.Fatalf("match = %+v", match)
	}
	if len(m.sessions.matches) != 1 {
		t.Fatalf("session not seeded")
	}

	again, err := m.FinalizeSetup(ctx, r.Code, "bob", "black")
	if err != nil || again != matchID {
		t.Fatalf("second setup: %q %v", again, err)
	}

	st, err := m.RoomStatus(ctx, r.Code)
	if err != nil {
		t.Fatalf("RoomStatus: %v", err)
	}
	if st.MatchID != matchID || st.Status != StatusInProgress || st.PlayedAt == nil {
		t.Fatalf("status = %+v", st)
	}
}

func TestHostBlackMakesGuestWhite(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	r, _ := m.CreateRoom(ctx, "alice", nil)
	_, _ = m.JoinRoom(ctx, r.Code, "bob")
	id, err := m.FinalizeSetup(ctx, r.Code, "bob", "black")
	if err != nil {
		t.Fatal(err)
	}
	match, _ := m.repo.GetMatch(ctx, id)
	if match.Player1 != "bob" {
		t.Fatalf("white = %s, want bob", match.Player1)
	}
}

func TestJoinRejections(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	r, _ := m.CreateRoom(ctx, "alice", nil)

	cases := []struct {
		code, guest string
		want        error
	}{
		{"QQQQQQ", "bob", ErrRoomNotFound},
		{"abc", "bob", ErrInvalidCode},
		{r.Code, "alice", ErrSelfJoin},
		{r.Code, "", ErrInvalidArgs},
	}
	for _, tc := range cases {
		if _, err := m.JoinRoom(ctx, tc.code, tc.guest); !errors.Is(err, tc.want) {
			t.Fatalf("JoinRoom(%q,%q) = %v, want %v", tc.code, tc.guest, err, tc.want)
		}
	}
	if _, err := m.JoinRoom(ctx, r.Code, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.JoinRoom(ctx, r.Code, "carol"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third player: %v", err)
	}
}

func TestSetupRejections(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	r, _ := m.CreateRoom(ctx, "alice", nil)
	_, _ = m.JoinRoom(ctx, r.Code, "bob")

	if _, err := m.FinalizeSetup(ctx, r.Code, "mallory", "white"); !errors.Is(err, ErrNotRoomMember) {
		t.Fatalf("outsider: %v", err)
	}
	if _, err := m.FinalizeSetup(ctx, r.Code, "alice", "purple"); !errors.Is(err, ErrInvalidColor) {
		t.Fatalf("bad color: %v", err)
	}
}

func TestSetupFailureUnbindsRoom(t *testing.T) {
	tm := newTestManager(t)
	m := NewManager(NewMemoryStore(time.Hour), failingWriter{}, tm.sessions, tm.finished)
	ctx := context.Background()
	r, _ := m.CreateRoom(ctx, "alice", nil)
	_, _ = m.JoinRoom(ctx, r.Code, "bob")

	if _, err := m.FinalizeSetup(ctx, r.Code, "alice", "white"); err == nil {
		t.Fatal("expected error")
	}
	st, _ := m.RoomStatus(ctx, r.Code)
	if st.MatchID != "" || st.Status != StatusReady {
		t.Fatalf("room left bound: %+v", st)
	}
}

// gatedWriter blocks CreateMatch until release, then returns err.
type gatedWriter struct {
	entered chan struct{}
	release chan struct{}
	err     error
	inner   MatchWriter
}

func (g *gatedWriter) CreateMatch(ctx context.Context, m *domain.Match) error {
	g.entered <- struct{}{}
	<-g.release
	if g.err != nil {
		return g.err
	}
	return g.inner.CreateMatch(ctx, m)
}

func TestSetupInFlightIsNotObservable(t *testing.T) {
	for _, fail := range []bool{true, false} {
		tm := newTestManager(t)
		w := &gatedWriter{entered: make(chan struct{}, 1), release: make(chan struct{}), inner: tm.repo}
		if fail {
			w.err = errors.New("db down")
		}
		m := NewManager(NewMemoryStore(time.Hour), w, tm.sessions, tm.finished)
		m.claimPoll = time.Millisecond
		ctx := context.Background()
		r, _ := m.CreateRoom(ctx, "alice", nil)
		_, _ = m.JoinRoom(ctx, r.Code, "bob")

		type out struct {
			id  string
			err error
		}
		hostDone := make(chan out, 1)
		go func() {
			id, err := m.FinalizeSetup(ctx, r.Code, "alice", "white")
			hostDone <- out{id, err}
		}()
		<-w.entered

		st, _ := m.RoomStatus(ctx, r.Code)
		if st.MatchID != "" || st.Status != StatusReady {
			t.Fatalf("mid-setup room = %+v", st)
		}

		guestDone := make(chan out, 1)
		go func() {
			id, err := m.FinalizeSetup(ctx, r.Code, "bob", "black")
			guestDone <- out{id, err}
		}()
		select {
		case g := <-guestDone:
			t.Fatalf("guest returned before the match existed: %+v", g)
		case <-time.After(20 * time.Millisecond):
		}

		close(w.release)
		host := <-hostDone
		if fail {
			if host.err == nil {
				t.Fatal("host setup should fail")
			}
			// 호스트가 실패하면 게스트가 클레임을 넘겨받아 다시 시도한다
			select {
			case <-w.entered:
			case <-time.After(time.Second):
				t.Fatal("guest never retried")
			}
			guest := <-guestDone
			if guest.err == nil {
				t.Fatalf("guest setup with a failing writer: %+v", guest)
			}
			st, _ = m.RoomStatus(ctx, r.Code)
			if st.MatchID != "" || st.Status != StatusReady || st.Claim != "" {
				t.Fatalf("room after failure = %+v", st)
			}
			continue
		}
		if host.err != nil {
			t.Fatalf("host setup: %v", host.err)
		}
		guest := <-guestDone
		if guest.err != nil || guest.id != host.id {
			t.Fatalf("guest got %+v, host %q", guest, host.id)
		}
		if _, err := tm.repo.GetMatch(ctx, guest.id); err != nil {
			t.Fatalf("returned match does not exist: %v", err)
		}
	}
}

func TestStaleClaimIsTakenOver(t *testing.T) {
	tm := newTestManager(t)
	rooms := NewMemoryStore(time.Hour)
	m := NewManager(rooms, tm.repo, tm.sessions, tm.finished)
	ctx := context.Background()
	r, _ := m.CreateRoom(ctx, "alice", nil)
	_, _ = m.JoinRoom(ctx, r.Code, "bob")

	old := time.Now().Add(-time.Minute)
	if _, err := rooms.Update(ctx, r.Code, func(r *Room) error {
		r.Claim, r.ClaimedAt = "lost", &old
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	id, err := m.FinalizeSetup(ctx, r.Code, "bob", "white")
	if err != nil || id == "" || id == "lost" {
		t.Fatalf("takeover: %q %v", id, err)
	}
}

type takenOnce struct {
	*MemoryStore
	left int
}

func (s *takenOnce) Insert(ctx context.Context, r *Room) error {
	if s.left > 0 {
		s.left--
		return ErrCodeTaken
	}
	return s.MemoryStore.Insert(ctx, r)
}

func TestCreateRoomRetriesOnCollision(t *testing.T) {
	tm := newTestManager(t)
	rooms := &takenOnce{MemoryStore: NewMemoryStore(time.Hour), left: 3}
	m := NewManager(rooms, tm.repo, tm.sessions, tm.finished)
	if _, err := m.CreateRoom(context.Background(), "alice", nil); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	rooms.left = 100
	if _, err := m.CreateRoom(context.Background(), "alice", nil); !errors.Is(err, ErrCodeExhausted) {
		t.Fatalf("exhausted: %v", err)
	}
}

func TestCloseMatchUpdatesRoom(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	r, _ := m.CreateRoom(ctx, "alice", nil)
	_, _ = m.JoinRoom(ctx, r.Code, "bob")
	id, _ := m.FinalizeSetup(ctx, r.Code, "alice", "white")

	m.CloseMatch(ctx, id, domain.StatusResigned, "bob")
	st, _ := m.RoomStatus(ctx, r.Code)
	if st.Status != Status(domain.StatusResigned) || st.WinnerName != "bob" {
		t.Fatalf("room after close: %+v", st)
	}
	if len(m.finished.tasks) != 1 || m.finished.tasks[0].MatchID != id {
		t.Fatalf("close task: %+v", m.finished.tasks)
	}

	// quick matches have no room
	qid, err := m.StartMatch(ctx, "carol", "dave")
	if err != nil {
		t.Fatal(err)
	}
	m.CloseMatch(ctx, qid, domain.StatusDraw, "")
	if len(m.finished.tasks) != 2 {
		t.Fatalf("quick match close not scheduled")
	}
}
