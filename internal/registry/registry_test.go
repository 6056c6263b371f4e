package registry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeConn struct {
	msgs [][]byte
	open bool
	fail bool
}

func (f *fakeConn) Send(p []byte) bool {
	if f.fail {
		return false
	}
	f.msgs = append(f.msgs, p)
	return true
}

func (f *fakeConn) Open() bool { return f.open }

func newFakeConn() *fakeConn { return &fakeConn{open: true} }

func newTestRegistry() *Registry { return New(zap.NewNop()) }

func TestCreateRoom_CodeProperties(t *testing.T) {
	r := newTestRegistry()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := r.CreateRoom()
		if err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("want 6-char code, got %q", code)
		}
		for _, ch := range code {
			if !strings.ContainsRune(codeCharset, ch) {
				t.Fatalf("code %q contains %q outside [A-Z0-9]", code, ch)
			}
		}
		if seen[code] {
			t.Fatalf("duplicate live code %q", code)
		}
		seen[code] = true
	}
}

func TestJoinRoom_CapsAtTwoMembers(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.CreateRoom()

	if err := r.JoinRoom(code, "p1", newFakeConn()); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := r.JoinRoom(code, "p2", newFakeConn()); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if err := r.JoinRoom(code, "p3", newFakeConn()); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("want ErrRoomFull, got %v", err)
	}
	if got := len(r.Room(code).Members); got != 2 {
		t.Fatalf("want 2 members, got %d", got)
	}
}

func TestJoinRoom_UnknownCode(t *testing.T) {
	r := newTestRegistry()
	if err := r.JoinRoom("NOPE42", "p1", newFakeConn()); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("want ErrRoomNotFound, got %v", err)
	}
}

func TestJoinRoom_RemovesPlayerFromPriorRoom(t *testing.T) {
	r := newTestRegistry()
	first, _ := r.CreateRoom()
	second, _ := r.CreateRoom()

	if err := r.JoinRoom(first, "p1", newFakeConn()); err != nil {
		t.Fatalf("join first: %v", err)
	}
	if err := r.JoinRoom(second, "p1", newFakeConn()); err != nil {
		t.Fatalf("join second: %v", err)
	}

	if room := r.RoomByPlayer("p1"); room == nil || room.Code != second {
		t.Fatalf("index should point at %s, got %+v", second, room)
	}
	// First room emptied out and was deleted.
	if r.Room(first) != nil {
		t.Fatalf("expected empty prior room to be removed")
	}
}

func TestJoinRoom_DuringCombatSeedsLedger(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.CreateRoom()
	_ = r.JoinRoom(code, "p1", newFakeConn())

	room := r.Room(code)
	room.Phase = PhaseCombat
	room.Ledger = map[string]int{"p1": 40}

	if err := r.JoinRoom(code, "p2", newFakeConn()); err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := room.Ledger["p2"]; got != 100 {
		t.Fatalf("late joiner should start at 100, got %d", got)
	}
	if got := room.Ledger["p1"]; got != 40 {
		t.Fatalf("existing ledger entry should be untouched, got %d", got)
	}
}

func TestLeaveRoom_LastMemberDeletesRoom(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.CreateRoom()
	_ = r.JoinRoom(code, "p1", newFakeConn())
	_ = r.JoinRoom(code, "p2", newFakeConn())

	r.LeaveRoom(code, "p1")
	if r.Room(code) == nil {
		t.Fatalf("room should survive while a member remains")
	}

	r.LeaveRoom(code, "p2")
	if r.Room(code) != nil {
		t.Fatalf("room should be gone after last member left")
	}
	if r.RoomByPlayer("p1") != nil || r.RoomByPlayer("p2") != nil {
		t.Fatalf("player index entries should be gone")
	}
}

func TestLeaveRoom_UnknownRoomIsNoOp(t *testing.T) {
	r := newTestRegistry()
	r.LeaveRoom("NOPE42", "p1") // must not panic
}

func TestCleanupInactive(t *testing.T) {
	r := newTestRegistry()
	fresh, _ := r.CreateRoom()
	stale, _ := r.CreateRoom()

	base := time.Now()
	r.Room(stale).LastActivity = base.Add(-45 * time.Minute)
	r.Room(fresh).LastActivity = base.Add(-5 * time.Minute)
	r.now = func() time.Time { return base }

	if got := r.CleanupInactive(30 * time.Minute); got != 1 {
		t.Fatalf("want 1 room removed, got %d", got)
	}
	if r.Room(stale) != nil {
		t.Fatalf("stale room should be removed")
	}
	if r.Room(fresh) == nil {
		t.Fatalf("fresh room should survive")
	}
}

func TestStats(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.CreateRoom()
	_ = r.JoinRoom(code, "p1", newFakeConn())
	_ = r.JoinRoom(code, "p2", newFakeConn())
	_, _ = r.CreateRoom()

	rooms, members := r.Stats()
	if rooms != 2 || members != 2 {
		t.Fatalf("want (2 rooms, 2 members), got (%d, %d)", rooms, members)
	}
}
