package registry

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/doodleduel/backend/internal/protocol"
)

func decodeKinds(t *testing.T, msgs [][]byte) []protocol.Kind {
	t.Helper()
	var kinds []protocol.Kind
	for _, m := range msgs {
		var env protocol.Envelope
		if err := json.Unmarshal(m, &env); err != nil {
			t.Fatalf("bad payload on wire: %v", err)
		}
		kinds = append(kinds, env.Type)
	}
	return kinds
}

func TestBroadcast_ByteIdenticalToAllMembers(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.CreateRoom()
	c1, c2 := newFakeConn(), newFakeConn()
	_ = r.JoinRoom(code, "p1", c1)
	_ = r.JoinRoom(code, "p2", c2)

	env := protocol.NewEnvelope(protocol.KindPhaseChange, protocol.ServerIdentity,
		protocol.PhaseChangeData{Phase: "combat"})
	r.Broadcast(code, env, "", false)

	if len(c1.msgs) != 1 || len(c2.msgs) != 1 {
		t.Fatalf("want 1 message each, got %d and %d", len(c1.msgs), len(c2.msgs))
	}
	if !bytes.Equal(c1.msgs[0], c2.msgs[0]) {
		t.Fatalf("payloads differ across recipients")
	}
}

func TestBroadcast_ExcludesPlayer(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.CreateRoom()
	c1, c2 := newFakeConn(), newFakeConn()
	_ = r.JoinRoom(code, "p1", c1)
	_ = r.JoinRoom(code, "p2", c2)

	env := protocol.NewEnvelope(protocol.KindPlayerAction, "p1",
		protocol.ActionData{Action: protocol.ActionMove})
	r.Broadcast(code, env, "p1", true)

	if len(c1.msgs) != 0 {
		t.Fatalf("excluded player received %d messages", len(c1.msgs))
	}
	if len(c2.msgs) != 1 {
		t.Fatalf("peer should receive exactly 1 message, got %d", len(c2.msgs))
	}
}

func TestBroadcast_SkipsClosedConnections(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.CreateRoom()
	c1 := newFakeConn()
	c2 := newFakeConn()
	c2.open = false
	_ = r.JoinRoom(code, "p1", c1)
	_ = r.JoinRoom(code, "p2", c2)

	r.Broadcast(code, protocol.NewEnvelope(protocol.KindPhaseChange, protocol.ServerIdentity, struct{}{}), "", false)

	if len(c2.msgs) != 0 {
		t.Fatalf("closed connection should not be written to")
	}
	// A closed-but-not-failed connection is skipped, not evicted.
	if r.Room(code) == nil || len(r.Room(code).Members) != 2 {
		t.Fatalf("members should be unchanged")
	}
}

func TestBroadcast_FailedSendEvictsPlayer(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.CreateRoom()
	c1 := newFakeConn()
	c2 := newFakeConn()
	c2.fail = true
	_ = r.JoinRoom(code, "p1", c1)
	_ = r.JoinRoom(code, "p2", c2)

	r.Broadcast(code, protocol.NewEnvelope(protocol.KindPhaseChange, protocol.ServerIdentity, struct{}{}), "", false)

	room := r.Room(code)
	if room == nil {
		t.Fatalf("room should survive, one member remains")
	}
	if _, still := room.Members["p2"]; still {
		t.Fatalf("failed send should evict the player")
	}

	// The survivor got the original broadcast plus the cascading
	// player_disconnected notice.
	kinds := decodeKinds(t, c1.msgs)
	if len(kinds) != 2 || kinds[0] != protocol.KindPhaseChange || kinds[1] != protocol.KindPlayerDisconnected {
		t.Fatalf("unexpected delivery to survivor: %v", kinds)
	}
}

func TestBroadcast_UnknownRoomIsNoOp(t *testing.T) {
	r := newTestRegistry()
	r.Broadcast("NOPE42", protocol.NewEnvelope(protocol.KindError, "", struct{}{}), "", false)
}

func TestSendTo_FailureEvicts(t *testing.T) {
	r := newTestRegistry()
	code, _ := r.CreateRoom()
	c1 := newFakeConn()
	c1.fail = true
	_ = r.JoinRoom(code, "p1", c1)

	r.SendTo(code, "p1", protocol.NewEnvelope(protocol.KindError, "p1", struct{}{}))
	if r.Room(code) != nil {
		t.Fatalf("evicting the last member should delete the room")
	}
}
