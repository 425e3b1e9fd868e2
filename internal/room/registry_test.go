package room

import (
	"sync"
	"testing"
	"time"
)

// fakeSocket records writes so tests can assert on delivery.
type fakeSocket struct {
	mu     sync.Mutex
	writes [][]byte
	failed bool
	closed bool
}

func (s *fakeSocket) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return errFakeWrite
	}
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var errFakeWrite = errFake("write failed")

type errFake string

func (e errFake) Error() string { return string(e) }

func newTestConn(id string, gameID int64, role string) *Conn {
	return NewConn(id, gameID, "nim", 1, "tester", role, &fakeSocket{})
}

func TestAttachCreatesRoom(t *testing.T) {
	reg := NewRegistry()

	conn := newTestConn("c1", 7, "First")
	r := reg.Attach(conn)
	if r == nil {
		t.Fatal("expected attach to return the room")
	}
	if got, ok := reg.Room(7); !ok || got != r {
		t.Fatal("expected the registry to hold the attached room")
	}
	if members := r.Members(); len(members) != 1 || members[0] != conn {
		t.Fatalf("expected 1 member, got %d", len(members))
	}
}

func TestDetachDestroysEmptyRoom(t *testing.T) {
	reg := NewRegistry()
	first := newTestConn("c1", 7, "First")
	second := newTestConn("c2", 7, "Second")
	reg.Attach(first)
	reg.Attach(second)

	if !reg.Detach(first) {
		t.Fatal("expected detach of an attached connection to report true")
	}
	if _, ok := reg.Room(7); !ok {
		t.Fatal("expected the room to survive while a member remains")
	}

	if !reg.Detach(second) {
		t.Fatal("expected detach of the last member to report true")
	}
	if _, ok := reg.Room(7); ok {
		t.Fatal("expected the empty room to be destroyed")
	}
	if reg.Detach(second) {
		t.Fatal("expected a second detach to report false")
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	reg := NewRegistry()
	reg.Attach(newTestConn("c1", 1, "First"))
	reg.Attach(newTestConn("c2", 2, "First"))

	if reg.Rooms() != 2 {
		t.Fatalf("expected 2 rooms, got %d", reg.Rooms())
	}
}

func TestPresenceDistinctNonObserverRoles(t *testing.T) {
	reg := NewRegistry()
	reg.Attach(newTestConn("c1", 7, "Second"))
	reg.Attach(newTestConn("c2", 7, "First"))
	reg.Attach(newTestConn("c3", 7, "First"))
	reg.Attach(newTestConn("c4", 7, "Observer"))

	r, _ := reg.Room(7)
	presence := r.Presence()
	want := []string{"First", "Second"}
	if len(presence) != len(want) {
		t.Fatalf("expected presence %v, got %v", want, presence)
	}
	for i, role := range want {
		if presence[i] != role {
			t.Fatalf("expected presence %v, got %v", want, presence)
		}
	}
}

func TestRunSerializedOrdersMutations(t *testing.T) {
	reg := NewRegistry()
	r := reg.Attach(newTestConn("c1", 7, "First"))

	const workers = 8
	const iterations = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				r.RunSerialized(func() {
					counter++
				})
			}
		}()
	}
	wg.Wait()

	if counter != workers*iterations {
		t.Fatalf("expected %d serialized increments, got %d", workers*iterations, counter)
	}
}

func TestLogCursorAbsoluteSet(t *testing.T) {
	conn := newTestConn("c1", 7, "First")

	conn.SetLogCursor(10)
	if conn.LogCursor() != 10 {
		t.Fatalf("expected cursor 10, got %d", conn.LogCursor())
	}

	// A restore with a shorter log pulls the cursor back down.
	conn.SetLogCursor(4)
	if conn.LogCursor() != 4 {
		t.Fatalf("expected cursor 4 after shrink, got %d", conn.LogCursor())
	}

	conn.ResetLogCursor()
	if conn.LogCursor() != 0 {
		t.Fatalf("expected cursor 0 after reset, got %d", conn.LogCursor())
	}
}

func TestChatCursorClampsNegative(t *testing.T) {
	conn := newTestConn("c1", 7, "First")
	conn.SetChatCursor(-3)
	if conn.ChatCursor() != 0 {
		t.Fatalf("expected negative cursor to clamp to 0, got %d", conn.ChatCursor())
	}
	conn.SetChatCursor(5)
	if conn.ChatCursor() != 5 {
		t.Fatalf("expected cursor 5, got %d", conn.ChatCursor())
	}
}
