package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type fakeClient struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
}

func (c *fakeClient) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("write failed")
	}
	c.payloads = append(c.payloads, append([]byte(nil), payload...))
	return nil
}

func (c *fakeClient) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestHub_EmitToJoinedRoom(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	c := &fakeClient{}
	h.Join("0xAAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAA", c)

	// Mixed-case emit reaches the lowercase room.
	n := h.Emit(context.Background(), "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "notification", map[string]string{"id": "n1"})
	if n != 1 {
		t.Fatalf("delivered: got %d want 1", n)
	}
	if c.received() != 1 {
		t.Fatalf("client payloads: got %d want 1", c.received())
	}

	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(c.payloads[0], &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != "notification" {
		t.Fatalf("event: got %q", env.Event)
	}
}

func TestHub_EmitToEmptyRoomIsDropped(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	if n := h.Emit(context.Background(), "0x01", "notification", nil); n != 0 {
		t.Fatalf("delivered: got %d want 0", n)
	}
}

func TestHub_FailedWriteEvictsSession(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	bad := &fakeClient{fail: true}
	good := &fakeClient{}
	h.Join("0x02", bad)
	h.Join("0x02", good)

	n := h.Emit(context.Background(), "0x02", "notification", nil)
	if n != 1 {
		t.Fatalf("delivered: got %d want 1", n)
	}
	if h.RoomSize("0x02") != 1 {
		t.Fatalf("room size after eviction: got %d want 1", h.RoomSize("0x02"))
	}
}

func TestHub_LeaveRemovesAllRooms(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	c := &fakeClient{}
	h.Join("0x03", c)
	h.Join("0x04", c)
	h.Leave(c)

	if h.RoomSize("0x03") != 0 || h.RoomSize("0x04") != 0 {
		t.Fatalf("rooms not emptied")
	}
}

func TestHub_DuplicateJoinIsOneMembership(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	c := &fakeClient{}
	h.Join("0x05", c)
	h.Join("0x05", c)

	if n := h.Emit(context.Background(), "0x05", "notification", nil); n != 1 {
		t.Fatalf("delivered: got %d want 1", n)
	}
}
