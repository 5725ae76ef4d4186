// Package notify delivers notifications: a durable row first, then a
// best-effort realtime push to whichever sessions have joined the
// recipient's room. Rooms are keyed by the lowercase wallet address.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/wagr-app/wagr-relay/internal/identity"
	"nhooyr.io/websocket"
)

var ErrInvalidConfig = errors.New("notify: invalid config")

// Client is one connected realtime session.
type Client interface {
	Send(ctx context.Context, payload []byte) error
}

// Hub is the room registry. A client joins any number of address rooms;
// an emit to a room with no clients is dropped — the persisted row is the
// durable record and the frontend refetches on next load.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]map[Client]struct{}
	joins map[Client][]string
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		log:   log,
		rooms: make(map[string]map[Client]struct{}),
		joins: make(map[Client][]string),
	}
}

// Join subscribes a client to the room for the given address.
func (h *Hub) Join(address string, c Client) {
	room := identity.Normalize(address)
	if room == "" || c == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[Client]struct{})
		h.rooms[room] = members
	}
	if _, ok := members[c]; ok {
		return
	}
	members[c] = struct{}{}
	h.joins[c] = append(h.joins[c], room)
}

// Leave removes a client from every room it joined.
func (h *Hub) Leave(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, room := range h.joins[c] {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.joins, c)
}

// Emit pushes an event envelope to every session in the room and reports
// how many received it. A failed write evicts that session.
func (h *Hub) Emit(ctx context.Context, address, event string, data any) int {
	room := identity.Normalize(address)

	payload, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: data})
	if err != nil {
		h.log.Error("marshal realtime payload", "event", event, "err", err)
		return 0
	}

	h.mu.Lock()
	members := make([]Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.Unlock()

	delivered := 0
	for _, c := range members {
		if err := c.Send(ctx, payload); err != nil {
			h.log.Warn("realtime push failed, dropping session", "room", room, "err", err)
			h.Leave(c)
			continue
		}
		delivered++
	}
	return delivered
}

// RoomSize reports the number of sessions joined to an address room.
func (h *Hub) RoomSize(address string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[identity.Normalize(address)])
}

type joinMessage struct {
	Join string `json:"join"`
}

const wsWriteTimeout = 5 * time.Second

type wsClient struct {
	conn *websocket.Conn
}

func (c *wsClient) Send(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

// ServeConn runs the read loop for one websocket session: the client
// sends {"join":"<address>"} messages to subscribe to rooms; everything
// else is ignored. Returns when the connection closes or ctx is done.
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn) {
	c := &wsClient{conn: conn}
	defer h.Leave(c)
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				h.log.Debug("websocket read ended", "err", err)
			}
			return
		}

		var jm joinMessage
		if err := json.Unmarshal(msg, &jm); err != nil || jm.Join == "" {
			continue
		}
		h.Join(jm.Join, c)
		h.log.Info("session joined room", "room", identity.Normalize(jm.Join))
	}
}

func (h *Hub) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fmt.Sprintf("notify.Hub(rooms=%d)", len(h.rooms))
}
