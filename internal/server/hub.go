// Package server coordinates connection admission, room membership and
// room-scoped fan-out for the relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/registry"
)

// Connection is one addressable endpoint known to the hub.
type Connection interface {
	ID() string
	// Send enqueues payload for delivery without blocking. An error means
	// the peer can no longer be reached.
	Send(payload []byte) error
	Close() error
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventJoin
	eventLeave
	eventMessage
	eventDisconnect
)

// event is one inbound occurrence on a connection, queued for the hub loop.
type event struct {
	kind   eventKind
	conn   Connection
	connID string
	room   string
	body   string
}

// Hub owns every admitted connection and the room registry. Events queued
// through Register, Join, Leave, Message and Disconnect are applied one at a
// time by Run, so a sender's messages reach each recipient's queue in the
// order they were read. The On* methods apply a single event synchronously
// and are safe for concurrent use.
type Hub struct {
	registry *registry.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.RWMutex
	conns map[string]Connection

	events  chan event
	wg      sync.WaitGroup
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub creates a hub backed by reg. logger and m may be nil.
func NewHub(reg *registry.Registry, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if reg == nil {
		reg = registry.New()
	}
	if logger == nil {
		logger = discardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry: reg,
		log:      logger,
		metrics:  m,
		conns:    make(map[string]Connection),
		events:   make(chan event, 256),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Registry returns the hub's room registry.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Register queues admission of conn. The connection starts without a room.
func (h *Hub) Register(conn Connection) error {
	if conn == nil {
		return errors.New("nil connection")
	}
	return h.submit(event{kind: eventConnect, conn: conn, connID: conn.ID()})
}

// Join queues a join-room event for connID.
func (h *Hub) Join(connID, room string) error {
	return h.submit(event{kind: eventJoin, connID: connID, room: room})
}

// Leave queues a leave-room event for connID.
func (h *Hub) Leave(connID string) error {
	return h.submit(event{kind: eventLeave, connID: connID})
}

// Message queues a message event. room may be empty to use the sender's
// current room.
func (h *Hub) Message(connID, body, room string) error {
	return h.submit(event{kind: eventMessage, connID: connID, body: body, room: room})
}

// Disconnect queues the disconnect of connID.
func (h *Hub) Disconnect(connID string) error {
	return h.submit(event{kind: eventDisconnect, connID: connID})
}

func (h *Hub) submit(ev event) error {
	select {
	case <-h.ctx.Done():
		return ErrHubClosed
	default:
	}

	select {
	case h.events <- ev:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// Run starts the hub's main event loop. It should be called in a separate
// goroutine and returns after Shutdown. Only the first call runs the loop.
func (h *Hub) Run() {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.discardPending()
			h.shutdownConnections()
			return

		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case eventConnect:
		if !h.OnConnect(ev.conn) {
			return
		}
		if client, ok := ev.conn.(*Client); ok {
			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()
		}
	case eventJoin:
		_ = h.OnJoin(ev.connID, ev.room)
	case eventLeave:
		h.OnLeave(ev.connID)
	case eventMessage:
		_, _ = h.OnMessage(ev.connID, ev.body, ev.room)
	case eventDisconnect:
		h.OnDisconnect(ev.connID)
	}
}

// OnConnect admits conn with no room and sends it its own id. It returns
// false if a connection with the same id is already admitted.
func (h *Hub) OnConnect(conn Connection) bool {
	h.mu.Lock()
	if _, exists := h.conns[conn.ID()]; exists {
		h.mu.Unlock()
		h.log.Error("duplicate connection id", "conn", conn.ID())
		_ = conn.Close()
		return false
	}
	h.conns[conn.ID()] = conn
	total := len(h.conns)
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	h.log.Info("connection registered", "conn", conn.ID(), "connections", total)

	h.sendTo(conn, ConnectedMessage{Event: EventConnected, SID: conn.ID()})
	return true
}

// OnJoin moves connID into room. Joins are silent to the other members. An
// invalid room name is reported to the sender only and leaves its current
// room unchanged.
func (h *Hub) OnJoin(connID, room string) error {
	conn := h.connection(connID)
	if conn == nil {
		return ErrUnknownConnection
	}

	if err := h.registry.Join(connID, room); err != nil {
		h.metrics.JoinRejected()
		h.log.Warn("join rejected", "conn", connID, "room", room, "err", err)
		h.sendTo(conn, ErrorMessage{Event: EventError, Error: err.Error()})
		return err
	}

	h.updateRoomGauge()
	h.log.Debug("joined room", "conn", connID, "room", room)
	return nil
}

// OnLeave removes connID from its room. The connection stays admitted.
func (h *Hub) OnLeave(connID string) {
	if room, ok := h.registry.Leave(connID); ok {
		h.updateRoomGauge()
		h.log.Debug("left room", "conn", connID, "room", room)
	}
}

// OnMessage delivers body to every member of the resolved room except the
// sender and returns how many recipients accepted it. The room is targetRoom
// when it is a valid name, otherwise the sender's current room. With no room
// the message is dropped and ErrUnroutedMessage returned. Senders that are not
// admitted, including ones already disconnected, get ErrUnknownConnection.
// Recipients whose send fails are disconnected after the fan-out completes.
func (h *Hub) OnMessage(connID, body, targetRoom string) (int, error) {
	if h.connection(connID) == nil {
		h.log.Debug("dropping message from unknown connection", "conn", connID)
		return 0, ErrUnknownConnection
	}
	h.metrics.MessageReceived()

	room := targetRoom
	if !registry.ValidRoomName(room) {
		current, ok := h.registry.RoomOf(connID)
		if !ok {
			h.metrics.Dropped(metrics.ReasonUnrouted)
			h.log.Info("dropping unrouted message", "conn", connID)
			return 0, ErrUnroutedMessage
		}
		room = current
	}

	payload, err := json.Marshal(ReceivedMessage{Event: EventReceiveMessage, Message: body, SID: connID})
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	delivered, failed := h.fanOut(room, connID, payload)
	for _, id := range failed {
		h.OnDisconnect(id)
	}

	h.metrics.Delivered(delivered)
	h.log.Debug("message broadcast", "conn", connID, "room", room, "recipients", delivered, "failed", len(failed))
	return delivered, nil
}

// fanOut sends payload to a snapshot of room's members other than sender and
// returns the ids whose delivery failed.
func (h *Hub) fanOut(room, sender string, payload []byte) (int, []string) {
	var failed []string
	delivered := 0

	for _, id := range h.registry.MembersOf(room) {
		if id == sender {
			continue
		}

		conn := h.connection(id)
		if conn == nil {
			failed = append(failed, id)
			continue
		}

		if err := conn.Send(payload); err != nil {
			h.metrics.DeliveryFailed()
			h.log.Warn("delivery failed", "conn", id, "room", room, "err", err)
			failed = append(failed, id)
			continue
		}
		delivered++
	}

	return delivered, failed
}

// OnDisconnect removes connID from its room and forgets the connection.
// Repeated calls are no-ops.
func (h *Hub) OnDisconnect(connID string) {
	room, inRoom := h.registry.Leave(connID)
	if inRoom {
		h.updateRoomGauge()
	}

	h.mu.Lock()
	conn, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
	}
	total := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return
	}

	if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
		h.log.Warn("error closing connection", "conn", connID, "err", err)
	}
	h.metrics.ConnectionClosed()
	h.log.Info("connection unregistered", "conn", connID, "room", room, "connections", total)
}

func (h *Hub) connection(id string) Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}

// sendTo encodes v and sends it to conn alone.
func (h *Hub) sendTo(conn Connection, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encode reply", "conn", conn.ID(), "err", err)
		return
	}
	if err := conn.Send(payload); err != nil {
		h.log.Warn("reply not delivered", "conn", conn.ID(), "err", err)
	}
}

func (h *Hub) updateRoomGauge() {
	rooms, _ := h.registry.Stats()
	h.metrics.SetRooms(rooms)
}

// Stats reports live rooms, admitted connections and connections in a room.
func (h *Hub) Stats() (rooms, connections, members int) {
	h.mu.RLock()
	connections = len(h.conns)
	h.mu.RUnlock()

	rooms, members = h.registry.Stats()
	return rooms, connections, members
}

// discardPending empties the event queue without handling it. Connections
// still waiting for admission are closed, including the socket of a *Client
// whose pumps never started.
func (h *Hub) discardPending() {
	for {
		select {
		case ev := <-h.events:
			if ev.kind == eventConnect && ev.conn != nil {
				h.abandon(ev.conn)
			}
		default:
			return
		}
	}
}

func (h *Hub) abandon(conn Connection) {
	if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
		h.log.Warn("error closing pending connection", "conn", conn.ID(), "err", err)
	}
	if client, ok := conn.(*Client); ok && client.conn != nil {
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn("error closing pending socket", "conn", conn.ID(), "err", err)
		}
	}
	h.log.Info("closed connection pending admission", "conn", conn.ID())
}

// shutdownConnections disconnects every admitted connection.
func (h *Hub) shutdownConnections() {
	h.log.Info("shutting down all client connections")

	h.mu.RLock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.OnDisconnect(id)
	}

	h.log.Info("closed client connections", "count", len(ids))
}

// Shutdown stops the event loop, closes every connection and waits for the
// client pumps to finish or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	if !h.running.Load() {
		h.discardPending()
		h.shutdownConnections()
		return nil
	}
	<-h.done
	// A submit racing the cancel may still have queued an event.
	h.discardPending()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
