// Package client is the game's network adapter: it owns the websocket to
// the match server, reconnects with backoff, tags outbound actions, and
// applies lag compensation and conflict resolution to inbound ones. The
// presentation layer talks to it through CreateRoom/JoinRoom/SendAction/
// SendStateSync and an optional Subscriber callback.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/doodleduel/backend/internal/protocol"
)

const (
	maxReconnectAttempts = 5

	// roomRequestTimeout only flips local status; the in-flight request
	// is not cancelled and a late response is still applied.
	roomRequestTimeout = 10 * time.Second

	// moveSpeed matches the fighter's horizontal speed, used to
	// dead-reckon a remote player's position across network latency.
	moveSpeed = 150.0 // px/s

	actionHistoryWindow = 5 * time.Second
	writeTimeout        = 3 * time.Second
)

var (
	ErrNotConnected = errors.New("websocket not connected")
	ErrTerminal     = errors.New("reconnection attempts exhausted")
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	// StatusFailed is terminal: the adapter gave up reconnecting and the
	// UI should ask the user to reload.
	StatusFailed Status = "failed"
)

// Local event kinds synthesized by the adapter, delivered through the
// same Subscriber callback as server events.
const (
	EventConnectionStatus protocol.Kind = "connection_status"
	EventConnectionFailed protocol.Kind = "connection_failed"
	EventRoomTimeout      protocol.Kind = "room_timeout"
)

// Subscriber receives every core event. Absence of a subscriber is a
// normal no-op, not an error.
type Subscriber interface {
	OnCoreEvent(kind protocol.Kind, env protocol.Envelope)
}

type receivedAction struct {
	action     protocol.ActionData
	receivedAt time.Time
}

type Client struct {
	url string
	log *zap.Logger
	sub Subscriber

	mu           sync.Mutex
	sock         *websocket.Conn
	status       Status
	playerID     string
	roomCode     string
	attempts     int
	seq          int
	stateVersion int
	awaitingRoom bool
	roomTimer    *time.Timer
	history      []receivedAction

	now func() time.Time
}

// New builds an adapter for the given ws:// URL. sub may be nil.
func New(url string, log *zap.Logger, sub Subscriber) *Client {
	return &Client{
		url:    url,
		log:    log,
		sub:    sub,
		status: StatusDisconnected,
		now:    time.Now,
	}
}

// Connect dials the server and starts the read loop. A failed dial
// schedules a reconnect attempt instead of returning the raw error to
// keep connect/reconnect behavior uniform.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusFailed {
		c.mu.Unlock()
		return ErrTerminal
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	sock, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		c.log.Warn("websocket dial failed", zap.Error(err))
		c.scheduleReconnect(ctx)
		return err
	}

	c.mu.Lock()
	c.sock = sock
	c.status = StatusConnected
	c.attempts = 0
	c.mu.Unlock()

	c.emit(EventConnectionStatus, protocol.NewEnvelope(EventConnectionStatus, c.PlayerID(),
		map[string]string{"status": string(StatusConnected)}))

	go c.readLoop(ctx, sock)
	return nil
}

func (c *Client) readLoop(ctx context.Context, sock *websocket.Conn) {
	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			c.handleDisconnect(ctx)
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("malformed server frame", zap.Error(err))
			continue
		}
		c.handleEnvelope(env)
	}
}

func (c *Client) handleDisconnect(ctx context.Context) {
	c.mu.Lock()
	if c.status == StatusFailed {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.emit(EventConnectionStatus, protocol.NewEnvelope(EventConnectionStatus, c.PlayerID(),
		map[string]string{"status": string(StatusDisconnected)}))
	c.scheduleReconnect(ctx)
}

func (c *Client) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	if attempt > maxReconnectAttempts {
		c.status = StatusFailed
		c.mu.Unlock()
		c.log.Error("max reconnection attempts reached")
		c.emit(EventConnectionFailed, protocol.NewEnvelope(EventConnectionFailed, c.PlayerID(),
			map[string]int{"attempts": attempt - 1}))
		return
	}
	c.mu.Unlock()

	delay := ReconnectDelay(attempt)
	c.log.Info("scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		_ = c.Connect(ctx)
	})
}

// ReconnectDelay doubles per attempt: 2s, 4s, 8s, ...
func ReconnectDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// CreateRoom asks the server for a new room. The room code arrives later
// as a room_created event.
func (c *Client) CreateRoom() error {
	if err := c.send(protocol.KindCreateRoom, struct{}{}); err != nil {
		return err
	}
	c.armRoomTimer()
	return nil
}

// JoinRoom requests membership in an existing room by code.
func (c *Client) JoinRoom(code string) error {
	if err := c.send(protocol.KindJoinRoom, protocol.JoinRoomData{RoomCode: code}); err != nil {
		return err
	}
	c.armRoomTimer()
	return nil
}

// armRoomTimer starts the local-only wait on a join/create response. On
// expiry the subscriber is told so the UI can show an error; the request
// itself stays live and a late response is applied retroactively.
func (c *Client) armRoomTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaitingRoom = true
	if c.roomTimer != nil {
		c.roomTimer.Stop()
	}
	c.roomTimer = time.AfterFunc(roomRequestTimeout, func() {
		c.mu.Lock()
		expired := c.awaitingRoom
		c.awaitingRoom = false
		c.mu.Unlock()
		if expired {
			c.emit(EventRoomTimeout, protocol.NewEnvelope(EventRoomTimeout, c.PlayerID(), struct{}{}))
		}
	})
}

func (c *Client) settleRoomRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaitingRoom = false
	if c.roomTimer != nil {
		c.roomTimer.Stop()
		c.roomTimer = nil
	}
}

// SendAction tags the action with a sequence id and client timestamp
// before relaying it. Sequence ids, not timestamps, are what ordering
// decisions use.
func (c *Client) SendAction(action protocol.ActionData) error {
	c.mu.Lock()
	c.seq++
	action.SequenceID = fmt.Sprintf("%s_%d_%d", c.playerID, c.seq, c.now().UnixMilli())
	c.mu.Unlock()
	action.Timestamp = c.now().UnixMilli()
	return c.send(protocol.KindPlayerAction, action)
}

// SendStateSync stamps the next local state version and publishes the
// update; the server only rebroadcasts versions newer than its own.
func (c *Client) SendStateSync(update protocol.GameStateUpdate) error {
	c.mu.Lock()
	c.stateVersion++
	update.Version = c.stateVersion
	c.mu.Unlock()
	return c.send(protocol.KindGameStateUpdate, update)
}

// SubmitFighter uploads the drawn fighter image and marks us ready.
func (c *Client) SubmitFighter(imageData string) error {
	return c.send(protocol.KindFighterSubmit, protocol.FighterSubmitData{FighterImage: imageData})
}

// RequestRestart asks the server to reset a finished room to drawing.
func (c *Client) RequestRestart() error {
	return c.send(protocol.KindRestartGame, struct{}{})
}

func (c *Client) send(kind protocol.Kind, data any) error {
	c.mu.Lock()
	sock := c.sock
	playerID := c.playerID
	c.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(protocol.NewEnvelope(kind, playerID, data))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return sock.Write(ctx, websocket.MessageText, payload)
}

func (c *Client) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.KindConnectionEstablished:
		var data protocol.ConnectionEstablishedData
		if err := json.Unmarshal(env.Data, &data); err == nil {
			c.mu.Lock()
			c.playerID = data.PlayerID
			c.attempts = 0
			c.mu.Unlock()
			c.log.Info("connected", zap.String("player", data.PlayerID))
		}

	case protocol.KindRoomCreated:
		var data protocol.RoomCreatedData
		if err := json.Unmarshal(env.Data, &data); err == nil {
			c.mu.Lock()
			c.roomCode = data.RoomCode
			c.mu.Unlock()
		}
		c.settleRoomRequest()

	case protocol.KindRoomJoined:
		var data protocol.RoomJoinedData
		if err := json.Unmarshal(env.Data, &data); err == nil {
			c.mu.Lock()
			c.roomCode = data.RoomCode
			c.mu.Unlock()
		}
		c.settleRoomRequest()

	case protocol.KindRoomFull, protocol.KindRoomNotFound, protocol.KindRoomError:
		c.settleRoomRequest()

	case protocol.KindPlayerAction:
		if env.PlayerID == c.PlayerID() {
			return
		}
		var action protocol.ActionData
		if err := json.Unmarshal(env.Data, &action); err != nil {
			c.log.Warn("malformed player_action", zap.Error(err))
			return
		}
		latency := time.Duration(c.now().UnixMilli()-action.Timestamp) * time.Millisecond
		compensated := ApplyLagCompensation(action, latency)
		c.storeAction(compensated)
		if raw, err := json.Marshal(compensated); err == nil {
			env.Data = raw
		}

	case protocol.KindGameStateUpdate:
		var update protocol.GameStateUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			return
		}
		c.mu.Lock()
		stale := update.Version <= c.stateVersion
		if !stale {
			c.stateVersion = update.Version
		}
		c.mu.Unlock()
		if stale {
			return
		}
	}

	c.emit(env.Type, env)
}

// ApplyLagCompensation dead-reckons a remote move by the estimated
// one-way latency so the local view lags less behind the sender.
func ApplyLagCompensation(action protocol.ActionData, latency time.Duration) protocol.ActionData {
	if action.Action != protocol.ActionMove || action.Position == nil || action.Direction == 0 {
		return action
	}
	if latency < 0 {
		// Client clocks are untrusted; a "negative" latency means the
		// sender's clock is ahead, not that time ran backwards.
		return action
	}
	shift := moveSpeed * latency.Seconds() * action.Direction
	pos := *action.Position
	pos.X += shift
	action.Position = &pos
	return action
}

// ResolveActionConflict is the local tie-break for simultaneous actions.
// It never overrides the server's combat authority; it only decides which
// action the local view plays first. Server timestamps win outright;
// simultaneous attacks fall back to lexical identity ordering.
func (c *Client) ResolveActionConflict(local, network protocol.ActionData, networkPlayerID string) protocol.ActionData {
	if network.ServerTimestamp != 0 && local.Timestamp != 0 &&
		network.ServerTimestamp < local.Timestamp {
		return network
	}
	if local.Action == protocol.ActionAttack && network.Action == protocol.ActionAttack {
		if c.PlayerID() < networkPlayerID {
			return local
		}
		return network
	}
	return network
}

func (c *Client) storeAction(action protocol.ActionData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.history = append(c.history, receivedAction{action: action, receivedAt: now})
	cutoff := now.Add(-actionHistoryWindow)
	kept := c.history[:0]
	for _, a := range c.history {
		if a.receivedAt.After(cutoff) {
			kept = append(kept, a)
		}
	}
	c.history = kept
}

// AverageLatency estimates one-way latency from the last ten received
// actions. Diagnostic only.
func (c *Client) AverageLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	recent := c.history
	if len(recent) == 0 {
		return 0
	}
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	var total time.Duration
	for _, a := range recent {
		total += time.Duration(a.receivedAt.UnixMilli()-a.action.Timestamp) * time.Millisecond
	}
	return total / time.Duration(len(recent))
}

func (c *Client) emit(kind protocol.Kind, env protocol.Envelope) {
	if c.sub == nil {
		return
	}
	c.sub.OnCoreEvent(kind, env)
}

func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *Client) RoomCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// StateVersion reports the highest state-sync version seen or sent.
func (c *Client) StateVersion() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateVersion
}

// Close tears the connection down without scheduling a reconnect.
func (c *Client) Close() {
	c.mu.Lock()
	sock := c.sock
	c.sock = nil
	c.status = StatusFailed
	c.mu.Unlock()
	if sock != nil {
		_ = sock.Close(websocket.StatusNormalClosure, "bye")
	}
}
