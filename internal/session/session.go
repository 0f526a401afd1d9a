// Package session is the Session Handler: one task per connected
// WebSocket client. It authenticates the upgrade request, loads the
// user's chat memberships, subscribes a forwarder per chat, and bridges
// room events and client commands onto the socket until it closes.
package session

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/chatcore/chatcore/internal/fanout"
	"github.com/chatcore/chatcore/internal/logging"
	"github.com/chatcore/chatcore/internal/metrics"
	"github.com/chatcore/chatcore/internal/model"
	"github.com/chatcore/chatcore/internal/ratelimit"
	"github.com/chatcore/chatcore/internal/store"
)

// State is one step of the per-session state machine:
// Authenticating -> Loading -> Active -> Closing -> Closed.
type State int32

const (
	StateAuthenticating State = iota
	StateLoading
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	outboxSize = 256
)

// inboundCommand is the shape of a text frame sent by the client.
type inboundCommand struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

type outboundFrame struct {
	Type    string           `json:"type"`
	Payload *model.ChatEvent `json:"payload,omitempty"`
}

// Session is one live client connection.
type Session struct {
	conn   net.Conn
	userID string
	logger zerolog.Logger

	fanout  *fanout.Manager
	store   store.Store
	limiter *ratelimit.Limiter

	state   State
	stateMu sync.Mutex

	outbox chan []byte

	subsMu sync.Mutex
	subs   map[string]*fanout.Subscription
	cancel map[string]context.CancelFunc

	closeOnce sync.Once
}

// New constructs a Session for an already-authenticated userID over conn.
// limiter may be nil, in which case inbound commands are never throttled.
func New(conn net.Conn, userID string, fm *fanout.Manager, st store.Store, limiter *ratelimit.Limiter, logger zerolog.Logger) *Session {
	return &Session{
		conn:    conn,
		userID:  userID,
		logger:  logger.With().Str("user_id", userID).Logger(),
		fanout:  fm,
		store:   st,
		limiter: limiter,
		state:   StateAuthenticating,
		outbox:  make(chan []byte, outboxSize),
		subs:    make(map[string]*fanout.Subscription),
		cancel:  make(map[string]context.CancelFunc),
	}
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Run drives the session through Loading, Active, Closing and Closed. It
// blocks until the connection terminates.
func (s *Session) Run() {
	defer logging.RecoverPanic(s.logger, "session.Run", map[string]any{"user_id": s.userID})

	s.setState(StateLoading)
	chats, err := s.store.GetUserChats(context.Background(), s.userID)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load user chats, closing session")
		s.terminate(ws.StatusInternalServerError, "load failure")
		return
	}

	for _, chatID := range chats {
		s.startForwarder(chatID)
	}
	s.setState(StateActive)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()
	go func() {
		defer wg.Done()
		s.readLoop()
	}()
	wg.Wait()

	s.setState(StateClosing)
	s.teardown()
	s.setState(StateClosed)
}

// readLoop parses inbound frames and dispatches subscribe/unsubscribe
// commands. Any read error or close frame ends the session.
func (s *Session) readLoop() {
	defer s.terminate(ws.StatusNormalClosure, "")

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		msg, op, err := wsutil.ReadClientData(s.conn)
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			s.handleCommand(msg)
		case ws.OpClose:
			return
		case ws.OpBinary, ws.OpPing, ws.OpPong:
			// ignored: transport handles ping/pong, binary frames unused.
		}
	}
}

func (s *Session) handleCommand(raw []byte) {
	if s.limiter != nil && !s.limiter.Allow(s.userID) {
		s.logger.Warn().Msg("dropping inbound command: rate limited")
		metrics.InboundRateLimited.Inc()
		return
	}

	var cmd inboundCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed inbound frame")
		return
	}

	switch cmd.Type {
	case "subscribe":
		s.handleSubscribe(cmd.ChatID)
	case "unsubscribe":
		s.handleUnsubscribe(cmd.ChatID)
	default:
		s.logger.Warn().Str("type", cmd.Type).Msg("ignoring unknown command type")
	}
}

func (s *Session) handleSubscribe(chatID string) {
	if chatID == "" {
		return
	}
	ok, err := s.store.IsUserInChat(context.Background(), s.userID, chatID)
	if err != nil {
		s.logger.Error().Err(err).Str("chat_id", chatID).Msg("membership check failed")
		return
	}
	if !ok {
		s.logger.Warn().Str("chat_id", chatID).Msg("subscribe denied: not a member")
		return
	}
	s.startForwarder(chatID)
}

func (s *Session) handleUnsubscribe(chatID string) {
	s.subsMu.Lock()
	sub, ok := s.subs[chatID]
	cancel := s.cancel[chatID]
	delete(s.subs, chatID)
	delete(s.cancel, chatID)
	s.subsMu.Unlock()

	if !ok {
		return
	}
	cancel()
	sub.Close()
}

// startForwarder subscribes chatID and spawns the goroutine that drains
// that room's events into the session's single outbound queue. A no-op if
// already subscribed.
func (s *Session) startForwarder(chatID string) {
	s.subsMu.Lock()
	if _, exists := s.subs[chatID]; exists {
		s.subsMu.Unlock()
		return
	}
	sub := s.fanout.SubscribeUserToChat(s.userID, chatID)
	ctx, cancel := context.WithCancel(context.Background())
	s.subs[chatID] = sub
	s.cancel[chatID] = cancel
	s.subsMu.Unlock()

	go s.forward(ctx, sub)
}

// forward drains a single room subscription into the session outbox until
// ctx is cancelled (unsubscribe/teardown) or the subscription reports
// dropped events, in which case the session closes with a "lagged" reason.
func (s *Session) forward(ctx context.Context, sub *fanout.Subscription) {
	defer logging.RecoverPanic(s.logger, "session.forward", map[string]any{"chat_id": sub.ChatID})

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Notify():
			events, dropped := sub.Drain()
			if dropped > 0 {
				s.logger.Warn().Str("chat_id", sub.ChatID).Uint64("dropped", dropped).Msg("subscriber lagged, closing")
				metrics.SessionsLaggedTotal.Inc()
				s.terminate(statusLagged, "lagged")
				return
			}
			for _, e := range events {
				s.enqueue(e)
			}
		}
	}
}

// statusLagged is the application-defined close reason for an overflowed
// subscriber per the external WebSocket contract.
const statusLagged ws.StatusCode = 4000

func (s *Session) enqueue(e model.ChatEvent) {
	frame := outboundFrame{Type: "event", Payload: &e}
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode outbound frame")
		return
	}
	select {
	case s.outbox <- data:
	default:
		s.logger.Warn().Str("chat_id", e.ChatID).Msg("outbox full, dropping event")
	}
}

// writeLoop drains the outbox and sends pings on an idle socket, mirroring
// the read loop's lifetime.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.terminate(ws.StatusNormalClosure, "")

	for {
		select {
		case data, ok := <-s.outbox:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(s.conn, ws.OpText, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(s.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

// terminate closes the underlying connection once, optionally sending a
// close frame with the given status/reason first.
func (s *Session) terminate(status ws.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		body := ws.NewCloseFrameBody(status, reason)
		_ = wsutil.WriteServerMessage(s.conn, ws.OpClose, body)
		_ = s.conn.Close()
	})
}

// teardown unsubscribes every still-active room and stops its forwarder.
func (s *Session) teardown() {
	s.subsMu.Lock()
	subs := s.subs
	cancels := s.cancel
	s.subs = make(map[string]*fanout.Subscription)
	s.cancel = make(map[string]context.CancelFunc)
	s.subsMu.Unlock()

	for chatID, cancel := range cancels {
		cancel()
		if sub, ok := subs[chatID]; ok {
			sub.Close()
		}
	}

	if s.limiter != nil {
		s.limiter.Forget(s.userID)
	}
}
