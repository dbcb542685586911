package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skovgaard/auctiond/internal/hub"
	"github.com/skovgaard/auctiond/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Client messages on the realtime channel.
const (
	msgJoinAuction  = "join_auction"
	msgLeaveAuction = "leave_auction"
	msgPlaceBid     = "place_bid"
)

// Server messages beyond the hub event types.
const (
	msgBidResult = "bid_result"
	msgError     = "error"
)

type clientMessage struct {
	Type           string `json:"type"`
	AuctionID      string `json:"auctionId,omitempty"`
	Amount         int64  `json:"amount,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type serverMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// handleWebsocket authenticates the handshake, upgrades the connection and
// runs the session until the peer goes away. Bidder identity is bound to the
// session; place_bid messages carry no user id.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		s.writeError(w, http.StatusUnauthorized, "permission_denied", "missing bearer token")
		return
	}
	user, err := s.verifier.Authenticate(r.Context(), token)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "permission_denied", "invalid bearer token")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.Any("error", err),
		)
		return
	}

	sess := &wsSession{
		server: s,
		conn:   conn,
		user:   user,
		send:   make(chan serverMessage, sendBuffer),
		subs:   make(map[string]*hub.Subscription),
	}
	s.logger.Info("websocket session opened",
		slog.String("user_id", user.ID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	go sess.writePump()
	sess.readPump(r.Context())
}

// checkOrigin mirrors the CORS allow-list on the websocket handshake.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// wsSession is one websocket connection with its room subscriptions.
type wsSession struct {
	server *Server
	conn   *websocket.Conn
	user   *store.User

	send chan serverMessage

	mu     sync.Mutex
	subs   map[string]*hub.Subscription
	closed bool
}

// readPump processes client messages until the connection drops, then tears
// the session down.
func (sess *wsSession) readPump(ctx context.Context) {
	defer sess.close()

	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := sess.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.server.logger.Warn("websocket read error",
					slog.String("user_id", sess.user.ID),
					slog.Any("error", err),
				)
			}
			return
		}

		switch msg.Type {
		case msgJoinAuction:
			sess.join(ctx, msg.AuctionID)
		case msgLeaveAuction:
			sess.leave(msg.AuctionID)
		case msgPlaceBid:
			res := sess.server.coord.PlaceBid(ctx, msg.AuctionID, sess.user.ID, msg.Amount, msg.IdempotencyKey)
			sess.enqueue(serverMessage{Type: msgBidResult, Payload: res})
		default:
			sess.enqueue(serverMessage{Type: msgError, Payload: errorPayload{Message: "unknown message type"}})
		}
	}
}

// join subscribes the session to an auction room and sends the current
// state so the client does not start from a blank screen.
func (sess *wsSession) join(ctx context.Context, auctionID string) {
	view, err := sess.server.coord.GetState(ctx, auctionID)
	if err != nil {
		sess.enqueue(serverMessage{Type: msgError, Payload: errorPayload{Message: "unknown auction"}})
		return
	}

	room := hub.Room(auctionID)
	sess.mu.Lock()
	if _, joined := sess.subs[room]; joined {
		sess.mu.Unlock()
		return
	}
	sub := sess.server.hub.Subscribe(room)
	sess.subs[room] = sub
	sess.mu.Unlock()

	// Forward room events for the life of the subscription. Unsubscribe
	// closes the channel and ends the goroutine.
	go func() {
		for ev := range sub.Events() {
			sess.enqueue(serverMessage{Type: string(ev.Type), Payload: ev.Payload})
		}
	}()

	sess.enqueue(serverMessage{Type: string(hub.EventAuctionState), Payload: view})
}

func (sess *wsSession) leave(auctionID string) {
	room := hub.Room(auctionID)
	sess.mu.Lock()
	sub, ok := sess.subs[room]
	if ok {
		delete(sess.subs, room)
	}
	sess.mu.Unlock()
	if ok {
		sess.server.hub.Unsubscribe(sub)
	}
}

// enqueue hands a message to the write pump without blocking; a session
// that cannot keep up loses the message.
func (sess *wsSession) enqueue(msg serverMessage) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	select {
	case sess.send <- msg:
	default:
		sess.server.logger.Warn("dropping message for slow websocket session",
			slog.String("user_id", sess.user.ID),
			slog.String("message_type", msg.Type),
		)
	}
}

// writePump is the only writer on the connection.
func (sess *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sess.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (sess *wsSession) close() {
	sess.mu.Lock()
	sess.closed = true
	subs := make([]*hub.Subscription, 0, len(sess.subs))
	for _, sub := range sess.subs {
		subs = append(subs, sub)
	}
	sess.subs = make(map[string]*hub.Subscription)
	sess.mu.Unlock()

	for _, sub := range subs {
		sess.server.hub.Unsubscribe(sub)
	}
	close(sess.send)
	sess.server.logger.Info("websocket session closed", slog.String("user_id", sess.user.ID))
}
