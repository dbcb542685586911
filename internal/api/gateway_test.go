package api_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skovgaard/auctiond/internal/auction"
	"github.com/skovgaard/auctiond/internal/hub"
)

type wsMessage struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func dialWS(t *testing.T, tsURL, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tsURL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebsocket_RequiresToken(t *testing.T) {
	coord := &stubCoordinator{}
	ts, _ := newTestServer(t, coord)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebsocket_JoinDeliversStateAndRoomEvents(t *testing.T) {
	coord := &stubCoordinator{view: &auction.StateView{ID: "a1", Status: "live"}}
	ts, h := newTestServer(t, coord)
	conn := dialWS(t, ts.URL, signToken(t, "bidder-ext"))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "join_auction", "auctionId": "a1"}))

	// The join answer is the current state.
	msg := readWS(t, conn)
	assert.Equal(t, "auction_state", msg.Type)
	assert.Equal(t, "a1", msg.Payload["id"])

	// Room broadcasts flow to the session. Subscription registration races
	// the publish, so give the join a moment to land.
	require.Eventually(t, func() bool {
		return h.SubscriberCount(hub.Room("a1")) == 1
	}, time.Second, 10*time.Millisecond)

	h.Publish(hub.Room("a1"), hub.Event{
		Type:    hub.EventItemSold,
		Payload: auction.ItemSold{ItemID: "i1", FinalPrice: 150},
	})

	msg = readWS(t, conn)
	assert.Equal(t, "item_sold", msg.Type)
	assert.Equal(t, "i1", msg.Payload["itemId"])
}

func TestWebsocket_JoinUnknownAuction(t *testing.T) {
	coord := &stubCoordinator{getErr: auction.ErrNotFound}
	ts, _ := newTestServer(t, coord)
	conn := dialWS(t, ts.URL, signToken(t, "bidder-ext"))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "join_auction", "auctionId": "missing"}))

	msg := readWS(t, conn)
	assert.Equal(t, "error", msg.Type)
}

func TestWebsocket_PlaceBid(t *testing.T) {
	coord := &stubCoordinator{
		view:      &auction.StateView{ID: "a1"},
		bidResult: auction.BidResult{Accepted: true},
	}
	ts, _ := newTestServer(t, coord)
	conn := dialWS(t, ts.URL, signToken(t, "bidder-ext"))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":           "place_bid",
		"auctionId":      "a1",
		"amount":         150,
		"idempotencyKey": "k1",
	}))

	msg := readWS(t, conn)
	assert.Equal(t, "bid_result", msg.Type)
	assert.Equal(t, true, msg.Payload["accepted"])

	// The bidder identity comes from the session token.
	coord.mu.Lock()
	defer coord.mu.Unlock()
	assert.Equal(t, "a1", coord.lastBidAuction)
	assert.Equal(t, "uid-bidder-ext", coord.lastBidder)
	assert.Equal(t, int64(150), coord.lastAmount)
	assert.Equal(t, "k1", coord.lastKey)
}

func TestWebsocket_UnknownMessageType(t *testing.T) {
	coord := &stubCoordinator{}
	ts, _ := newTestServer(t, coord)
	conn := dialWS(t, ts.URL, signToken(t, "bidder-ext"))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "shout"}))

	msg := readWS(t, conn)
	assert.Equal(t, "error", msg.Type)
}

func TestWebsocket_LeaveStopsDelivery(t *testing.T) {
	coord := &stubCoordinator{view: &auction.StateView{ID: "a1"}}
	ts, h := newTestServer(t, coord)
	conn := dialWS(t, ts.URL, signToken(t, "bidder-ext"))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "join_auction", "auctionId": "a1"}))
	readWS(t, conn) // join state

	require.Eventually(t, func() bool {
		return h.SubscriberCount(hub.Room("a1")) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "leave_auction", "auctionId": "a1"}))

	require.Eventually(t, func() bool {
		return h.SubscriberCount(hub.Room("a1")) == 0
	}, time.Second, 10*time.Millisecond)
}
