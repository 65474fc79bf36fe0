package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/keyrace/api/internal/race"
)

type wsClient struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn
	seq  int64
}

func dialWS(t *testing.T, ctx context.Context, srv *httptest.Server, user string) *wsClient {
	t.Helper()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws?user=" + user
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return &wsClient{t: t, ctx: ctx, conn: conn}
}

func (c *wsClient) send(event string, data any) int64 {
	c.t.Helper()

	c.seq++
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("marshaling %s data: %v", event, err)
	}
	msg, err := json.Marshal(inboundEnvelope{Event: event, Seq: c.seq, Data: raw})
	if err != nil {
		c.t.Fatalf("marshaling %s envelope: %v", event, err)
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, msg); err != nil {
		c.t.Fatalf("writing %s: %v", event, err)
	}
	return c.seq
}

type wireEnvelope struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

func (c *wsClient) read() wireEnvelope {
	c.t.Helper()

	_, msg, err := c.conn.Read(c.ctx)
	if err != nil {
		c.t.Fatalf("reading: %v", err)
	}
	var env wireEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.t.Fatalf("decoding %s: %v", msg, err)
	}
	return env
}

// readUntil discards events until one matching name arrives.
func (c *wsClient) readUntil(event string) wireEnvelope {
	c.t.Helper()

	for i := 0; i < 20; i++ {
		env := c.read()
		if env.Event == event {
			return env
		}
	}
	c.t.Fatalf("no %s event within 20 messages", event)
	return wireEnvelope{}
}

func newWSTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	s := newTestServer(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS())

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWSCreateAndJoin(t *testing.T) {
	srv := newWSTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dialWS(t, ctx, srv, "u-host")
	host.send(evRoomCreate, createRoomPayload{Name: "ada"})

	ack := host.readUntil("ack")
	var created struct {
		Event string        `json:"event"`
		Data  race.Snapshot `json:"data"`
	}
	if err := json.Unmarshal(ack.Data, &created); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if created.Event != evRoomCreate {
		t.Fatalf("ack for %q, want %q", created.Event, evRoomCreate)
	}
	code := created.Data.Code
	if len(code) != 6 {
		t.Fatalf("room code = %q, want 6 chars", code)
	}

	guest := dialWS(t, ctx, srv, "u-guest")
	guest.send(evRoomJoin, joinRoomPayload{Code: code, Name: "bob"})
	guest.readUntil("ack")

	// The join broadcast reaches the host with both players in the roster.
	for {
		env := host.readUntil(race.EventRoomState)
		var snap race.Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			t.Fatalf("decoding room:state: %v", err)
		}
		if len(snap.Players) == 2 {
			break
		}
	}
}

func TestWSErrorReply(t *testing.T) {
	srv := newWSTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialWS(t, ctx, srv, "u1")
	seq := c.send(evRoomJoin, joinRoomPayload{Code: "NOPE99", Name: "bob"})

	env := c.readUntil("error")
	if env.Seq != seq {
		t.Errorf("error seq = %d, want %d", env.Seq, seq)
	}
	var perr errorPayload
	if err := json.Unmarshal(env.Data, &perr); err != nil {
		t.Fatalf("decoding error payload: %v", err)
	}
	if perr.Error != "RoomNotFound" {
		t.Errorf("error code = %q, want RoomNotFound", perr.Error)
	}
}

func TestWSDisconnectLeavesRoom(t *testing.T) {
	srv := newWSTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dialWS(t, ctx, srv, "u-host")
	host.send(evRoomCreate, createRoomPayload{Name: "ada"})
	ack := host.readUntil("ack")

	var created struct {
		Data race.Snapshot `json:"data"`
	}
	if err := json.Unmarshal(ack.Data, &created); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}

	guest := dialWS(t, ctx, srv, "u-guest")
	guest.send(evRoomJoin, joinRoomPayload{Code: created.Data.Code, Name: "bob"})
	guest.readUntil("ack")

	host.conn.Close(websocket.StatusNormalClosure, "bye")

	// Host authority migrates to the remaining player.
	for {
		env := guest.readUntil(race.EventRoomState)
		var snap race.Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			t.Fatalf("decoding room:state: %v", err)
		}
		if len(snap.Players) == 1 && snap.Players[0].Role == race.RoleHost {
			return
		}
	}
}
