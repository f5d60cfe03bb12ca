package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"eventspread.ai/internal/protocol"
	"eventspread.ai/internal/sim/spread"
	"eventspread.ai/internal/sim/tuning"
	"eventspread.ai/internal/sim/world"
)

func startServer(t *testing.T, limits tuning.RateLimits) *websocket.Conn {
	t.Helper()
	w, err := world.New(world.WorldConfig{
		ID:         "field_test",
		TickRateHz: 50,
		Epoch:      time.Unix(0, 0).UTC(),
		Dim:        spread.Pos{X: 10, Y: 10},
	})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	srv := httptest.NewServer(NewServer(w, limits, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "tester",
	}); err != nil {
		t.Fatalf("send HELLO: %v", err)
	}
	var welcome protocol.WelcomeMsg
	readInto(t, conn, &welcome)
	if welcome.Type != protocol.TypeWelcome || welcome.WorldID != "field_test" {
		t.Fatalf("welcome: %+v", welcome)
	}
	if welcome.FieldParams.FarCorner != [2]float64{20, 20} {
		t.Fatalf("far corner: %+v", welcome.FieldParams)
	}
	return conn
}

func readInto(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(msg, v); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
}

func TestServer_AddEventThenQuery(t *testing.T) {
	conn := startServer(t, tuning.RateLimits{})

	if err := conn.WriteJSON(protocol.AddEventMsg{
		Type:            protocol.TypeAddEvent,
		ProtocolVersion: protocol.Version,
		ReqID:           "A1",
		Pos:             [2]float64{10, 10},
		Timestamp:       "1970-01-01T00:00:10Z",
		Magnitude:       map[string]float64{"MORALITY": 50},
		SpreadRate:      1,
	}); err != nil {
		t.Fatalf("send ADD_EVENT: %v", err)
	}
	var added protocol.EventAddedMsg
	readInto(t, conn, &added)
	if added.Type != protocol.TypeEventAdded || added.ReqID != "A1" || added.EventID == "" {
		t.Fatalf("event added: %+v", added)
	}
	if added.Timestamp != "1970-01-01T00:00:10Z" {
		t.Fatalf("timestamp: %s", added.Timestamp)
	}

	if err := conn.WriteJSON(protocol.QueryMsg{
		Type:            protocol.TypeQuery,
		ProtocolVersion: protocol.Version,
		ReqID:           "Q1",
		Pos:             [2]float64{10, 10},
		Timestamp:       "1970-01-01T00:00:10Z",
		Heuristics:      []string{"MORALITY", "UNDEFINED"},
	}); err != nil {
		t.Fatalf("send QUERY: %v", err)
	}
	var inf protocol.InfluenceMsg
	readInto(t, conn, &inf)
	if inf.Type != protocol.TypeInfluence || inf.ReqID != "Q1" || inf.LiveEvents != 1 {
		t.Fatalf("influence: %+v", inf)
	}
	if len(inf.Values) != 2 || inf.Values[0].Value != 50 || inf.Values[1].Value != 0 {
		t.Fatalf("values: %+v", inf.Values)
	}

	if err := conn.WriteJSON(protocol.QueryMsg{
		Type:            protocol.TypeQuery,
		ProtocolVersion: protocol.Version,
		ReqID:           "Q2",
		Pos:             [2]float64{0, 0},
		Timestamp:       "1970-01-01T00:00:10Z",
	}); err != nil {
		t.Fatalf("send QUERY: %v", err)
	}
	readInto(t, conn, &inf)
	for _, v := range inf.Values {
		if v.Value != 0 {
			t.Fatalf("expected no influence at (0,0): %+v", inf.Values)
		}
	}
}

func TestServer_AddEventListMagnitude(t *testing.T) {
	conn := startServer(t, tuning.RateLimits{})

	if err := conn.WriteJSON(protocol.AddEventMsg{
		Type:            protocol.TypeAddEvent,
		ProtocolVersion: protocol.Version,
		ReqID:           "A1",
		Pos:             [2]float64{3, 4},
		Timestamp:       "1970-01-01T00:00:05Z",
		Magnitudes: []protocol.HeuristicValue{
			{Heuristic: "MORALITY", Value: 30},
			{Heuristic: "MORALITY", Value: 12},
		},
		SpreadRate: 1,
	}); err != nil {
		t.Fatalf("send ADD_EVENT: %v", err)
	}
	var added protocol.EventAddedMsg
	readInto(t, conn, &added)
	if added.Type != protocol.TypeEventAdded {
		t.Fatalf("event added: %+v", added)
	}

	if err := conn.WriteJSON(protocol.QueryMsg{
		Type:            protocol.TypeQuery,
		ProtocolVersion: protocol.Version,
		ReqID:           "Q1",
		Pos:             [2]float64{3, 4},
		Timestamp:       "1970-01-01T00:00:05Z",
		Heuristics:      []string{"MORALITY"},
	}); err != nil {
		t.Fatalf("send QUERY: %v", err)
	}
	var inf protocol.InfluenceMsg
	readInto(t, conn, &inf)
	if len(inf.Values) != 1 || inf.Values[0].Value != 42 {
		t.Fatalf("values: %+v", inf.Values)
	}
}

func TestServer_UnencodableInfluenceIsInternalError(t *testing.T) {
	conn := startServer(t, tuning.RateLimits{})

	for _, id := range []string{"A1", "A2"} {
		if err := conn.WriteJSON(protocol.AddEventMsg{
			Type:            protocol.TypeAddEvent,
			ProtocolVersion: protocol.Version,
			ReqID:           id,
			Pos:             [2]float64{1, 1},
			Timestamp:       "1970-01-01T00:00:01Z",
			Magnitude:       map[string]float64{"MORALITY": 1.7e308},
			SpreadRate:      1,
		}); err != nil {
			t.Fatalf("send ADD_EVENT: %v", err)
		}
		var added protocol.EventAddedMsg
		readInto(t, conn, &added)
		if added.Type != protocol.TypeEventAdded {
			t.Fatalf("event added: %+v", added)
		}
	}

	if err := conn.WriteJSON(protocol.QueryMsg{
		Type:            protocol.TypeQuery,
		ProtocolVersion: protocol.Version,
		ReqID:           "Q1",
		Pos:             [2]float64{1, 1},
		Timestamp:       "1970-01-01T00:00:01Z",
	}); err != nil {
		t.Fatalf("send QUERY: %v", err)
	}
	var e protocol.ErrorMsg
	readInto(t, conn, &e)
	if e.Type != protocol.TypeError || e.Code != protocol.ErrInternal || e.ReqID != "Q1" {
		t.Fatalf("error: %+v", e)
	}
}

func TestServer_RejectsInvalidMessages(t *testing.T) {
	conn := startServer(t, tuning.RateLimits{})

	cases := []struct {
		raw  string
		code string
	}{
		{`{"type":"ADD_EVENT","protocol_version":"0.1","req_id":"A1"}`, protocol.ErrProtoVersion},
		{`{"type":"ADD_EVENT","protocol_version":"1.0","req_id":"A2","pos":[1,1],"magnitude":{},"spread_rate":-3}`, protocol.ErrProtoBadRequest},
		{`{"type":"PING","protocol_version":"1.0","req_id":"P1"}`, protocol.ErrProtoBadRequest},
		{`not json`, protocol.ErrProtoBadRequest},
	}
	for _, c := range cases {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(c.raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
		var e protocol.ErrorMsg
		readInto(t, conn, &e)
		if e.Type != protocol.TypeError || e.Code != c.code {
			t.Fatalf("%s: got %+v want code %s", c.raw, e, c.code)
		}
	}
}

func TestServer_RateLimitsQueries(t *testing.T) {
	conn := startServer(t, tuning.RateLimits{QueryPerSec: 0.001, QueryBurst: 1})

	q := protocol.QueryMsg{
		Type:            protocol.TypeQuery,
		ProtocolVersion: protocol.Version,
		ReqID:           "Q1",
		Pos:             [2]float64{1, 1},
	}
	if err := conn.WriteJSON(q); err != nil {
		t.Fatalf("send: %v", err)
	}
	var inf protocol.InfluenceMsg
	readInto(t, conn, &inf)
	if inf.Type != protocol.TypeInfluence {
		t.Fatalf("first query: %+v", inf)
	}

	q.ReqID = "Q2"
	if err := conn.WriteJSON(q); err != nil {
		t.Fatalf("send: %v", err)
	}
	var e protocol.ErrorMsg
	readInto(t, conn, &e)
	if e.Code != protocol.ErrRateLimit || e.ReqID != "Q2" {
		t.Fatalf("second query: %+v", e)
	}
}
