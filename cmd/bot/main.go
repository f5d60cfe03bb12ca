package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"eventspread.ai/internal/protocol"
	"eventspread.ai/internal/sim/scenario"
	"eventspread.ai/internal/sim/spread"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "client name")
		scenPath = flag.String("scenario", "./configs/scenario.yaml", "scenario to play")
		offline  = flag.Bool("offline", false, "run the scenario against an in-memory field instead of a server")
		timeout  = flag.Duration("timeout", 10*time.Second, "per-response timeout")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	s, err := scenario.Load(*scenPath)
	if err != nil {
		logger.Fatalf("load scenario: %v", err)
	}

	var mismatches []scenario.Mismatch
	if *offline {
		res, err := scenario.RunOffline(s)
		if err != nil {
			logger.Fatalf("run: %v", err)
		}
		logger.Printf("offline: added=%d retired=%v baseline=%v", res.Added, res.Retired, res.Baseline)
		mismatches = res.Mismatches
	} else {
		conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
		if err != nil {
			logger.Fatalf("dial: %v", err)
		}
		defer conn.Close()
		c := &client{conn: conn, log: logger, timeout: *timeout}
		mismatches, err = c.play(*name, s)
		if err != nil {
			logger.Fatalf("play: %v", err)
		}
	}

	for _, m := range mismatches {
		logger.Printf("MISMATCH %s", m)
	}
	if len(mismatches) > 0 {
		os.Exit(1)
	}
	logger.Printf("scenario %q ok", s.Name)
}

type client struct {
	conn    *websocket.Conn
	log     *log.Logger
	timeout time.Duration
	nextReq int
}

// play runs s against the server. Scenario offsets are anchored at the
// server clock from WELCOME so the server has not advanced past them, and
// values are compared relative to the baseline seen before the first add.
func (c *client) play(name string, s *scenario.Scenario) ([]scenario.Mismatch, error) {
	welcome, err := c.hello(name)
	if err != nil {
		return nil, err
	}
	epoch, err := time.Parse(time.RFC3339Nano, welcome.FieldParams.Epoch)
	if err != nil {
		return nil, fmt.Errorf("welcome epoch: %w", err)
	}
	rate := welcome.FieldParams.TickRateHz
	if rate <= 0 {
		return nil, fmt.Errorf("welcome tick rate %d", rate)
	}
	anchor := epoch.Add(time.Duration(welcome.Tick) * time.Second / time.Duration(rate))
	c.log.Printf("WELCOME session=%s world=%s tick=%d far_corner=%v", welcome.SessionID, welcome.WorldID, welcome.Tick, welcome.FieldParams.FarCorner)
	if d := welcome.FieldParams.Dimension; d != [2]float64{s.Dimension.X, s.Dimension.Y} {
		c.log.Printf("server dimension %v differs from scenario %v; retirement timing will differ", d, s.Dimension)
	}

	start, err := c.query(scenario.Query{}, anchor)
	if err != nil {
		return nil, err
	}
	serverBase := fromWire(start.Baseline)
	scenBase, _ := scenario.Heuristics(s.Baseline)

	var out []scenario.Mismatch
	for i, st := range s.Steps {
		for _, a := range st.Add {
			id, err := c.addEvent(a, scenario.At(anchor, a.Emission(st)))
			if err != nil {
				return nil, fmt.Errorf("step %d add %q: %w", i, a.Name, err)
			}
			c.log.Printf("step %d: %s -> %s", i, a.Name, id)
		}
		now := scenario.At(anchor, st.At)
		for j, q := range st.Query {
			inf, err := c.query(q, now)
			if err != nil {
				return nil, fmt.Errorf("step %d query %d: %w", i, j, err)
			}
			got := fromWire(inf.Values)
			rel := spread.Heuristics{}
			for h, v := range got {
				rel[h] = v - serverBase.Get(h)
			}
			out = append(out, scenario.Check(i, j, q, rel.Add(scenBase))...)
		}
	}
	return out, nil
}

func (c *client) hello(name string) (protocol.WelcomeMsg, error) {
	var w protocol.WelcomeMsg
	err := c.conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	})
	if err != nil {
		return w, fmt.Errorf("send HELLO: %w", err)
	}
	err = c.await("", protocol.TypeWelcome, &w)
	return w, err
}

func (c *client) addEvent(a scenario.Add, ts time.Time) (string, error) {
	mag, _ := scenario.Heuristics(a.Magnitude)
	typ, _ := scenario.ParseSpreadType(a.SpreadType)
	req := c.reqID()
	err := c.conn.WriteJSON(protocol.AddEventMsg{
		Type:            protocol.TypeAddEvent,
		ProtocolVersion: protocol.Version,
		ReqID:           req,
		Pos:             [2]float64{a.Pos.X, a.Pos.Y},
		Timestamp:       ts.UTC().Format(time.RFC3339Nano),
		Magnitudes:      toWire(mag),
		SpreadRate:      a.SpreadRate,
		SpreadType:      typ.String(),
	})
	if err != nil {
		return "", err
	}
	var resp protocol.EventAddedMsg
	if err := c.await(req, protocol.TypeEventAdded, &resp); err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (c *client) query(q scenario.Query, t time.Time) (protocol.InfluenceMsg, error) {
	var resp protocol.InfluenceMsg
	req := c.reqID()
	err := c.conn.WriteJSON(protocol.QueryMsg{
		Type:            protocol.TypeQuery,
		ProtocolVersion: protocol.Version,
		ReqID:           req,
		Pos:             [2]float64{q.Pos.X, q.Pos.Y},
		Timestamp:       t.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return resp, err
	}
	err = c.await(req, protocol.TypeInfluence, &resp)
	return resp, err
}

// await reads until a message of type want for reqID arrives. An ERROR for
// the same request is returned as an error.
func (c *client) await(reqID, want string, v any) error {
	deadline := time.Now().Add(c.timeout)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if base.ReqID != reqID {
			continue
		}
		switch base.Type {
		case want:
			return json.Unmarshal(msg, v)
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				return err
			}
			return fmt.Errorf("%s: %s", e.Code, e.Message)
		}
	}
}

func (c *client) reqID() string {
	c.nextReq++
	return "r" + strconv.Itoa(c.nextReq)
}

func toWire(m spread.Heuristics) []protocol.HeuristicValue {
	list := spread.MapToList(m)
	out := make([]protocol.HeuristicValue, 0, len(list))
	for _, hv := range list {
		out = append(out, protocol.HeuristicValue{Heuristic: hv.Heuristic.String(), Value: hv.Value})
	}
	return out
}

func fromWire(vals []protocol.HeuristicValue) spread.Heuristics {
	list := make([]spread.HeuristicValue, 0, len(vals))
	for _, hv := range vals {
		if h, ok := spread.ParseHeuristic(hv.Heuristic); ok {
			list = append(list, spread.HeuristicValue{Heuristic: h, Value: hv.Value})
		}
	}
	return spread.ListToMap(list)
}
