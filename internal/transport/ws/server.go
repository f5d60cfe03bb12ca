package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"eventspread.ai/internal/protocol"
	"eventspread.ai/internal/sim/spread"
	"eventspread.ai/internal/sim/tuning"
	"eventspread.ai/internal/sim/world"
)

type Server struct {
	world  *world.World
	log    *log.Logger
	limits tuning.RateLimits

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(w *world.World, limits tuning.RateLimits, logger *log.Logger) *Server {
	return &Server{
		world:  w,
		log:    logger,
		limits: limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// session is per-connection state owned by the reader loop.
type session struct {
	id  string
	out chan []byte

	addLimiter   *rate.Limiter
	queryLimiter *rate.Limiter
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.route(ctx, sess, msg)
		}
	}
}

func (s *Server) route(ctx context.Context, sess *session, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.sendError(ctx, sess, "", protocol.ErrProtoBadRequest, "malformed json")
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.sendError(ctx, sess, base.ReqID, protocol.ErrProtoVersion, "bad protocol_version")
		return
	}
	if err := protocol.ValidateInbound(base.Type, msg); err != nil {
		s.sendError(ctx, sess, base.ReqID, protocol.ErrProtoBadRequest, err.Error())
		return
	}

	switch base.Type {
	case protocol.TypeAddEvent:
		if !sess.addLimiter.Allow() {
			s.sendError(ctx, sess, base.ReqID, protocol.ErrRateLimit, "too many ADD_EVENT")
			return
		}
		var m protocol.AddEventMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.sendError(ctx, sess, base.ReqID, protocol.ErrProtoBadRequest, err.Error())
			return
		}
		s.handleAddEvent(ctx, sess, m)

	case protocol.TypeQuery:
		if !sess.queryLimiter.Allow() {
			s.sendError(ctx, sess, base.ReqID, protocol.ErrRateLimit, "too many QUERY")
			return
		}
		var m protocol.QueryMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.sendError(ctx, sess, base.ReqID, protocol.ErrProtoBadRequest, err.Error())
			return
		}
		s.handleQuery(ctx, sess, m)

	default:
		s.sendError(ctx, sess, base.ReqID, protocol.ErrProtoBadRequest, "unsupported message type")
	}
}

func (s *Server) handleAddEvent(ctx context.Context, sess *session, m protocol.AddEventMsg) {
	ts, err := parseTimestamp(m.Timestamp)
	if err != nil {
		s.sendError(ctx, sess, m.ReqID, protocol.ErrBadRequest, err.Error())
		return
	}
	mag, err := parseMagnitude(m.Magnitude, m.Magnitudes)
	if err != nil {
		s.sendError(ctx, sess, m.ReqID, protocol.ErrBadRequest, err.Error())
		return
	}
	typ, err := parseSpreadType(m.SpreadType)
	if err != nil {
		s.sendError(ctx, sess, m.ReqID, protocol.ErrBadRequest, err.Error())
		return
	}

	respCh := make(chan world.AddEventResponse, 1)
	req := world.AddEventRequest{
		Pos:        spread.Pos{X: m.Pos[0], Y: m.Pos[1]},
		Timestamp:  ts,
		Magnitude:  mag,
		SpreadRate: m.SpreadRate,
		SpreadType: typ,
		Resp:       respCh,
	}
	select {
	case s.world.AddEvent() <- req:
	default:
		s.sendError(ctx, sess, m.ReqID, protocol.ErrWorldBusy, "world inbox full")
		return
	}

	// The world answers on the next tick; don't hold up the reader.
	go func() {
		select {
		case <-ctx.Done():
		case resp := <-respCh:
			if resp.Err != nil {
				s.sendError(ctx, sess, m.ReqID, resp.Code, resp.Err.Error())
				return
			}
			s.send(ctx, sess, m.ReqID, protocol.EventAddedMsg{
				Type:            protocol.TypeEventAdded,
				ProtocolVersion: protocol.Version,
				ReqID:           m.ReqID,
				EventID:         resp.EventID,
				Tick:            resp.Tick,
				Timestamp:       formatTimestamp(resp.Timestamp),
			})
		}
	}()
}

func (s *Server) handleQuery(ctx context.Context, sess *session, m protocol.QueryMsg) {
	ts, err := parseTimestamp(m.Timestamp)
	if err != nil {
		s.sendError(ctx, sess, m.ReqID, protocol.ErrBadRequest, err.Error())
		return
	}
	respCh := make(chan world.QueryResponse, 1)
	select {
	case s.world.Query() <- world.QueryRequest{Pos: spread.Pos{X: m.Pos[0], Y: m.Pos[1]}, Timestamp: ts, Resp: respCh}:
	default:
		s.sendError(ctx, sess, m.ReqID, protocol.ErrWorldBusy, "world inbox full")
		return
	}

	var resp world.QueryResponse
	select {
	case <-ctx.Done():
		return
	case resp = <-respCh:
	}

	values, err := heuristicValues(resp.Influence, m.Heuristics)
	if err != nil {
		s.sendError(ctx, sess, m.ReqID, protocol.ErrBadRequest, err.Error())
		return
	}
	baseline, _ := heuristicValues(resp.Baseline, m.Heuristics)
	s.send(ctx, sess, m.ReqID, protocol.InfluenceMsg{
		Type:            protocol.TypeInfluence,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		Tick:            resp.Tick,
		Timestamp:       formatTimestamp(resp.Timestamp),
		Values:          values,
		Baseline:        baseline,
		LiveEvents:      resp.LiveEvents,
	})
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	if err := protocol.ValidateInbound(protocol.TypeHello, msg); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}

	sess := &session{
		id:           hello.ClientName + "-" + strconv.FormatUint(s.nextID.Add(1), 10),
		out:          make(chan []byte, maxQ),
		addLimiter:   newLimiter(s.limits.AddEventPerSec, s.limits.AddEventBurst),
		queryLimiter: newLimiter(s.limits.QueryPerSec, s.limits.QueryBurst),
	}

	cfg := s.world.Config()
	far := s.world.FarCorner()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		WorldID:         cfg.ID,
		Tick:            s.world.CurrentTick(),
		FieldParams: protocol.FieldParams{
			TickRateHz: cfg.TickRateHz,
			Epoch:      formatTimestamp(cfg.Epoch),
			Dimension:  [2]float64{cfg.Dim.X, cfg.Dim.Y},
			FarCorner:  [2]float64{far.X, far.Y},
			Heuristics: []string{spread.HeuristicUndefined.String(), spread.HeuristicMorality.String()},
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	if s.log != nil {
		s.log.Printf("session %s connected", sess.id)
	}
	return sess
}

// newLimiter treats a non-positive rate as unlimited.
func newLimiter(perSec float64, burst int) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// send queues v for the writer. A reply that cannot be encoded (an infinite
// sum, say) is answered with E_INTERNAL so the client is not left waiting.
func (s *Server) send(ctx context.Context, sess *session, reqID string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		if s.log != nil {
			s.log.Printf("session %s: encode %T: %v", sess.id, v, err)
		}
		b, _ = json.Marshal(protocol.NewError(reqID, protocol.ErrInternal, "cannot encode response"))
	}
	select {
	case <-ctx.Done():
	case sess.out <- b:
	}
}

func (s *Server) sendError(ctx context.Context, sess *session, reqID, code, message string) {
	s.send(ctx, sess, reqID, protocol.NewError(reqID, code, message))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
