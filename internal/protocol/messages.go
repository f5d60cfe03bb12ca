package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	FieldParams     FieldParams `json:"field_params"`
}

type FieldParams struct {
	TickRateHz int        `json:"tick_rate_hz"`
	Epoch      string     `json:"epoch"`
	Dimension  [2]float64 `json:"dimension"`
	FarCorner  [2]float64 `json:"far_corner"`
	Heuristics []string   `json:"heuristics"`
}

// ADD_EVENT (client -> server). Magnitude may be sent as a map, as a list in
// Magnitudes, or both; entries for the same heuristic are summed. Neither
// means a zero magnitude.
type AddEventMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	ReqID           string             `json:"req_id"`
	Pos             [2]float64         `json:"pos"`
	Timestamp       string             `json:"timestamp,omitempty"`
	Magnitude       map[string]float64 `json:"magnitude,omitempty"`
	Magnitudes      []HeuristicValue   `json:"magnitudes,omitempty"`
	SpreadRate      float64            `json:"spread_rate"`
	SpreadType      string             `json:"spread_type,omitempty"`
}

// EVENT_ADDED (server -> client)
type EventAddedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	EventID         string `json:"event_id"`
	Tick            uint64 `json:"tick"`
	Timestamp       string `json:"timestamp"`
}

// QUERY (client -> server)
type QueryMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ReqID           string     `json:"req_id"`
	Pos             [2]float64 `json:"pos"`
	Timestamp       string     `json:"timestamp,omitempty"`
	Heuristics      []string   `json:"heuristics,omitempty"`
}

// INFLUENCE (server -> client)
type InfluenceMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	ReqID           string           `json:"req_id"`
	Tick            uint64           `json:"tick"`
	Timestamp       string           `json:"timestamp"`
	Values          []HeuristicValue `json:"values"`
	Baseline        []HeuristicValue `json:"baseline"`
	LiveEvents      int              `json:"live_events"`
}

type HeuristicValue struct {
	Heuristic string  `json:"heuristic"`
	Value     float64 `json:"value"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(reqID, code, message string) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		ReqID:           reqID,
		Code:            code,
		Message:         message,
	}
}
