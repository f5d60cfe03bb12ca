package protocol

import (
	"strings"
	"testing"
)

func TestValidateInbound_Samples(t *testing.T) {
	ok := map[string]string{
		TypeHello: `{
		  "type":"HELLO",
		  "protocol_version":"1.0",
		  "client_name":"bot1",
		  "capabilities":{"max_queue":8}
		}`,
		TypeAddEvent: `{
		  "type":"ADD_EVENT",
		  "protocol_version":"1.0",
		  "req_id":"R1",
		  "pos":[10,10],
		  "timestamp":"1970-01-01T00:00:10Z",
		  "magnitude":{"MORALITY":50},
		  "spread_rate":1,
		  "spread_type":"RADIAL"
		}`,
		TypeAddEvent + " list": `{
		  "type":"ADD_EVENT",
		  "protocol_version":"1.0",
		  "req_id":"R2",
		  "pos":[10,10],
		  "magnitudes":[{"heuristic":"MORALITY","value":25},{"heuristic":"MORALITY","value":25}],
		  "spread_rate":1
		}`,
		TypeQuery: `{
		  "type":"QUERY",
		  "protocol_version":"1.0",
		  "req_id":"Q1",
		  "pos":[0,0],
		  "heuristics":["MORALITY"]
		}`,
	}
	for name, raw := range ok {
		typ, _, _ := strings.Cut(name, " ")
		if err := ValidateInbound(typ, []byte(raw)); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}
}

func TestValidateInbound_Rejects(t *testing.T) {
	bad := []struct {
		typ, raw string
	}{
		{TypeAddEvent, `{"type":"ADD_EVENT","protocol_version":"1.0","req_id":"R1","pos":[1],"magnitude":{},"spread_rate":1}`},
		{TypeAddEvent, `{"type":"ADD_EVENT","protocol_version":"1.0","req_id":"R1","pos":[1,2],"magnitude":{},"spread_rate":-1}`},
		{TypeAddEvent, `{"type":"ADD_EVENT","protocol_version":"1.0","req_id":"R1","pos":[1,2],"magnitude":{"KARMA":1},"spread_rate":1}`},
		{TypeAddEvent, `{"type":"ADD_EVENT","protocol_version":"1.0","req_id":"R1","pos":[1,2],"magnitude":{},"spread_rate":1,"timestamp":"soon"}`},
		{TypeAddEvent, `{"type":"ADD_EVENT","protocol_version":"1.0","req_id":"R1","pos":[1,2],"magnitudes":[{"heuristic":"KARMA","value":1}],"spread_rate":1}`},
		{TypeAddEvent, `{"type":"ADD_EVENT","protocol_version":"1.0","req_id":"R1","pos":[1,2],"magnitudes":[{"heuristic":"MORALITY"}],"spread_rate":1}`},
		{TypeQuery, `{"type":"QUERY","protocol_version":"1.0","pos":[1,2]}`},
		{TypeHello, `{"type":"HELLO"}`},
	}
	for i, c := range bad {
		if err := ValidateInbound(c.typ, []byte(c.raw)); err == nil {
			t.Fatalf("case %d (%s): expected validation error", i, c.typ)
		}
	}
}

func TestValidateInbound_UnknownTypePasses(t *testing.T) {
	if err := ValidateInbound(TypeInfluence, []byte(`{"type":"INFLUENCE"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
