package frame_test

import (
	"strconv"
	"testing"

	"github.com/ravenbound/shardwire"
	"github.com/ravenbound/shardwire/frame"
)

func TestDecodeDispatch(t *testing.T) {
	ev, err := frame.Decode([]byte(`{"op":0,"t":"READY","s":1,"d":{"session_id":"abc"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if ev.Kind != frame.KindDispatch || ev.Name != "READY" || ev.Seq != 1 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestDecodeDispatchMissingFields(t *testing.T) {
	if _, err := frame.Decode([]byte(`{"op":0,"d":{}}`)); err == nil {
		t.Fatalf("expected error for dispatch missing s/t")
	}
}

func TestDecodeHello(t *testing.T) {
	ev, err := frame.Decode([]byte(`{"op":10,"d":{"heartbeat_interval":41250}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if ev.Kind != frame.KindHello || ev.HeartbeatIntervalMS != 41250 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestDecodeInvalidSession(t *testing.T) {
	ev, err := frame.Decode([]byte(`{"op":9,"d":false}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if ev.Kind != frame.KindInvalidSession || ev.Resumable {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestDecodeHeartbeatAck(t *testing.T) {
	ev, err := frame.Decode([]byte(`{"op":11,"d":null}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if ev.Kind != frame.KindHeartbeatACK {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	if _, err := frame.Decode([]byte(`{"op":99,"d":{}}`)); err == nil {
		t.Fatalf("expected error for unknown opcode")
	}
}

func TestDecodeRejectsOutboundOnlyOpcodes(t *testing.T) {
	for _, op := range []shardwire.GatewayOp{
		shardwire.OpIdentify,
		shardwire.OpResume,
		shardwire.OpPresenceUpdate,
		shardwire.OpVoiceStateUpdate,
		shardwire.OpRequestGuildMembers,
	} {
		if _, err := frame.Decode([]byte(`{"op":` + strconv.Itoa(int(op)) + `,"d":{}}`)); err == nil {
			t.Fatalf("expected error for outbound-only opcode %d observed inbound", op)
		}
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	if _, err := frame.Decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	raw, err := frame.Encode(shardwire.OpHeartbeat, 42)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ev, err := frame.Decode(raw)
	if err != nil {
		t.Fatalf("decode encoded heartbeat: %v", err)
	}

	if ev.Kind != frame.KindHeartbeat || ev.HeartbeatSeq != 42 {
		t.Fatalf("round-trip mismatch: %+v", ev)
	}
}
