package signaling

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestDecodeClientCommands(t *testing.T) {
	offer, err := Decode([]byte(`{"command":"offer","desc":{"type":"offer","sdp":"v=0\r\n"}}`))
	if err != nil {
		t.Fatalf("Decode offer: %v", err)
	}
	if got, want := offer, (Offer{SDP: "v=0\r\n"}); got != want {
		t.Fatalf("offer=%#v, want %#v", got, want)
	}

	// Browsers serialize RTCIceCandidate with extra fields.
	cand, err := Decode([]byte(`{"command":"onicecandidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.2 5000 typ host","sdpMid":"0","sdpMLineIndex":0,"usernameFragment":"abcd"}}`))
	if err != nil {
		t.Fatalf("Decode candidate: %v", err)
	}
	want := RemoteCandidate{SDPMid: "0", SDPMLineIndex: 0, Candidate: "candidate:1 1 udp 1 10.0.0.2 5000 typ host"}
	if cand != want {
		t.Fatalf("candidate=%#v, want %#v", cand, want)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `hello`, ErrMalformed},
		{"no command", `{"desc":{"sdp":"v=0"}}`, ErrMissingCommand},
		{"empty command", `{"command":""}`, ErrMissingCommand},
		{"unknown command", `{"command":"bye"}`, ErrUnknownCommand},
		{"offer without desc", `{"command":"offer"}`, ErrMalformed},
		{"offer without sdp", `{"command":"offer","desc":{"type":"offer"}}`, ErrMalformed},
		{"offer with empty sdp", `{"command":"offer","desc":{"type":"offer","sdp":""}}`, ErrMalformed},
		{"offer typed as answer", `{"command":"offer","desc":{"type":"answer","sdp":"v=0"}}`, ErrMalformed},
		{"candidate missing", `{"command":"onicecandidate"}`, ErrMalformed},
		{"candidate without mid", `{"command":"onicecandidate","candidate":{"candidate":"c","sdpMLineIndex":0}}`, ErrMalformed},
		{"candidate without index", `{"command":"onicecandidate","candidate":{"candidate":"c","sdpMid":"0"}}`, ErrMalformed},
		{"end of candidates", `{"command":"onicecandidate","candidate":{"candidate":"","sdpMid":"0","sdpMLineIndex":0}}`, ErrMalformed},
		{"negative index", `{"command":"onicecandidate","candidate":{"candidate":"c","sdpMid":"0","sdpMLineIndex":-1}}`, ErrMalformed},
		{"answer without sdp", `{"command":"OnSuccessAnswer"}`, ErrMalformed},
		{"local candidate without mid", `{"command":"OnIceCandidate","sdp":"c","sdp_mline_index":0}`, ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			if !errors.Is(err, tc.want) {
				t.Fatalf("Decode(%s) err=%v, want %v", tc.raw, err, tc.want)
			}
		})
	}
}

func TestEncodeWireShapes(t *testing.T) {
	cases := []struct {
		msg  Message
		want map[string]any
	}{
		{
			Answer{SDP: "v=0"},
			map[string]any{"command": "OnSuccessAnswer", "sdp": "v=0"},
		},
		{
			LocalCandidate{SDPMid: "0", SDPMLineIndex: 0, Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"},
			map[string]any{"command": "OnIceCandidate", "sdp_mid": "0", "sdp_mline_index": float64(0), "sdp": "candidate:1 1 udp 1 10.0.0.1 5000 typ host"},
		},
		{
			Offer{SDP: "v=0"},
			map[string]any{"command": "offer", "desc": map[string]any{"type": "offer", "sdp": "v=0"}},
		},
		{
			RemoteCandidate{SDPMid: "data", SDPMLineIndex: 1, Candidate: "c"},
			map[string]any{"command": "onicecandidate", "candidate": map[string]any{"candidate": "c", "sdpMid": "data", "sdpMLineIndex": float64(1)}},
		},
	}
	for _, tc := range cases {
		raw, err := Encode(tc.msg)
		if err != nil {
			t.Fatalf("Encode(%#v): %v", tc.msg, err)
		}
		var got map[string]any
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Encode(%#v)=%s, want %v", tc.msg, raw, tc.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, raw := range []string{
		`{"command":"offer","desc":{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}}`,
		`{"command":"onicecandidate","candidate":{"candidate":"candidate:1 1 udp 2130706431 10.0.0.2 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}`,
		`{"command":"OnSuccessAnswer","sdp":"v=0\r\n"}`,
		`{"command":"OnIceCandidate","sdp":"candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host","sdp_mid":"0","sdp_mline_index":0}`,
	} {
		msg, err := Decode([]byte(raw))
		if err != nil {
			t.Fatalf("Decode(%s): %v", raw, err)
		}
		encoded, err := Encode(msg)
		if err != nil {
			t.Fatalf("Encode(%#v): %v", msg, err)
		}
		again, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%s): %v", encoded, err)
		}
		if again != msg {
			t.Fatalf("round trip of %s gave %#v, want %#v", raw, again, msg)
		}

		var want, got map[string]any
		_ = json.Unmarshal([]byte(raw), &want)
		_ = json.Unmarshal(encoded, &got)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("Encode(Decode(%s))=%s", raw, encoded)
		}
	}
}
