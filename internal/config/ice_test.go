package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersJSON(`[
	  {"urls": "stun:stun.example.com:3478"},
	  {"urls": [" turn:turn.example.com:3478?transport=udp ", ""], "username": "user", "credential": "pass"}
	]`)
	if err != nil {
		t.Fatalf("err=%v, want nil", err)
	}
	if len(servers) != 2 {
		t.Fatalf("servers=%d, want 2", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("stun urls=%v", got)
	}
	if got := servers[1].URLs; len(got) != 1 || got[0] != "turn:turn.example.com:3478?transport=udp" {
		t.Fatalf("turn urls=%v", got)
	}
	if servers[1].Username != "user" || servers[1].Credential != "pass" {
		t.Fatalf("turn auth=%q/%v, want user/pass", servers[1].Username, servers[1].Credential)
	}
	if servers[0].Credential != nil {
		t.Fatalf("stun credential=%v, want nil", servers[0].Credential)
	}
}

func TestParseICEServersJSONRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "turn without username", raw: `[{"urls": "turn:turn.example.com"}]`, want: errTURNNeedsUsername},
		{name: "turn without credential", raw: `[{"urls": "turns:turn.example.com", "username": "u"}]`, want: errTURNNeedsSecret},
		{name: "http url", raw: `[{"urls": ["http://example.com"]}]`, want: stun.ErrSchemeType},
		{name: "stun with query", raw: `[{"urls": "stun:a.example:3478?transport=tcp"}]`, want: stun.ErrSTUNQuery},
		{name: "no urls", raw: `[{"urls": []}]`, want: errNoICEURLs},
		{name: "only blank urls", raw: `[{"urls": ["  "]}]`, want: errEmptyICEURL},
		{name: "urls not strings", raw: `[{"urls": 5}]`},
		{name: "not json", raw: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseICEServersJSON(tt.raw)
			if err == nil {
				t.Fatal("err=nil, want error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv(
		"stun:a.example:3478, ,stun:b.example",
		"turn:t.example:3478",
		" user ",
		"pass",
	)
	if err != nil {
		t.Fatalf("err=%v, want nil", err)
	}
	if len(servers) != 2 {
		t.Fatalf("servers=%d, want 2", len(servers))
	}
	if got := servers[0].URLs; len(got) != 2 || got[1] != "stun:b.example" {
		t.Fatalf("stun urls=%v", got)
	}
	if servers[1].Username != "user" {
		t.Fatalf("turn username=%q, want user", servers[1].Username)
	}

	none, err := ParseICEServersFromConvenienceEnv("", " ", "", "")
	if err != nil || len(none) != 0 {
		t.Fatalf("servers=%v err=%v, want none", none, err)
	}
}

func TestParseICEServersFromConvenienceEnvNamesVariables(t *testing.T) {
	t.Parallel()

	_, err := ParseICEServersFromConvenienceEnv("", "turn:t.example:3478", "user", "")
	if err == nil || !strings.Contains(err.Error(), envTurnCredential) {
		t.Fatalf("err=%v, want mention of %s", err, envTurnCredential)
	}

	_, err = ParseICEServersFromConvenienceEnv("ftp:x.example", "", "", "")
	if err == nil || !strings.Contains(err.Error(), envStunURLs) {
		t.Fatalf("err=%v, want mention of %s", err, envStunURLs)
	}
}

func TestParseICEServersFromValuesJSONWins(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServersFromValues(`[{"urls":"stun:json.example"}]`, "stun:env.example", "", "", "")
	if err != nil {
		t.Fatalf("err=%v, want nil", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example" {
		t.Fatalf("servers=%v, want the JSON entry", servers)
	}

	_, err = parseICEServersFromValues(`[{"urls":"bogus"}]`, "", "", "", "")
	if err == nil || !strings.Contains(err.Error(), envICEServersJSON) {
		t.Fatalf("err=%v, want mention of %s", err, envICEServersJSON)
	}
}

func TestHasTURNServer(t *testing.T) {
	t.Parallel()

	if HasTURNServer([]webrtc.ICEServer{{URLs: []string{"stun:a.example"}}}) {
		t.Fatal("stun only reported as TURN")
	}
	if !HasTURNServer([]webrtc.ICEServer{{URLs: []string{"stun:a.example", "TURNS:t.example"}}}) {
		t.Fatal("turns url not detected")
	}
	if HasTURNServer(nil) {
		t.Fatal("empty list reported as TURN")
	}
}
