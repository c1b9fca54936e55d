package origin

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "http://Example.COM", want: "http://example.com", ok: true},
		{in: "https://example.com:443", want: "https://example.com", ok: true},
		{in: "http://example.com:80/", want: "http://example.com", ok: true},
		{in: "http://192.168.1.20:8880", want: "http://192.168.1.20:8880", ok: true},
		{in: "http://[::1]:8080", want: "http://[::1]:8080", ok: true},
		{in: "http://[::1]", want: "http://[::1]", ok: true},
		{in: "null", want: "null", ok: true},
		{in: "", ok: false},
		{in: "ftp://example.com", ok: false},
		{in: "http://example.com/path", ok: false},
		{in: "http://user@example.com", ok: false},
		{in: "http://example.com:0", ok: false},
		{in: "http://example.com:99999", ok: false},
		{in: "http://example.com:", ok: false},
	}
	for _, tc := range cases {
		got, ok := Normalize(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Normalize(%q)=(%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPolicy_EmptyAllowsAny(t *testing.T) {
	p := NewPolicy(nil)
	if !p.AllowsAny() {
		t.Fatalf("AllowsAny=false, want true")
	}
	if !p.Allow("http://anything.example:1234") {
		t.Fatalf("expected any origin to be allowed")
	}
}

func TestPolicy_AllowList(t *testing.T) {
	p := NewPolicy([]string{"http://192.168.1.20:8880", "https://Game.Example"})
	if p.AllowsAny() {
		t.Fatalf("AllowsAny=true, want false")
	}

	cases := map[string]bool{
		"http://192.168.1.20:8880":  true,
		"https://game.example:443":  true,
		"http://192.168.1.20:8881":  false,
		"http://game.example":       false,
		"not a url":                 false,
		"":                          true,
	}
	for header, want := range cases {
		if got := p.Allow(header); got != want {
			t.Fatalf("Allow(%q)=%v, want %v", header, got, want)
		}
	}
}

func TestPolicy_WildcardEntry(t *testing.T) {
	p := NewPolicy([]string{"http://a.example", "*"})
	if !p.Allow("http://b.example") {
		t.Fatalf("expected wildcard to allow any origin")
	}
}
