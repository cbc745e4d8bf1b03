package route

import (
	"errors"
	"strconv"
	"testing"
)

func TestNormalizePortUsesLoopback(t *testing.T) {
	for _, port := range []int{80, 3000, 8080, 65535} {
		r, err := Normalize(PortDefinition(port))
		if err != nil {
			t.Fatalf("normalize %d: %v", port, err)
		}
		want := "http://127.0.0.1:" + strconv.Itoa(port)
		if r.String() != want {
			t.Fatalf("expected %s, got %s", want, r.String())
		}
	}
}

func TestNormalizeAuthorityAddsScheme(t *testing.T) {
	r, err := Normalize(AddressDefinition("domain.com:8080"))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if r.String() != "http://domain.com:8080" {
		t.Fatalf("unexpected uri: %s", r.String())
	}
}

func TestNormalizeKeepsExplicitScheme(t *testing.T) {
	cases := []string{
		"http://domain.com:8080",
		"https://domain.com:8080",
		"HTTPS://domain.com:8443",
	}
	for _, raw := range cases {
		r, err := Normalize(AddressDefinition(raw))
		if err != nil {
			t.Fatalf("normalize %s: %v", raw, err)
		}
		if got := r.URI(); got == nil || got.Host == "" {
			t.Fatalf("missing host for %s", raw)
		}
		if raw != "HTTPS://domain.com:8443" && r.String() != raw {
			t.Fatalf("expected %s unchanged, got %s", raw, r.String())
		}
	}
}

func TestNormalizeLowercasesHeaderKeys(t *testing.T) {
	def := AddressDefinition("https://domain.com:8080").WithHeaders(map[string]string{
		"X-Header":      "X-Value",
		"Authorization": "Bearer ABC",
	})
	r, err := Normalize(def)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	headers := r.Headers()
	if headers["x-header"] != "X-Value" {
		t.Fatalf("header value should be preserved verbatim, got %v", headers)
	}
	if headers["authorization"] != "Bearer ABC" {
		t.Fatalf("authorization header missing: %v", headers)
	}
	if _, ok := headers["X-Header"]; ok {
		t.Fatalf("header keys must be lower-case: %v", headers)
	}
}

func TestNormalizeWithoutHeadersYieldsEmptyMap(t *testing.T) {
	r, err := Normalize(PortDefinition(9000))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if headers := r.Headers(); headers == nil || len(headers) != 0 {
		t.Fatalf("expected empty header map, got %v", headers)
	}
}

func TestRouteAccessorsReturnCopies(t *testing.T) {
	r, err := Normalize(AddressDefinition("example.com").WithHeaders(map[string]string{"a": "1"}))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	r.URI().Host = "mutated"
	r.Headers()["a"] = "2"
	if r.URI().Host != "example.com" || r.Headers()["a"] != "1" {
		t.Fatalf("route must be immutable, got %s %v", r.URI(), r.Headers())
	}
}

func TestParseDefinitionShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  any
		want string
	}{
		{name: "int", raw: 8080, want: "http://127.0.0.1:8080"},
		{name: "json number", raw: float64(3000), want: "http://127.0.0.1:3000"},
		{name: "authority", raw: "domain.com:8080", want: "http://domain.com:8080"},
		{name: "object port", raw: map[string]any{"uri": 8080}, want: "http://127.0.0.1:8080"},
		{name: "object string", raw: map[string]any{"uri": "domain.com:8080"}, want: "http://domain.com:8080"},
		{name: "yaml object", raw: map[any]any{"uri": "https://domain.com"}, want: "https://domain.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def, err := ParseDefinition(tc.raw)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			r, err := Normalize(def)
			if err != nil {
				t.Fatalf("normalize failed: %v", err)
			}
			if r.String() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, r.String())
			}
		})
	}
}

func TestParseDefinitionObjectHeaders(t *testing.T) {
	def, err := ParseDefinition(map[string]any{
		"uri":     "https://domain.com:8080",
		"headers": map[string]any{"X-Header": "X-Value"},
	})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	r, err := Normalize(def)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if r.Headers()["x-header"] != "X-Value" {
		t.Fatalf("unexpected headers: %v", r.Headers())
	}
}

func TestParseDefinitionRejectsInvalidShapes(t *testing.T) {
	cases := map[string]any{
		"array":       []any{8080},
		"bool":        true,
		"nil":         nil,
		"missing uri": map[string]any{"headers": map[string]any{}},
		"array uri":   map[string]any{"uri": []any{8080}},
		"null uri":    map[string]any{"uri": nil},
		"fraction":    1.5,
		"bad headers": map[string]any{"uri": 80, "headers": []any{"x"}},
	}
	for name, raw := range cases {
		if _, err := ParseDefinition(raw); !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("%s: expected ErrInvalidFormat, got %v", name, err)
		}
	}
}
