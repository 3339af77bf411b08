package assetproxy

import (
	"encoding/base64"
	"testing"
)

func TestEncodeAbsoluteURL(t *testing.T) {
	raw := "https://assets.grok.com/img/abc.png?sig=1"
	got := Encode(raw)
	want := "u_" + base64.RawURLEncoding.EncodeToString([]byte(raw))
	if got != want {
		t.Fatalf("Encode(%q) = %q, want %q", raw, got, want)
	}

	value, isURL, ok := Decode(got)
	if !ok || !isURL || value != raw {
		t.Fatalf("Decode round trip failed: value=%q isURL=%v ok=%v", value, isURL, ok)
	}
}

func TestEncodeRelativePathGainsSlash(t *testing.T) {
	got := Encode("users/x/generated/y.jpg")
	value, isURL, ok := Decode(got)
	if !ok || isURL {
		t.Fatalf("Decode failed: isURL=%v ok=%v", isURL, ok)
	}
	if value != "/users/x/generated/y.jpg" {
		t.Fatalf("expected leading slash, got %q", value)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, seg := range []string{"", "x_abc", "u_%%%", "no-prefix"} {
		if _, _, ok := Decode(seg); ok {
			t.Fatalf("Decode(%q) unexpectedly succeeded", seg)
		}
	}
}

func TestProxyImageURL(t *testing.T) {
	got := ProxyImageURL("https://gw.example.com/", "/img/a.png")
	want := "https://gw.example.com/images/" + Encode("/img/a.png")
	if got != want {
		t.Fatalf("ProxyImageURL = %q, want %q", got, want)
	}
}

func TestNormalize(t *testing.T) {
	in := []any{
		"https://x/y.png",
		"  ",
		"/",
		"https://host.example/",
		"https://host.example/?q=1",
		42,
		nil,
		"relative/path.jpg",
	}
	got := Normalize(in)
	want := []string{"https://x/y.png", "https://host.example/?q=1", "relative/path.jpg"}
	if len(got) != len(want) {
		t.Fatalf("Normalize returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Normalize[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
