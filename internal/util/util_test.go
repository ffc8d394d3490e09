package util

import (
	"strings"
	"testing"
)

func TestRenderTemplateLeavesUnknownPlaceholders(t *testing.T) {
	got := RenderTemplate("Hi {userName}, see {linkPageUrl} {unknown}", map[string]string{
		"userName":    "Ana",
		"linkPageUrl": "https://l.example/ana",
	})
	want := "Hi Ana, see https://l.example/ana {unknown}"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRenderTemplateSinglePass(t *testing.T) {
	got := RenderTemplate("{userName} on {date}", map[string]string{
		"userName": "{date}",
		"date":     "2024-05-01",
	})
	if got != "{date} on 2024-05-01" {
		t.Fatalf("value was substituted twice: %q", got)
	}
}

func TestNewIDPrefixAndOrder(t *testing.T) {
	a := NewLogID()
	if !strings.HasPrefix(a, "log_") {
		t.Fatalf("expected log_ prefix, got %q", a)
	}
	if len(a) != len("log_")+26 {
		t.Fatalf("unexpected id length %d", len(a))
	}
}
