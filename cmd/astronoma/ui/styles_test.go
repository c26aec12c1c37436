package ui

import (
	"strings"
	"testing"
)

func TestDetectTheme(t *testing.T) {
	t.Setenv("ASTRONOMA_DARK_MODE", "1")
	if !DetectTheme().IsDark {
		t.Fatalf("expected dark theme when ASTRONOMA_DARK_MODE=1")
	}

	t.Setenv("ASTRONOMA_DARK_MODE", "0")
	if DetectTheme().IsDark {
		t.Fatalf("expected light theme when ASTRONOMA_DARK_MODE=0")
	}

	t.Setenv("ASTRONOMA_DARK_MODE", "")
	t.Setenv("COLORFGBG", "0;15")
	if DetectTheme().IsDark {
		t.Fatalf("expected light theme for a light terminal background")
	}

	t.Setenv("COLORFGBG", "15;0")
	if !DetectTheme().IsDark {
		t.Fatalf("expected dark theme for a dark terminal background")
	}
}

func TestRenderDivider(t *testing.T) {
	s := NewStyles(DarkTheme())
	if got := s.RenderDivider(5); !strings.Contains(got, "─────") {
		t.Fatalf("divider missing: %q", got)
	}
	if got := s.RenderDivider(-1); strings.Contains(got, "─") {
		t.Fatalf("negative width should render nothing, got %q", got)
	}
}
