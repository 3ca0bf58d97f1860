package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedDefaults(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := c.Render("errors.not-your-turn", nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "It is not your turn." {
		t.Fatalf("unexpected text: %q", got)
	}
	got, err = c.Render("notices.resigned", map[string]string{"Player": "alice"})
	if err != nil {
		t.Fatalf("render notice: %v", err)
	}
	if got != "alice resigned." {
		t.Fatalf("unexpected notice: %q", got)
	}
}

func TestMissingDataKeyIsError(t *testing.T) {
	c := MustDefault()
	if _, err := c.Render("notices.resigned", map[string]string{}); err == nil {
		t.Fatalf("expected missing key error")
	}
	if got := c.Text("notices.resigned", map[string]string{}); got != "notices.resigned" {
		t.Fatalf("fallback should be the key, got %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	body := "errors:\n  not-your-turn: \"Wait for your opponent.\"\n"
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := c.Text("errors.not-your-turn", nil); got != "Wait for your opponent." {
		t.Fatalf("override not applied: %q", got)
	}
	if got := c.Text("errors.room-full", nil); got != "The room already has a guest." {
		t.Fatalf("default lost: %q", got)
	}
}

func TestDuplicateOverrideKeys(t *testing.T) {
	dir := t.TempDir()
	body := "errors:\n  room-full: \"x\"\n"
	for _, n := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
