package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/park285/hpl-runner/internal/domain"
)

func TestEmbeddedDefaults(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	order := c.Order()
	if len(order) != len(domain.AllMinigames()) {
		t.Fatalf("order = %v", order)
	}
	for i, id := range domain.AllMinigames() {
		if order[i] != id {
			t.Fatalf("order[%d] = %s, want %s", i, order[i], id)
		}
	}
	if got := c.MaxTime(domain.MinigameMemory); got != 180 {
		t.Fatalf("memory max_time = %d", got)
	}
	if got := c.Strategy(domain.MinigameMemory)(150, 180); got != 65 {
		t.Fatalf("memory strategy(150) = %d", got)
	}
	if got := c.Strategy(domain.MinigameConnections)(0, 240); got != 100 {
		t.Fatalf("flat strategy = %d", got)
	}
	if got := c.Strategy(domain.MinigameScrambles)(60, 120); got != 52 {
		t.Fatalf("scrambles strategy(60) = %d", got)
	}
}

func TestRenderMessages(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := c.Render("win", map[string]any{"Title": "Memory", "Score": 65, "Remaining": 150})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "Memory") || !strings.Contains(out, "65") {
		t.Fatalf("rendered = %q", out)
	}
	if _, err := c.Render("win", map[string]any{"Title": "x"}); err == nil {
		t.Fatalf("missing template field should fail")
	}
	if _, err := c.Render("nope", nil); err == nil {
		t.Fatalf("unknown key should fail")
	}
}

func TestOverrideFileMergesPerID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	body := `
minigames:
  - id: memory
    max_time: 90
    scoring:
      policy: flat
      max: 80
messages:
  win: "won {{.Score}}"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d, ok := c.Get(domain.MinigameMemory)
	if !ok || d.MaxTime != 90 || d.Title != "Memory" || d.Order != 3 {
		t.Fatalf("merged definition = %+v", d)
	}
	if got := c.Strategy(domain.MinigameMemory)(100, 90); got != 80 {
		t.Fatalf("override strategy = %d", got)
	}
	if out, _ := c.Render("win", map[string]any{"Score": 7}); out != "won 7" {
		t.Fatalf("override message = %q", out)
	}
}

func TestOverrideDirRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yml"} {
		body := "minigames:\n  - id: matrix-game\n    max_time: 10\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, err := New(dir); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestInvalidOverrides(t *testing.T) {
	cases := map[string]string{
		"unknown id":     "minigames:\n  - id: chess\n",
		"bad policy":     "minigames:\n  - id: memory-game\n    scoring:\n      policy: random\n",
		"max over limit": "minigames:\n  - id: memory-game\n    scoring:\n      policy: flat\n      max: 500\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "o.yaml")
			_ = os.WriteFile(path, []byte(body), 0o644)
			if _, err := New(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLookup(t *testing.T) {
	c, _ := New("")
	d, err := c.Lookup("dragAndDrop")
	if err != nil || d.ID != domain.MinigameDragAndDrop {
		t.Fatalf("Lookup = %+v, %v", d, err)
	}
	if _, err := c.Lookup("tetris"); !errors.Is(err, ErrUnknownMinigame) {
		t.Fatalf("expected ErrUnknownMinigame, got %v", err)
	}
}
