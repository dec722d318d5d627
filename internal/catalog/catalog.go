// Package catalog loads minigame definitions and display messages from YAML.
package catalog

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/hpl-runner/internal/domain"
	"github.com/park285/hpl-runner/internal/scoring"
)

//go:embed minigames.yaml
var defaultFiles embed.FS

const (
	PolicyTimeBonus = "time_bonus"
	PolicyFlat      = "flat"

	defaultMaxTime = 180
)

type Scoring struct {
	Policy       string `yaml:"policy"`
	Base         int    `yaml:"base"`
	BonusStepSec int    `yaml:"bonus_step_sec"`
	BonusPerStep int    `yaml:"bonus_per_step"`
	Max          int    `yaml:"max"`
}

type Definition struct {
	ID          domain.MinigameID `yaml:"id"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Order       int               `yaml:"order"`
	MaxTime     int               `yaml:"max_time"`
	Scoring     Scoring           `yaml:"scoring"`
}

type file struct {
	Minigames []Definition      `yaml:"minigames"`
	Messages  map[string]string `yaml:"messages"`
}

// Catalog holds minigame definitions from embedded defaults plus an
// optional override file or directory. Overrides merge per id.
type Catalog struct {
	mu       sync.RWMutex
	games    map[domain.MinigameID]Definition
	messages map[string]string
}

func New(overridePath string) (*Catalog, error) {
	c := &Catalog{games: make(map[domain.MinigameID]Definition), messages: make(map[string]string)}

	raw, err := fs.ReadFile(defaultFiles, "minigames.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded catalog: %w", err)
	}
	if err := c.applyYAML(raw, "minigames.yaml"); err != nil {
		return nil, err
	}
	if p := strings.TrimSpace(overridePath); p != "" {
		if err := c.applyPath(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) applyPath(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat catalog override: %w", err)
	}
	if !st.IsDir() {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		return c.applyYAML(b, filepath.Base(path))
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read catalog dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	// 같은 minigame 을 두 override 파일이 건드리면 거부
	seen := make(map[domain.MinigameID]string)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		parsed, err := parse(b)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for _, d := range parsed.Minigames {
			if prev, ok := seen[d.ID]; ok {
				return fmt.Errorf("duplicate override for %q in %s and %s", d.ID, prev, name)
			}
			seen[d.ID] = name
		}
		if err := c.apply(parsed, name); err != nil {
			return err
		}
	}
	return nil
}

func parse(b []byte) (*file, error) {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	for i := range f.Minigames {
		id, ok := domain.ParseMinigameID(string(f.Minigames[i].ID))
		if !ok {
			return nil, fmt.Errorf("unknown minigame %q", f.Minigames[i].ID)
		}
		f.Minigames[i].ID = id
	}
	return &f, nil
}

func (c *Catalog) applyYAML(b []byte, name string) error {
	parsed, err := parse(b)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return c.apply(parsed, name)
}

func (c *Catalog) apply(f *file, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range f.Minigames {
		merged := merge(c.games[d.ID], d)
		if err := validate(merged); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		c.games[d.ID] = merged
	}
	for k, v := range f.Messages {
		c.messages[strings.TrimSpace(k)] = v
	}
	return nil
}

// merge overlays the non-zero fields of over onto base.
func merge(base, over Definition) Definition {
	out := base
	out.ID = over.ID
	if over.Title != "" {
		out.Title = over.Title
	}
	if over.Description != "" {
		out.Description = over.Description
	}
	if over.Order != 0 {
		out.Order = over.Order
	}
	if over.MaxTime != 0 {
		out.MaxTime = over.MaxTime
	}
	if over.Scoring.Policy != "" {
		out.Scoring = over.Scoring
	}
	if out.MaxTime == 0 {
		out.MaxTime = defaultMaxTime
	}
	return out
}

func validate(d Definition) error {
	if d.MaxTime < 0 {
		return fmt.Errorf("%s: max_time must be positive", d.ID)
	}
	switch d.Scoring.Policy {
	case "", PolicyTimeBonus, PolicyFlat:
	default:
		return fmt.Errorf("%s: unknown scoring policy %q", d.ID, d.Scoring.Policy)
	}
	if d.Scoring.Max < 0 || d.Scoring.Max > scoring.Max {
		return fmt.Errorf("%s: scoring max must be within [0, %d]", d.ID, scoring.Max)
	}
	return nil
}

func (c *Catalog) Get(id domain.MinigameID) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.games[id]
	return d, ok
}

// All returns the definitions in play order.
func (c *Catalog) All() []Definition {
	c.mu.RLock()
	out := make([]Definition, 0, len(c.games))
	for _, d := range c.games {
		out = append(out, d)
	}
	c.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Catalog) Order() []domain.MinigameID {
	all := c.All()
	ids := make([]domain.MinigameID, len(all))
	for i, d := range all {
		ids[i] = d.ID
	}
	return ids
}

// MaxTime falls back to 180 seconds for unknown minigames.
func (c *Catalog) MaxTime(id domain.MinigameID) int {
	if d, ok := c.Get(id); ok && d.MaxTime > 0 {
		return d.MaxTime
	}
	return defaultMaxTime
}

// Strategy builds the scoring strategy configured for id. Unknown ids and
// blank policies get the default time bonus curve.
func (c *Catalog) Strategy(id domain.MinigameID) scoring.Strategy {
	d, ok := c.Get(id)
	if !ok {
		return scoring.Default()
	}
	s := d.Scoring
	limit := s.Max
	if limit == 0 {
		limit = scoring.Max
	}
	switch s.Policy {
	case PolicyFlat:
		return scoring.Flat(limit)
	case PolicyTimeBonus:
		if s.BonusStepSec == 0 && s.BonusPerStep == 0 && s.Base == 0 {
			return scoring.Default()
		}
		return scoring.TimeBonus(s.Base, s.BonusStepSec, s.BonusPerStep, limit)
	default:
		return scoring.Default()
	}
}

// Render executes a message template by key. Missing keys cause errors;
// callers should provide a fallback.
func (c *Catalog) Render(key string, data any) (string, error) {
	c.mu.RLock()
	tpl, ok := c.messages[strings.TrimSpace(key)]
	c.mu.RUnlock()
	if !ok || strings.TrimSpace(tpl) == "" {
		return "", fmt.Errorf("message not found: %s", key)
	}
	t, err := template.New(key).Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// ErrUnknownMinigame is returned by Lookup for ids not in the catalog.
var ErrUnknownMinigame = errors.New("unknown minigame")

// Lookup resolves a user-supplied name (id or short key) to a definition.
func (c *Catalog) Lookup(name string) (Definition, error) {
	id, ok := domain.ParseMinigameID(name)
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownMinigame, name)
	}
	d, ok := c.Get(id)
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownMinigame, name)
	}
	return d, nil
}
