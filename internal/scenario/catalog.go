// Package scenario provides the scenario template catalog: curated,
// validated templates per threat type and difficulty band, including the
// cached fallback scenarios used when the threat agent or the generation
// provider is unavailable.
package scenario

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"guardacademy.io/guardacademy/internal/session"
)

//go:embed templates/*.yaml
var builtinFS embed.FS

// Stage is one decision point within a scenario template.
type Stage struct {
	// Category is the vulnerability the stage tests
	Category session.Category `yaml:"category" validate:"required,oneof=urgency authority curiosity fear greed"`

	// Stimulus is the pressure beat presented to the trainee
	Stimulus string `yaml:"stimulus" validate:"required"`

	// CorrectAction is the optimal response to the stimulus
	CorrectAction session.Action `yaml:"correct_action" validate:"required,oneof=recognized_and_reported verified_first hesitated_then_complied complied_immediately"`

	// Hint is shown when the trainee asks for help at this stage
	Hint string `yaml:"hint"`
}

// Template is a scenario pattern. Templates double as fallback content:
// every beat has static text usable when generation is unavailable.
type Template struct {
	ID         string             `yaml:"id" validate:"required"`
	Name       string             `yaml:"name" validate:"required"`
	ThreatType session.ThreatType `yaml:"threat_type" validate:"required,oneof=phishing vishing bec physical insider"`

	// Difficulty band this template suits
	MinDifficulty int `yaml:"min_difficulty" validate:"min=1,max=5"`
	MaxDifficulty int `yaml:"max_difficulty" validate:"min=1,max=5"`

	// Opening is the first narrative beat
	Opening string `yaml:"opening" validate:"required"`

	// Email artifact fields, used for email-borne threat types
	EmailSubject string `yaml:"email_subject"`
	EmailSender  string `yaml:"email_sender"`

	Stages []Stage `yaml:"stages" validate:"required,min=1,dive"`

	// Debrief closes the scenario when the narrative resolves
	Debrief string `yaml:"debrief" validate:"required"`
}

// PrimaryCategory returns the first stage's category, used for variety
// tracking.
func (t *Template) PrimaryCategory() session.Category {
	return t.Stages[0].Category
}

// Catalog holds validated templates indexed by threat type.
type Catalog struct {
	logger    zerolog.Logger
	templates map[session.ThreatType][]*Template
	byID      map[string]*Template
}

// Load builds a catalog from the embedded templates plus any *.yaml files
// in dir (optional; empty dir loads only built-ins). Every template is
// validated before it is admitted.
func Load(dir string, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		logger:    logger.With().Str("component", "catalog").Logger(),
		templates: make(map[session.ThreatType][]*Template),
		byID:      make(map[string]*Template),
	}

	validate := validator.New()

	if err := c.loadFS(builtinFS, "templates", validate); err != nil {
		return nil, fmt.Errorf("failed to load built-in templates: %w", err)
	}

	if dir != "" {
		if err := c.loadFS(os.DirFS(dir), ".", validate); err != nil {
			return nil, fmt.Errorf("failed to load templates from %s: %w", dir, err)
		}
	}

	total := 0
	for _, list := range c.templates {
		// Deterministic selection order.
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		total += len(list)
	}

	c.logger.Info().Int("templates", total).Msg("Scenario catalog loaded")
	return c, nil
}

func (c *Catalog) loadFS(fsys fs.FS, root string, validate *validator.Validate) error {
	return fs.WalkDir(fsys, root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			return nil
		}

		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		var tmpl Template
		if err := yaml.Unmarshal(data, &tmpl); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if err := validate.Struct(&tmpl); err != nil {
			return fmt.Errorf("invalid template %s: %w", filepath.Base(path), err)
		}
		if tmpl.MinDifficulty > tmpl.MaxDifficulty {
			return fmt.Errorf("invalid template %s: min_difficulty exceeds max_difficulty", tmpl.ID)
		}
		if _, dup := c.byID[tmpl.ID]; dup {
			return fmt.Errorf("duplicate template id: %s", tmpl.ID)
		}

		t := tmpl
		c.byID[t.ID] = &t
		c.templates[t.ThreatType] = append(c.templates[t.ThreatType], &t)
		return nil
	})
}

// Get returns a template by ID, or nil.
func (c *Catalog) Get(id string) *Template {
	return c.byID[id]
}

// ThreatTypesAvailable lists threat types that have at least one template.
func (c *Catalog) ThreatTypesAvailable() []session.ThreatType {
	var types []session.ThreatType
	for _, tt := range session.ThreatTypes {
		if len(c.templates[tt]) > 0 {
			types = append(types, tt)
		}
	}
	return types
}

// Select picks a template for the threat type and difficulty, skipping
// excluded pattern IDs while any non-excluded candidate remains. A
// focus category narrows candidates to templates exercising it when
// possible. Selection is deterministic: lowest ID wins.
func (c *Catalog) Select(threat session.ThreatType, difficulty int, focus session.Category, exclude []string) (*Template, error) {
	candidates := c.candidates(threat, difficulty)
	if len(candidates) == 0 {
		// Relax the difficulty band before giving up.
		candidates = c.templates[threat]
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no templates for threat type %s", threat)
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	var fresh []*Template
	for _, t := range candidates {
		if _, skip := excluded[t.ID]; !skip {
			fresh = append(fresh, t)
		}
	}

	// Only repeat a pattern when every candidate was recently used.
	if len(fresh) == 0 {
		fresh = candidates
	}

	for _, t := range fresh {
		if t.PrimaryCategory() == focus {
			return t, nil
		}
	}
	return fresh[0], nil
}

// Fallback returns the lowest-difficulty template for the threat type,
// used when the threat agent is unreachable. Templates are self-contained
// so a session can run entirely from one.
func (c *Catalog) Fallback(threat session.ThreatType) (*Template, error) {
	list := c.templates[threat]
	if len(list) == 0 {
		return nil, fmt.Errorf("no fallback template for threat type %s", threat)
	}

	best := list[0]
	for _, t := range list[1:] {
		if t.MinDifficulty < best.MinDifficulty {
			best = t
		}
	}
	return best, nil
}

func (c *Catalog) candidates(threat session.ThreatType, difficulty int) []*Template {
	var out []*Template
	for _, t := range c.templates[threat] {
		if difficulty >= t.MinDifficulty && difficulty <= t.MaxDifficulty {
			out = append(out, t)
		}
	}
	return out
}
