// Package skill holds the marketing domain knowledge injected into prompts
// and the rule-based task suggestions derived from account data.
package skill

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/harunnryd/brain/internal/domain"

	"gopkg.in/yaml.v3"
)

//go:embed marketing.yaml
var marketingYAML []byte

type Prompts struct {
	Classifier string `yaml:"classifier"`
	Planning   string `yaml:"planning"`
	Situation  string `yaml:"situation"`
	Research   string `yaml:"research"`
}

// Category is a kind of marketing task the brain may suggest.
type Category struct {
	ID          string          `yaml:"id"`
	Icon        string          `yaml:"icon"`
	Label       string          `yaml:"label"`
	Description string          `yaml:"description"`
	Priority    domain.Priority `yaml:"priority"`
	Agent       string          `yaml:"agent"`
}

// Suggestion is the text template of one rule-based task.
type Suggestion struct {
	IDPrefix    string          `yaml:"id_prefix"`
	Category    string          `yaml:"category"`
	Priority    domain.Priority `yaml:"priority"`
	Agent       string          `yaml:"agent"`
	Title       string          `yaml:"title"`
	Description string          `yaml:"description"`
	Action      string          `yaml:"action"`
}

type Skill struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	Prompts     Prompts               `yaml:"prompts"`
	Categories  []Category            `yaml:"categories"`
	Suggestions map[string]Suggestion `yaml:"suggestions"`
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// Parse decodes and validates a skill document.
func Parse(data []byte) (*Skill, error) {
	var s Skill
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid skill YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Skill) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	seen := make(map[string]bool, len(s.Categories))
	for i, c := range s.Categories {
		if c.ID == "" {
			return &ValidationError{Field: fmt.Sprintf("categories[%d].id", i), Message: "is required"}
		}
		if seen[c.ID] {
			return &ValidationError{Field: fmt.Sprintf("categories[%d].id", i), Message: "duplicate " + c.ID}
		}
		seen[c.ID] = true
	}
	for key, sug := range s.Suggestions {
		if sug.Agent == "" || sug.Title == "" || sug.Action == "" {
			return &ValidationError{Field: "suggestions." + key, Message: "agent, title and action are required"}
		}
		if sug.Priority.Rank() == 0 {
			return &ValidationError{Field: "suggestions." + key + ".priority", Message: "unknown priority " + string(sug.Priority)}
		}
	}
	return nil
}

// Marketing returns the embedded marketing skill. The document is part of
// the binary, so a parse failure is a programming error.
func Marketing() *Skill {
	s, err := Parse(marketingYAML)
	if err != nil {
		panic(err)
	}
	return s
}

// Category returns the category with the given id.
func (s *Skill) Category(id string) (Category, bool) {
	for _, c := range s.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// ClassifierPrompt is the fragment appended to intent classification.
func (s *Skill) ClassifierPrompt() string {
	return strings.TrimSpace(s.Prompts.Classifier + "\n" + s.Prompts.Research)
}

// PlanningPrompt is the fragment appended to agent planning prompts.
func (s *Skill) PlanningPrompt() string {
	return strings.TrimSpace(s.Prompts.Planning)
}

// SituationPrompt is the fragment appended to situation analysis.
func (s *Skill) SituationPrompt() string {
	return strings.TrimSpace(s.Prompts.Situation)
}
