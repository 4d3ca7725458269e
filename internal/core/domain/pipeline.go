package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Pipeline Errors
// =============================================================================

var (
	ErrInvalidName = errors.New("invalid pipeline name")
	ErrInvalidSlug = errors.New("invalid pipeline slug")
)

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline is a stored workflow definition. The raw YAML is kept verbatim so
// a run always executes the definition it was created from.
type Pipeline struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version"`
	Definition  string    `json:"definition"` // workflow YAML
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewPipeline creates a pipeline with a generated ID and slug.
func NewPipeline(name, description, definition string) (*Pipeline, error) {
	if name == "" {
		return nil, ErrInvalidName
	}

	slug := Slugify(name)
	if slug == "" {
		return nil, ErrInvalidSlug
	}

	now := time.Now().UTC()
	return &Pipeline{
		ID:          uuid.New().String(),
		Name:        name,
		Slug:        slug,
		Description: description,
		Version:     "1",
		Definition:  definition,
		Published:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Publish marks the pipeline as runnable.
func (p *Pipeline) Publish() {
	p.Published = true
	p.UpdatedAt = time.Now().UTC()
}
