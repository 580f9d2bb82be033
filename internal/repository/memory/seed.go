package memory

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"trainingportal/internal/model"
)

// Seed is fixture data for the in-memory backend.
type Seed struct {
	Recipients  []SeedRecipient `yaml:"recipients"`
	Workstreams []SeedEntity    `yaml:"workstreams"`
	Chapters    []SeedEntity    `yaml:"chapters"`
	Assessments []SeedEntity    `yaml:"assessments"`
}

type SeedRecipient struct {
	ID          int64  `yaml:"id"`
	Email       string `yaml:"email"`
	DisplayName string `yaml:"display_name"`
}

// SeedEntity is one deadline-bearing entity. A deadline may instead be given
// as due_in, relative to load time ("72h", "-30h").
type SeedEntity struct {
	ID       int64     `yaml:"id"`
	Title    string    `yaml:"title"`
	Deadline time.Time `yaml:"deadline"`
	DueIn    string    `yaml:"due_in"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &s, nil
}

// Directory returns the seeded recipients.
func (s *Seed) Directory() *Directory {
	recipients := make([]model.Recipient, 0, len(s.Recipients))
	for _, r := range s.Recipients {
		recipients = append(recipients, model.Recipient{ID: r.ID, Email: r.Email, DisplayName: r.DisplayName})
	}
	return NewDirectory(recipients...)
}

// Sources returns one deadline source per entity type.
func (s *Seed) Sources(now time.Time) (map[model.TargetType]*DeadlineSource, error) {
	out := make(map[model.TargetType]*DeadlineSource, 3)
	for targetType, entities := range map[model.TargetType][]SeedEntity{
		model.TargetWorkstream: s.Workstreams,
		model.TargetChapter:    s.Chapters,
		model.TargetAssessment: s.Assessments,
	} {
		src := NewDeadlineSource(targetType)
		for _, e := range entities {
			deadline := e.Deadline
			if e.DueIn != "" {
				d, err := time.ParseDuration(e.DueIn)
				if err != nil {
					return nil, fmt.Errorf("%s %d: bad due_in %q: %w", targetType, e.ID, e.DueIn, err)
				}
				deadline = now.Add(d)
			}
			src.Add(model.DeadlineRecord{ID: e.ID, Title: e.Title, Deadline: deadline})
		}
		out[targetType] = src
	}
	return out, nil
}
