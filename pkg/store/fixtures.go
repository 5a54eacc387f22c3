package store

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Fixtures 预置会话数据
//
//	conversations:
//	  - id: general
//	    title: General
//	    participants: [alice, bob]
type Fixtures struct {
	Conversations []FixtureConversation `yaml:"conversations"`
}

type FixtureConversation struct {
	ID           string   `yaml:"id"`
	Title        string   `yaml:"title"`
	Participants []string `yaml:"participants"`
}

// LoadFixtures 读取 YAML fixtures
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures 解析 YAML fixtures
func ParseFixtures(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("store: parse fixtures: %w", err)
	}
	for i, c := range f.Conversations {
		if c.ID == "" {
			return nil, fmt.Errorf("store: fixtures conversation #%d has no id", i)
		}
	}
	return &f, nil
}

// Apply 写入 Seeder
func (f *Fixtures) Apply(ctx context.Context, s Seeder) error {
	for _, c := range f.Conversations {
		if err := s.CreateConversation(ctx, c.ID, c.Title, c.Participants); err != nil {
			return fmt.Errorf("store: seed %s: %w", c.ID, err)
		}
	}
	return nil
}
