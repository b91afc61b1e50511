package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ga1ien/kulti-sub004/internal/domain"
)

// LoadMilestones reads the milestone threshold table from a YAML file.
// An empty path selects the built-in defaults. The table is read-only at
// runtime; entries are returned sorted by threshold within each kind.
func LoadMilestones(path string) ([]domain.Milestone, error) {
	if path == "" {
		return DefaultMilestones(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading milestones file: %w", err)
	}

	var doc struct {
		Milestones []domain.Milestone `yaml:"milestones"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing milestones file: %w", err)
	}

	seen := make(map[string]bool, len(doc.Milestones))
	for _, m := range doc.Milestones {
		if m.Key == "" {
			return nil, fmt.Errorf("milestone with threshold %d has no key", m.Threshold)
		}
		if seen[m.Key] {
			return nil, fmt.Errorf("duplicate milestone key %q", m.Key)
		}
		seen[m.Key] = true
		if m.Kind != domain.MilestoneEarned && m.Kind != domain.MilestoneStreak {
			return nil, fmt.Errorf("milestone %q has unknown kind %q", m.Key, m.Kind)
		}
		if m.Threshold <= 0 || m.Bonus <= 0 {
			return nil, fmt.Errorf("milestone %q requires positive threshold and bonus", m.Key)
		}
	}

	out := doc.Milestones
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Threshold < out[j].Threshold
	})
	return out, nil
}

// DefaultMilestones mirrors the platform's launch threshold tables.
func DefaultMilestones() []domain.Milestone {
	return []domain.Milestone{
		{Key: "first_credits", Kind: domain.MilestoneEarned, Threshold: 1, Bonus: 100, Label: "First Credits"},
		{Key: "earned_1k", Kind: domain.MilestoneEarned, Threshold: 1000, Bonus: 500, Label: "1,000 Credits Earned"},
		{Key: "earned_10k", Kind: domain.MilestoneEarned, Threshold: 10000, Bonus: 2500, Label: "10,000 Credits Earned"},
		{Key: "earned_100k", Kind: domain.MilestoneEarned, Threshold: 100000, Bonus: 10000, Label: "100,000 Credits Earned"},
		{Key: "streak_7", Kind: domain.MilestoneStreak, Threshold: 7, Bonus: 100, Label: "7 Day Streak"},
		{Key: "streak_30", Kind: domain.MilestoneStreak, Threshold: 30, Bonus: 500, Label: "30 Day Streak"},
		{Key: "streak_100", Kind: domain.MilestoneStreak, Threshold: 100, Bonus: 2000, Label: "100 Day Streak"},
	}
}
