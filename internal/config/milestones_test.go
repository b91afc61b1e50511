package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ga1ien/kulti-sub004/internal/domain"
)

func writeMilestones(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "milestones.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMilestonesEmptyPathUsesDefaults(t *testing.T) {
	got, err := LoadMilestones("")
	if err != nil {
		t.Fatalf("LoadMilestones: %v", err)
	}
	want := DefaultMilestones()
	if len(got) != len(want) {
		t.Fatalf("got %d milestones, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("milestone %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLoadMilestonesFromFile(t *testing.T) {
	path := writeMilestones(t, `
milestones:
  - key: streak_3
    kind: streak
    threshold: 3
    bonus: 25
    label: 3 Day Streak
  - key: earned_50
    kind: earned
    threshold: 50
    bonus: 5
    label: 50 Earned
  - key: earned_10
    kind: earned
    threshold: 10
    bonus: 1
    label: 10 Earned
`)

	got, err := LoadMilestones(path)
	if err != nil {
		t.Fatalf("LoadMilestones: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d milestones, want 3", len(got))
	}
	// Sorted by kind, then ascending threshold.
	if got[0].Key != "earned_10" || got[1].Key != "earned_50" || got[2].Key != "streak_3" {
		t.Errorf("order = [%s %s %s], want [earned_10 earned_50 streak_3]",
			got[0].Key, got[1].Key, got[2].Key)
	}
	if got[2].Kind != domain.MilestoneStreak || got[2].Threshold != 3 || got[2].Bonus != 25 {
		t.Errorf("streak_3 = %+v", got[2])
	}
}

func TestLoadMilestonesValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			"missing key",
			"milestones:\n  - kind: earned\n    threshold: 10\n    bonus: 5\n",
			"no key",
		},
		{
			"duplicate key",
			"milestones:\n  - {key: a, kind: earned, threshold: 10, bonus: 5}\n  - {key: a, kind: earned, threshold: 20, bonus: 5}\n",
			"duplicate",
		},
		{
			"unknown kind",
			"milestones:\n  - {key: a, kind: referral, threshold: 10, bonus: 5}\n",
			"unknown kind",
		},
		{
			"zero threshold",
			"milestones:\n  - {key: a, kind: earned, threshold: 0, bonus: 5}\n",
			"positive threshold",
		},
		{
			"negative bonus",
			"milestones:\n  - {key: a, kind: streak, threshold: 7, bonus: -1}\n",
			"positive threshold",
		},
		{
			"malformed yaml",
			"milestones: [",
			"parsing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMilestones(writeMilestones(t, tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMilestonesMissingFile(t *testing.T) {
	if _, err := LoadMilestones(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
