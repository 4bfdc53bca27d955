package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderReportHTML(t *testing.T) {
	expert := 0.8
	report := Report{
		CoopID:          "coop-1",
		ProposalID:      "prop-1",
		Title:           "Community Grocery",
		Summary:         "A member-owned grocery store",
		Category:        "food",
		BudgetCurrency:  "USD",
		BudgetAmount:    8000,
		Status:          "votable",
		Decision:        "advance",
		DecisionReasons: []string{"composite score 0.78 meets the screening threshold 0.60"},
		CompositeScore:  0.78,
		MissionScore:    0.82,
		StructuralScore: 0.71,
		CouncilRequired: true,
		VotesFor:        2,
		VotesAgainst:    1,
		Revisions: []RevisionRow{
			{Number: 1, Decision: "needs_info", Composite: 0.55, ConfigVersion: 1, EngineVersion: "coopgov-engine/1", SubmittedAt: time.Now()},
			{Number: 2, Decision: "advance", Composite: 0.78, ConfigVersion: 2, EngineVersion: "coopgov-engine/1", SubmittedAt: time.Now()},
		},
		GoalScores: []GoalScoreRow{
			{GoalID: "local_jobs", AIScore: 0.9},
			{GoalID: "income_stability", Domain: "finance", AIScore: 0.6, ExpertScore: &expert, ExpertNote: "site visit confirmed feasibility"},
		},
		GeneratedAt: time.Now(),
	}

	html, err := RenderReportHTML(report)
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}

	for _, want := range []string{
		"Community Grocery",
		"A member-owned grocery store",
		"Council vote required",
		"FOR 2 / AGAINST 1",
		"income_stability",
		"site visit confirmed feasibility",
		"Revision History",
		"coopgov-engine/1",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}

	// The expert score column must render the value, not a pointer address.
	if !strings.Contains(html, "0.80") {
		t.Error("HTML missing formatted expert score")
	}
	if strings.Contains(html, "0xc") {
		t.Error("HTML contains a raw pointer value")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Proposal v1.2", "My-Proposal-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "report"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
