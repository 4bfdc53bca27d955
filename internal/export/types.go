// Package export renders a proposal's decision report as a PDF using headless
// Chrome. The report carries the current evaluation, the revision history,
// and the council vote tally for offline review and record-keeping.
package export

import (
	"errors"
	"time"
)

// Request contains parameters for a report export.
type Request struct {
	ProposalID string
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Report is the fully assembled data rendered into the PDF.
type Report struct {
	CoopID          string
	ProposalID      string
	Title           string
	Summary         string
	Category        string
	BudgetCurrency  string
	BudgetAmount    float64
	Status          string
	Decision        string
	DecisionReasons []string
	CompositeScore  float64
	MissionScore    float64
	StructuralScore float64
	CouncilRequired bool
	VotesFor        int
	VotesAgainst    int
	VotesAbstain    int
	Revisions       []RevisionRow
	GoalScores      []GoalScoreRow
	GeneratedAt     time.Time
}

// RevisionRow is one line of the revision history table.
type RevisionRow struct {
	Number        int
	Decision      string
	Composite     float64
	ConfigVersion int
	EngineVersion string
	SubmittedAt   time.Time
}

// GoalScoreRow is one line of the latest revision's score table.
type GoalScoreRow struct {
	GoalID      string
	Domain      string
	AIScore     float64
	ExpertScore *float64
	ExpertNote  string
}

// ErrPDFDependencyMissing indicates the headless Chrome runtime is
// unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
