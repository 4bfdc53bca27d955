package store

import "time"

// Proposal lifecycle states.
const (
	StatusSubmitted = "submitted"
	StatusVotable   = "votable"
	StatusApproved  = "approved"
	StatusFunded    = "funded"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
	StatusWithdrawn = "withdrawn"
)

// Evaluation decisions.
const (
	DecisionAdvance   = "advance"
	DecisionBlock     = "block"
	DecisionNeedsInfo = "needs_info"
	DecisionUnknown   = "unknown"
)

// Amendment states.
const (
	AmendmentPending      = "PENDING"
	AmendmentAcknowledged = "ACKNOWLEDGED"
	AmendmentRejected     = "REJECTED"
	AmendmentSuperseded   = "SUPERSEDED"
)

// Amendment kinds. Charter amendments replace the whole charter text;
// config amendments patch one config section.
const (
	AmendmentKindCharter = "CHARTER"
	AmendmentKindConfig  = "CONFIG"
)

// Missing-data severities.
const (
	SeverityBlocker = "BLOCKER"
	SeveritySoft    = "SOFT"
	SeverityInfo    = "INFO"
)

// Council vote choices.
const (
	VoteFor     = "FOR"
	VoteAgainst = "AGAINST"
	VoteAbstain = "ABSTAIN"
)

// Reaction kinds.
const (
	ReactionSupport = "SUPPORT"
	ReactionConcern = "CONCERN"
)

// Comment alignment outcomes.
const (
	AlignmentAligned    = "ALIGNED"
	AlignmentNeutral    = "NEUTRAL"
	AlignmentMisaligned = "MISALIGNED"
)

type MissionGoal struct {
	Key            string  `json:"key"`
	Label          string  `json:"label"`
	PriorityWeight float64 `json:"priorityWeight"`
	Domain         string  `json:"domain,omitempty"`
	ExpertRequired bool    `json:"expertRequired,omitempty"`
}

type StructuralWeights struct {
	Feasibility    float64 `json:"feasibility"`
	Risk           float64 `json:"risk"`
	Accountability float64 `json:"accountability"`
}

type ScoreMix struct {
	MissionWeight    float64 `json:"missionWeight"`
	StructuralWeight float64 `json:"structuralWeight"`
}

type Thresholds struct {
	ScreeningPass float64 `json:"screeningPassThreshold"`
	StrongGoal    float64 `json:"strongGoalThreshold"`
	MissionMin    float64 `json:"missionMinThreshold"`
	StructuralGate float64 `json:"structuralGate"`
}

type Governance struct {
	QuorumPercent            float64 `json:"quorumPercent"`
	ApprovalThresholdPercent float64 `json:"approvalThresholdPercent"`
	VotingWindowDays         int     `json:"votingWindowDays"`
	SCVotingCapPercent       float64 `json:"scVotingCapPercent"`
}

type SectorExclusion struct {
	Value     string `json:"value"`
	Rationale string `json:"rationale,omitempty"`
}

type ScorerAgent struct {
	Name   string  `json:"name"`
	Model  string  `json:"model,omitempty"`
	Weight float64 `json:"weight,omitempty"`
}

// CoopConfig is one immutable version of a coop's policy document.
// Exactly one version per coop is active at any time.
type CoopConfig struct {
	ID                        int64
	CoopID                    string
	Version                   int
	IsActive                  bool
	CharterText               string
	MissionGoals              []MissionGoal
	StructuralWeights         StructuralWeights
	ScoreMix                  ScoreMix
	Thresholds                Thresholds
	Governance                Governance
	ProposalCategories        []string
	SectorExclusions          []SectorExclusion
	ScorerAgents              []ScorerAgent
	MinSCBalanceToSubmit      float64
	AIAutoApproveThresholdUSD float64
	CouncilVoteThresholdUSD   float64
	CreatedBy                 string
	CreatedAt                 time.Time
}

type FieldDiff struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

type CoopConfigAudit struct {
	ID        int64
	CoopID    string
	Version   int
	ChangedBy string
	Reason    string
	Diff      []FieldDiff
	CreatedAt time.Time
}

type Amendment struct {
	ID              string
	CoopID          string
	Section         string
	Kind            string
	ProposedChanges map[string]any
	ProposedText    string
	CurrentSnapshot map[string]any
	Reason          string
	Status          string
	ProposedBy      string
	ReviewedBy      string
	ReviewedAt      *time.Time
	AppliedVersion  *int
	CreatedAt       time.Time
}

type Budget struct {
	Currency        string  `json:"currency"`
	AmountRequested float64 `json:"amountRequested"`
}

type MissingData struct {
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	GoalIDs     []string `json:"goalIds,omitempty"`
}

type Alternative struct {
	Label          string            `json:"label"`
	Rationale      string            `json:"rationale"`
	FieldChanges   map[string]string `json:"fieldChanges,omitempty"`
	EstimatedScore float64           `json:"estimatedScore"`
	Unverified     bool              `json:"unverified"`
}

type AuditCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Note   string `json:"note,omitempty"`
}

// Proposal holds the current view of a funding proposal. Evaluation fields
// always mirror the latest revision.
type Proposal struct {
	ID                      string
	CoopID                  string
	ProposerWallet          string
	Title                   string
	Summary                 string
	RawText                 string
	Category                string
	Budget                  Budget
	Region                  string
	Status                  string
	Decision                string
	DecisionReasons         []string
	MissingData             []MissingData
	Alternatives            []Alternative
	BestAlternative         *int
	AuditChecks             []AuditCheck
	CouncilRequired         bool
	CouncilVoteThresholdUSD float64
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

type StructuralScores struct {
	Feasibility    float64 `json:"feasibility"`
	Risk           float64 `json:"risk"`
	Accountability float64 `json:"accountability"`
}

// ProposalRevision is one append-only evaluation snapshot. History is never
// mutated, only appended.
type ProposalRevision struct {
	ID               int64
	ProposalID       string
	RevisionNumber   int
	RawText          string
	Decision         string
	DecisionReasons  []string
	MissingData      []MissingData
	Alternatives     []Alternative
	AuditChecks      []AuditCheck
	CompositeScore   float64
	MissionScore     float64
	StructuralScore  float64
	StructuralScores StructuralScores
	ConfigVersion    int
	EngineVersion    string
	SubmittedAt      time.Time
}

type GoalScore struct {
	ID             int64
	ProposalID     string
	RevisionNumber int
	GoalID         string
	Domain         string
	AIScore        float64
	ExpertScore    *float64
	ExpertWallet   string
	ExpertReason   string
	UpdatedAt      time.Time
}

type CouncilVote struct {
	ProposalID  string
	VoterWallet string
	Choice      string
	CastAt      time.Time
}

type VoteTally struct {
	For     int
	Against int
	Abstain int
}

func (t VoteTally) Total() int { return t.For + t.Against + t.Abstain }

type CommentEvaluation struct {
	Alignment     string   `json:"alignment"`
	Score         float64  `json:"score"`
	Analysis      string   `json:"analysis,omitempty"`
	GoalsImpacted []string `json:"goalsImpacted,omitempty"`
}

type Comment struct {
	ID           string
	ProposalID   string
	AuthorWallet string
	Body         string
	Evaluation   *CommentEvaluation
	CreatedAt    time.Time
}

type Reaction struct {
	ProposalID string
	Wallet     string
	Kind       string
	CreatedAt  time.Time
}

type Member struct {
	CoopID    string
	Wallet    string
	Role      string
	Domains   []string
	CreatedAt time.Time
}
