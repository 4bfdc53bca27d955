package scoring

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/SoulaanRad/soulaan-coop-sub001/internal/store"
)

// EngineVersion is stamped onto every revision so evaluations stay
// reproducible across engine changes.
const EngineVersion = "coopgov-engine/1"

// Metadata is the non-text part of a proposal handed to the evaluator.
type Metadata struct {
	Title    string
	Category string
	Region   string
	Budget   store.Budget
}

// RawScores is what the external evaluator returns: unweighted per-goal and
// structural scores in [0,1], plus any suggested rewrites. All weighting,
// thresholding, and the final decision happen here, not in the evaluator.
type RawScores struct {
	GoalScores       map[string]float64
	StructuralScores store.StructuralScores
	Alternatives     []store.Alternative
}

// Evaluator is the external text-scoring collaborator. It may be slow and it
// may fail; the engine fails closed when it does.
type Evaluator interface {
	ScoreProposal(ctx context.Context, text string, meta Metadata, cfg store.CoopConfig) (RawScores, error)
}

// Evaluation is one complete scoring outcome for a single revision.
type Evaluation struct {
	GoalScores       map[string]float64
	GoalDomains      map[string]string
	StructuralScores store.StructuralScores
	MissionScore     float64
	StructuralScore  float64
	CompositeScore   float64
	Decision         string
	DecisionReasons  []string
	MissingData      []store.MissingData
	Alternatives     []store.Alternative
	AuditChecks      []store.AuditCheck
	EngineVersion    string
}

type Engine struct {
	evaluator Evaluator
}

func NewEngine(evaluator Evaluator) *Engine {
	return &Engine{evaluator: evaluator}
}

// Evaluate scores proposal text against a config snapshot. It is a pure
// function of its inputs for a given EngineVersion: no persistence, no
// mutation of the config. Callers own all writes.
func (e *Engine) Evaluate(ctx context.Context, text string, meta Metadata, cfg store.CoopConfig) (Evaluation, error) {
	raw, err := e.evaluator.ScoreProposal(ctx, text, meta, cfg)
	if err != nil {
		return Evaluation{}, fmt.Errorf("score proposal: %w", err)
	}
	if err := validateRawScores(raw, cfg); err != nil {
		return Evaluation{}, fmt.Errorf("evaluator returned malformed scores: %w", err)
	}

	eval := Evaluation{
		GoalScores:       raw.GoalScores,
		GoalDomains:      make(map[string]string, len(cfg.MissionGoals)),
		StructuralScores: raw.StructuralScores,
		EngineVersion:    EngineVersion,
	}
	for _, goal := range cfg.MissionGoals {
		eval.GoalDomains[goal.Key] = goal.Domain
	}

	eval.MissionScore = weightedMissionScore(raw.GoalScores, cfg.MissionGoals)
	eval.StructuralScore = weightedStructuralScore(raw.StructuralScores, cfg.StructuralWeights)
	eval.CompositeScore = cfg.ScoreMix.MissionWeight*eval.MissionScore + cfg.ScoreMix.StructuralWeight*eval.StructuralScore

	eval.AuditChecks = complianceChecks(text, meta, cfg)
	eval.Decision, eval.DecisionReasons, eval.MissingData = decide(eval, cfg)

	// Suggested rewrites carry only an estimated score until the proposer
	// applies one and the full pipeline re-runs.
	if eval.Decision != store.DecisionAdvance {
		for _, alt := range raw.Alternatives {
			alt.Unverified = true
			eval.Alternatives = append(eval.Alternatives, alt)
		}
	}

	return eval, nil
}

func validateRawScores(raw RawScores, cfg store.CoopConfig) error {
	for _, goal := range cfg.MissionGoals {
		score, ok := raw.GoalScores[goal.Key]
		if !ok {
			return fmt.Errorf("missing score for goal %q", goal.Key)
		}
		if score < 0 || score > 1 {
			return fmt.Errorf("goal %q score %v out of range [0,1]", goal.Key, score)
		}
	}
	for name, score := range map[string]float64{
		"feasibility":    raw.StructuralScores.Feasibility,
		"risk":           raw.StructuralScores.Risk,
		"accountability": raw.StructuralScores.Accountability,
	} {
		if score < 0 || score > 1 {
			return fmt.Errorf("structural %s score %v out of range [0,1]", name, score)
		}
	}
	return nil
}

func weightedMissionScore(scores map[string]float64, goals []store.MissionGoal) float64 {
	var sum, weight float64
	for _, goal := range goals {
		sum += goal.PriorityWeight * scores[goal.Key]
		weight += goal.PriorityWeight
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

func weightedStructuralScore(scores store.StructuralScores, weights store.StructuralWeights) float64 {
	total := weights.Feasibility + weights.Risk + weights.Accountability
	if total == 0 {
		return 0
	}
	sum := weights.Feasibility*scores.Feasibility +
		weights.Risk*scores.Risk +
		weights.Accountability*scores.Accountability
	return sum / total
}

func complianceChecks(text string, meta Metadata, cfg store.CoopConfig) []store.AuditCheck {
	checks := make([]store.AuditCheck, 0, len(cfg.SectorExclusions)+1)

	lower := strings.ToLower(text + " " + meta.Title + " " + meta.Category)
	for _, exclusion := range cfg.SectorExclusions {
		check := store.AuditCheck{Name: "sector_exclusion:" + exclusion.Value, Passed: true}
		if strings.Contains(lower, strings.ToLower(exclusion.Value)) {
			check.Passed = false
			check.Note = exclusion.Rationale
		}
		checks = append(checks, check)
	}

	if len(cfg.ProposalCategories) > 0 {
		check := store.AuditCheck{Name: "category_valid", Passed: false}
		for _, category := range cfg.ProposalCategories {
			if strings.EqualFold(category, meta.Category) {
				check.Passed = true
				break
			}
		}
		if !check.Passed {
			check.Note = fmt.Sprintf("category %q is not in the coop's category list", meta.Category)
		}
		checks = append(checks, check)
	}

	return checks
}

// decide applies the decision policy, in priority order: a compliance failure
// or a structural score below the gate blocks outright; a composite at or
// above the screening threshold with every goal at or above the mission
// minimum advances; everything else needs more information, with one
// missing-data entry per weak goal.
func decide(eval Evaluation, cfg store.CoopConfig) (string, []string, []store.MissingData) {
	var reasons []string

	for _, check := range eval.AuditChecks {
		if !check.Passed && strings.HasPrefix(check.Name, "sector_exclusion:") {
			reasons = append(reasons, fmt.Sprintf("proposal falls within excluded sector %q", strings.TrimPrefix(check.Name, "sector_exclusion:")))
			return store.DecisionBlock, reasons, nil
		}
	}

	if eval.StructuralScore < cfg.Thresholds.StructuralGate {
		reasons = append(reasons, fmt.Sprintf("structural score %.2f is below the structural gate %.2f", eval.StructuralScore, cfg.Thresholds.StructuralGate))
		return store.DecisionBlock, reasons, nil
	}

	weakGoals := make([]string, 0)
	blockerGoals := make(map[string]bool)
	for _, goal := range cfg.MissionGoals {
		score := eval.GoalScores[goal.Key]
		if score < cfg.Thresholds.StrongGoal {
			weakGoals = append(weakGoals, goal.Key)
		}
		if score < cfg.Thresholds.MissionMin {
			blockerGoals[goal.Key] = true
		}
	}
	sort.Strings(weakGoals)

	if eval.CompositeScore >= cfg.Thresholds.ScreeningPass && len(blockerGoals) == 0 {
		reasons = append(reasons, fmt.Sprintf("composite score %.2f meets the screening threshold %.2f", eval.CompositeScore, cfg.Thresholds.ScreeningPass))
		return store.DecisionAdvance, reasons, nil
	}

	if eval.CompositeScore < cfg.Thresholds.ScreeningPass {
		reasons = append(reasons, fmt.Sprintf("composite score %.2f is below the screening threshold %.2f", eval.CompositeScore, cfg.Thresholds.ScreeningPass))
	}
	missing := make([]store.MissingData, 0, len(weakGoals))
	for _, key := range weakGoals {
		severity := store.SeveritySoft
		if blockerGoals[key] {
			severity = store.SeverityBlocker
			reasons = append(reasons, fmt.Sprintf("goal %q scored %.2f, below the mission minimum %.2f", key, eval.GoalScores[key], cfg.Thresholds.MissionMin))
		}
		missing = append(missing, store.MissingData{
			Description: fmt.Sprintf("goal %q scored %.2f; strengthen the proposal's case for it", key, eval.GoalScores[key]),
			Severity:    severity,
			GoalIDs:     []string{key},
		})
	}

	return store.DecisionNeedsInfo, reasons, missing
}

// CouncilRequired reports whether an advancing proposal's budget puts it over
// the mandatory council-vote line.
func CouncilRequired(decision string, budget store.Budget, thresholdUSD float64) bool {
	return decision == store.DecisionAdvance && thresholdUSD > 0 && budget.AmountRequested >= thresholdUSD
}
