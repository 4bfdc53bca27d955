// Package aieval talks to an OpenAI-compatible chat-completions endpoint
// (OpenAI, OpenRouter, Ollama, vLLM) and turns free-text governance content
// into structured evaluations. It never invents scores: a transport failure
// or unparseable reply is returned as an error for the caller to handle.
package aieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/SoulaanRad/soulaan-coop-sub001/internal/scoring"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/store"
)

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func New(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) endpoint() string {
	base := strings.TrimSuffix(c.baseURL, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chat sends one completion request. Transport and 5xx failures get a single
// retry with the same inputs before the error is surfaced.
func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		content, retryable, err := c.doChat(ctx, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (c *Client) doChat(ctx context.Context, body []byte) (content string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("call evaluation endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("read evaluation response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("evaluation endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("evaluation endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", false, fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("no choices in chat response")
	}
	return parsed.Choices[0].Message.Content, false, nil
}

const proposalSystemPrompt = `You score community funding proposals for a cooperative.
Reply with ONLY a JSON object, no prose, shaped as:
{"goalScores": {"<goal key>": 0.0}, "structuralScores": {"feasibility": 0.0, "risk": 0.0, "accountability": 0.0}, "alternatives": [{"label": "", "rationale": "", "fieldChanges": {"<field>": "<new value>"}, "estimatedScore": 0.0}]}
Every score is a number between 0 and 1. Score every goal listed. "risk" is inverted: 1 means low risk.
Include alternatives only when a modest rewrite would plausibly score better.`

type proposalReply struct {
	GoalScores       map[string]float64 `json:"goalScores"`
	StructuralScores struct {
		Feasibility    float64 `json:"feasibility"`
		Risk           float64 `json:"risk"`
		Accountability float64 `json:"accountability"`
	} `json:"structuralScores"`
	Alternatives []struct {
		Label          string            `json:"label"`
		Rationale      string            `json:"rationale"`
		FieldChanges   map[string]string `json:"fieldChanges"`
		EstimatedScore float64           `json:"estimatedScore"`
	} `json:"alternatives"`
}

// ScoreProposal implements scoring.Evaluator.
func (c *Client) ScoreProposal(ctx context.Context, text string, meta scoring.Metadata, cfg store.CoopConfig) (scoring.RawScores, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Coop mission goals:\n")
	for _, goal := range cfg.MissionGoals {
		fmt.Fprintf(&prompt, "- %s: %s (weight %.2f)\n", goal.Key, goal.Label, goal.PriorityWeight)
	}
	fmt.Fprintf(&prompt, "\nProposal title: %s\nCategory: %s\nBudget: %.2f %s\nRegion: %s\n\nProposal text:\n%s\n",
		meta.Title, meta.Category, meta.Budget.AmountRequested, meta.Budget.Currency, meta.Region, text)

	content, err := c.chat(ctx, proposalSystemPrompt, prompt.String())
	if err != nil {
		return scoring.RawScores{}, err
	}

	payload := extractJSON(content)
	if payload == "" {
		return scoring.RawScores{}, fmt.Errorf("no JSON object in evaluation reply")
	}
	var reply proposalReply
	if err := json.Unmarshal([]byte(payload), &reply); err != nil {
		return scoring.RawScores{}, fmt.Errorf("parse evaluation reply: %w", err)
	}

	raw := scoring.RawScores{
		GoalScores: reply.GoalScores,
		StructuralScores: store.StructuralScores{
			Feasibility:    reply.StructuralScores.Feasibility,
			Risk:           reply.StructuralScores.Risk,
			Accountability: reply.StructuralScores.Accountability,
		},
	}
	for _, alt := range reply.Alternatives {
		raw.Alternatives = append(raw.Alternatives, store.Alternative{
			Label:          alt.Label,
			Rationale:      alt.Rationale,
			FieldChanges:   alt.FieldChanges,
			EstimatedScore: alt.EstimatedScore,
			Unverified:     true,
		})
	}
	return raw, nil
}

const commentSystemPrompt = `You judge whether a community comment supports a cooperative's mission goals.
Reply with ONLY a JSON object, no prose, shaped as:
{"alignment": "ALIGNED|NEUTRAL|MISALIGNED", "score": 0.0, "analysis": "", "goalsImpacted": ["<goal key>"]}
"score" is a number between 0 and 1.`

type commentReply struct {
	Alignment     string   `json:"alignment"`
	Score         float64  `json:"score"`
	Analysis      string   `json:"analysis"`
	GoalsImpacted []string `json:"goalsImpacted"`
}

// EvaluateComment scores a comment's alignment with the coop's mission goals.
// Callers treat this as best-effort; a failure never blocks the comment write.
func (c *Client) EvaluateComment(ctx context.Context, body, proposalSummary string, cfg store.CoopConfig) (store.CommentEvaluation, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Coop mission goals:\n")
	for _, goal := range cfg.MissionGoals {
		fmt.Fprintf(&prompt, "- %s: %s\n", goal.Key, goal.Label)
	}
	fmt.Fprintf(&prompt, "\nProposal summary:\n%s\n\nComment:\n%s\n", proposalSummary, body)

	content, err := c.chat(ctx, commentSystemPrompt, prompt.String())
	if err != nil {
		return store.CommentEvaluation{}, err
	}

	payload := extractJSON(content)
	if payload == "" {
		return store.CommentEvaluation{}, fmt.Errorf("no JSON object in comment evaluation reply")
	}
	var reply commentReply
	if err := json.Unmarshal([]byte(payload), &reply); err != nil {
		return store.CommentEvaluation{}, fmt.Errorf("parse comment evaluation reply: %w", err)
	}

	alignment := strings.ToUpper(strings.TrimSpace(reply.Alignment))
	switch alignment {
	case store.AlignmentAligned, store.AlignmentNeutral, store.AlignmentMisaligned:
	default:
		return store.CommentEvaluation{}, fmt.Errorf("unknown alignment %q", reply.Alignment)
	}
	if reply.Score < 0 || reply.Score > 1 {
		return store.CommentEvaluation{}, fmt.Errorf("alignment score %v out of range [0,1]", reply.Score)
	}

	return store.CommentEvaluation{
		Alignment:     alignment,
		Score:         reply.Score,
		Analysis:      reply.Analysis,
		GoalsImpacted: reply.GoalsImpacted,
	}, nil
}

var (
	jsonBlockPattern  = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	jsonObjectPattern = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// extractJSON pulls a JSON object out of a model reply, tolerating markdown
// code fences around it.
func extractJSON(content string) string {
	if matches := jsonBlockPattern.FindStringSubmatch(content); len(matches) > 1 {
		return matches[1]
	}
	return jsonObjectPattern.FindString(content)
}
