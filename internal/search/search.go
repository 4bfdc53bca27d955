package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProposal ResultType = "proposal"
	ResultComment  ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	ProposalID string     `json:"proposalId"`
	CoopID     string     `json:"coopId"`
	Status     string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterCoopID string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ProposalRecord is the data we index for a proposal.
type ProposalRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	CoopID   string `json:"coopId"`
	Status   string `json:"status"`
	Category string `json:"category"`
	Decision string `json:"decision"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID         string `json:"id"`
	Body       string `json:"body"`
	ProposalID string `json:"proposalId"`
	CoopID     string `json:"coopId"`
	Alignment  string `json:"alignment,omitempty"`
}
