// Package charter keeps a git history of every coop's charter text. Each coop
// gets its own bare-bones repository with a single charter.json on main; a new
// commit lands whenever a config version changes the charter, so the full
// provenance of the governing text survives independently of the database.
package charter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Document is the charter payload stored at charter.json in each coop repo.
type Document struct {
	CharterText   string `json:"charterText"`
	ConfigVersion int    `json:"configVersion"`
	UpdatedBy     string `json:"updatedBy"`
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits the charter for a config version, initializing the coop's
// repository on first use. Calling it again with identical text is a no-op
// commit-wise (the empty commit is skipped).
func (s *Service) Record(coopID string, doc Document, author, message string) (CommitInfo, error) {
	lock := s.coopLock(coopID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(coopID)
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = s.initRepo(path)
	}
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open charter repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal charter: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "charter.json"), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write charter.json: %w", err)
	}
	if _, err := worktree.Add("charter.json"); err != nil {
		return CommitInfo{}, fmt.Errorf("git add charter: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read worktree status: %w", err)
	}
	if status.IsClean() {
		return s.head(repo)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: sanitizeEmail(author) + "@coopgov.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit charter: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// Head returns the current charter document and its commit.
func (s *Service) Head(coopID string) (Document, CommitInfo, error) {
	lock := s.coopLock(coopID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(coopID))
	if err != nil {
		return Document{}, CommitInfo{}, fmt.Errorf("open charter repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return Document{}, CommitInfo{}, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Document{}, CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}
	doc, err := readDocument(commitObj)
	if err != nil {
		return Document{}, CommitInfo{}, err
	}
	return doc, toCommitInfo(commitObj), nil
}

// At returns the charter document as of a specific commit hash.
func (s *Service) At(coopID, hash string) (Document, error) {
	lock := s.coopLock(coopID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(coopID))
	if err != nil {
		return Document{}, fmt.Errorf("open charter repo: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Document{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Document{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readDocument(commitObj)
}

// History lists the newest-first charter commits for a coop, up to limit
// (0 = unlimited).
func (s *Service) History(coopID string, limit int) ([]CommitInfo, error) {
	lock := s.coopLock(coopID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(coopID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []CommitInfo{}, nil
		}
		return nil, fmt.Errorf("open charter repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) initRepo(path string) (*git.Repository, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) head(repo *git.Repository) (CommitInfo, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

func (s *Service) repoPath(coopID string) string {
	return filepath.Join(s.baseDir, coopID)
}

func (s *Service) coopLock(coopID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[coopID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[coopID] = lock
	return lock
}

func readDocument(commitObj *object.Commit) (Document, error) {
	file, err := commitObj.File("charter.json")
	if err != nil {
		return Document{}, fmt.Errorf("load charter.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Document{}, fmt.Errorf("open charter reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Document{}, fmt.Errorf("read charter bytes: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode charter: %w", err)
	}
	return doc, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
