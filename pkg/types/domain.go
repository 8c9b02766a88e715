package types

import "time"

// Project is the top-level unit the state machine owns. It references at
// most one Repository, created jointly with the project.
type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	OwnerID      string    `json:"ownerId"`
	RepositoryID string    `json:"repositoryId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Repository owns an ordered mapping of branch name to Branch. BranchOrder
// records insertion order since Go maps don't, so snapshots and listings
// are deterministic across replicas.
type Repository struct {
	ID            string             `json:"id"`
	ProjectID     string             `json:"projectId"`
	DefaultBranch string             `json:"defaultBranch"`
	Branches      map[string]*Branch `json:"branches"`
	BranchOrder   []string           `json:"branchOrder"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// Branch owns an ordered sequence of commits and a head commit hash (empty
// when the branch has no commits yet).
type Branch struct {
	Name    string    `json:"name"`
	Commits []*Commit `json:"commits"`
	Head    string    `json:"head"`
}

// Commit owns a mapping of path to File snapshot and optionally a parent
// commit hash (empty for the first commit on a branch).
type Commit struct {
	Hash      string           `json:"hash"`
	Parent    string           `json:"parent"`
	Message   string           `json:"message"`
	Author    string           `json:"author"`
	Timestamp time.Time        `json:"timestamp"`
	Files     map[string]*File `json:"files"`
}

// File is a single path's content snapshot within a Commit.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Hash    string `json:"hash"`
}
