package types

import "time"

// Role is a node's position in the Raft role state machine.
type Role string

const (
	RoleFollower  Role = "follower"
	RoleCandidate Role = "candidate"
	RoleLeader    Role = "leader"
)

// CommandType tags the variant carried by a Command.
type CommandType string

const (
	CommandCreateProject   CommandType = "CreateProject"
	CommandUpdateProject   CommandType = "UpdateProject"
	CommandDeleteProject   CommandType = "DeleteProject"
	CommandGitCommit       CommandType = "GitCommit"
	CommandGitCreateBranch CommandType = "GitCreateBranch"
	CommandGitMerge        CommandType = "GitMerge"
	CommandCreateFile      CommandType = "CreateFile"
	CommandUpdateFile      CommandType = "UpdateFile"
	CommandDeleteFile      CommandType = "DeleteFile"
)

// Command is a tagged union over the nine command variants the state
// machine understands. Exactly one of the payload fields matching Type is
// populated; dispatch happens on Type, never on which field is non-nil
// alone, so that a zero-value payload is still rejected by validation.
type Command struct {
	Type CommandType `json:"type"`

	CreateProject   *CreateProjectPayload   `json:"createProject,omitempty"`
	UpdateProject   *UpdateProjectPayload   `json:"updateProject,omitempty"`
	DeleteProject   *DeleteProjectPayload   `json:"deleteProject,omitempty"`
	GitCommit       *GitCommitPayload       `json:"gitCommit,omitempty"`
	GitCreateBranch *GitCreateBranchPayload `json:"gitCreateBranch,omitempty"`
	GitMerge        *GitMergePayload        `json:"gitMerge,omitempty"`
	CreateFile      *CreateFilePayload      `json:"createFile,omitempty"`
	UpdateFile      *UpdateFilePayload      `json:"updateFile,omitempty"`
	DeleteFile      *DeleteFilePayload      `json:"deleteFile,omitempty"`
}

type CreateProjectPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"ownerId"`
}

// UpdateProjectPayload shallow-merges whichever fields are non-nil.
type UpdateProjectPayload struct {
	ID          string  `json:"id"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	OwnerID     *string `json:"ownerId,omitempty"`
}

type DeleteProjectPayload struct {
	ID string `json:"id"`
}

// FileChange is one entry in a GitCommit's file set. A nil Content means
// the path is deleted from the resulting commit's file map.
type FileChange struct {
	Path    string  `json:"path"`
	Content *string `json:"content,omitempty"`
}

type GitCommitPayload struct {
	RepositoryID string       `json:"repositoryId"`
	BranchName   string       `json:"branchName"`
	Message      string       `json:"message"`
	Author       string       `json:"author"`
	Files        []FileChange `json:"files"`
}

type GitCreateBranchPayload struct {
	RepositoryID string  `json:"repositoryId"`
	BranchName   string  `json:"branchName"`
	FromBranch   *string `json:"fromBranch,omitempty"`
}

type GitMergePayload struct {
	RepositoryID  string `json:"repositoryId"`
	SourceBranch  string `json:"sourceBranch"`
	TargetBranch  string `json:"targetBranch"`
	Message       string `json:"message"`
	Author        string `json:"author"`
}

type CreateFilePayload struct {
	RepositoryID string  `json:"repositoryId"`
	BranchName   *string `json:"branchName,omitempty"`
	Path         string  `json:"path"`
	Content      string  `json:"content"`
	Author       string  `json:"author"`
}

type UpdateFilePayload struct {
	RepositoryID string  `json:"repositoryId"`
	BranchName   *string `json:"branchName,omitempty"`
	Path         string  `json:"path"`
	Content      string  `json:"content"`
	Author       string  `json:"author"`
}

type DeleteFilePayload struct {
	RepositoryID string  `json:"repositoryId"`
	BranchName   *string `json:"branchName,omitempty"`
	Path         string  `json:"path"`
	Author       string  `json:"author"`
}

// LogEntry is an ordered, 1-indexed durable record. Index is strictly
// monotonic and gap-free within a node's log; Term is non-decreasing along
// the log.
type LogEntry struct {
	Index     uint64    `json:"index"`
	Term      uint64    `json:"term"`
	Command   Command   `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// PersistedState is the full durable Raft state as loaded from, or saved
// to, a Store.
type PersistedState struct {
	CurrentTerm uint64     `json:"currentTerm"`
	VotedFor    *string    `json:"votedFor"`
	Log         []LogEntry `json:"log"`
}

// RequestVoteRequest is sent by a candidate soliciting votes.
type RequestVoteRequest struct {
	RequestID     string `json:"requestId"`
	Term          uint64 `json:"term"`
	CandidateID   string `json:"candidateId"`
	LastLogIndex  uint64 `json:"lastLogIndex"`
	LastLogTerm   uint64 `json:"lastLogTerm"`
}

type RequestVoteResponse struct {
	RequestID   string `json:"requestId"`
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"voteGranted"`
}

// AppendEntriesRequest replicates log entries and doubles as the
// heartbeat when Entries is empty.
type AppendEntriesRequest struct {
	RequestID    string     `json:"requestId"`
	Term         uint64     `json:"term"`
	LeaderID     string     `json:"leaderId"`
	PrevLogIndex uint64     `json:"prevLogIndex"`
	PrevLogTerm  uint64     `json:"prevLogTerm"`
	Entries      []LogEntry `json:"entries"`
	LeaderCommit uint64     `json:"leaderCommit"`
}

type AppendEntriesResponse struct {
	RequestID     string `json:"requestId"`
	Term          uint64 `json:"term"`
	Success       bool   `json:"success"`
	ConflictIndex uint64 `json:"conflictIndex,omitempty"`
	ConflictTerm  uint64 `json:"conflictTerm,omitempty"`
}

// StateSummary is the observability snapshot returned by GetState.
type StateSummary struct {
	ProjectCount     int    `json:"projectCount"`
	RepositoryCount  int    `json:"repositoryCount"`
	LastAppliedIndex uint64 `json:"lastAppliedIndex"`
}

// CommandResult is what Apply returns for a single committed command.
type CommandResult struct {
	Project    *Project    `json:"project,omitempty"`
	Repository *Repository `json:"repository,omitempty"`
	Branch     *Branch     `json:"branch,omitempty"`
	Commit     *Commit     `json:"commit,omitempty"`
}

// ClientResponse is the reply envelope for a submitted command: either
// success with a result, or failure with an error and (when known) the
// current leader for redirection. cluster.Service.ExecuteCommand returns
// a CommandResult and an error instead, and pkg/api replies with its own
// api.ClientResponse of the same shape.
type ClientResponse struct {
	Success  bool           `json:"success"`
	Data     *CommandResult `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	LeaderID string         `json:"leaderId,omitempty"`
}
