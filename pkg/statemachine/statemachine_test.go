package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/pkg/types"
)

func entryAt(index uint64, ts time.Time, cmd types.Command) types.LogEntry {
	return types.LogEntry{Index: index, Term: 1, Command: cmd, Timestamp: ts}
}

func TestApply_CreateProjectCreatesDefaultRepository(t *testing.T) {
	sm := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	result, err := sm.Apply(entryAt(1, now, types.Command{
		Type: types.CommandCreateProject,
		CreateProject: &types.CreateProjectPayload{ID: "p1", Name: "forge", OwnerID: "alice"},
	}))
	require.NoError(t, err)
	require.NotNil(t, result.Project)
	require.Equal(t, "p1", result.Project.ID)
	require.NotNil(t, result.Repository)
	require.Equal(t, "main", result.Repository.DefaultBranch)
	require.Contains(t, result.Repository.Branches, "main")

	summary := sm.GetState()
	require.Equal(t, 1, summary.ProjectCount)
	require.Equal(t, uint64(1), summary.LastAppliedIndex)
}

func TestApply_CreateProjectRejectsDuplicateID(t *testing.T) {
	sm := New()
	now := time.Now()
	cmd := types.Command{Type: types.CommandCreateProject, CreateProject: &types.CreateProjectPayload{ID: "p1", Name: "forge"}}

	_, err := sm.Apply(entryAt(1, now, cmd))
	require.NoError(t, err)

	_, err = sm.Apply(entryAt(2, now, cmd))
	require.ErrorIs(t, err, ErrAlreadyExists)
	// lastAppliedIndex still advances on a failed apply
	require.Equal(t, uint64(2), sm.GetState().LastAppliedIndex)
}

func TestApply_UpdateProjectPartialMerge(t *testing.T) {
	sm := New()
	now := time.Now()
	_, err := sm.Apply(entryAt(1, now, types.Command{
		Type:          types.CommandCreateProject,
		CreateProject: &types.CreateProjectPayload{ID: "p1", Name: "forge", Description: "old", OwnerID: "alice"},
	}))
	require.NoError(t, err)

	newName := "forge-renamed"
	result, err := sm.Apply(entryAt(2, now, types.Command{
		Type:          types.CommandUpdateProject,
		UpdateProject: &types.UpdateProjectPayload{ID: "p1", Name: &newName},
	}))
	require.NoError(t, err)
	require.Equal(t, "forge-renamed", result.Project.Name)
	require.Equal(t, "old", result.Project.Description) // untouched field preserved
}

func TestApply_DeleteProjectRemovesRepository(t *testing.T) {
	sm := New()
	now := time.Now()
	_, err := sm.Apply(entryAt(1, now, types.Command{
		Type: types.CommandCreateProject, CreateProject: &types.CreateProjectPayload{ID: "p1", Name: "forge"},
	}))
	require.NoError(t, err)

	_, err = sm.Apply(entryAt(2, now, types.Command{
		Type: types.CommandDeleteProject, DeleteProject: &types.DeleteProjectPayload{ID: "p1"},
	}))
	require.NoError(t, err)

	_, ok := sm.GetProject("p1")
	require.False(t, ok)
	require.Equal(t, 0, sm.GetState().RepositoryCount)
}

func setupRepo(t *testing.T, sm *GitStateMachine, now time.Time) string {
	t.Helper()
	result, err := sm.Apply(entryAt(1, now, types.Command{
		Type: types.CommandCreateProject, CreateProject: &types.CreateProjectPayload{ID: "p1", Name: "forge"},
	}))
	require.NoError(t, err)
	return result.Repository.ID
}

func TestApply_CreateFileThenGitCommitHistory(t *testing.T) {
	sm := New()
	now := time.Now()
	repoID := setupRepo(t, sm, now)

	result, err := sm.Apply(entryAt(2, now, types.Command{
		Type: types.CommandCreateFile,
		CreateFile: &types.CreateFilePayload{
			RepositoryID: repoID, Path: "README.md", Content: "hello", Author: "alice",
		},
	}))
	require.NoError(t, err)
	require.Equal(t, "main", result.Branch.Name)
	require.Len(t, result.Branch.Commits, 1)

	history, err := sm.GetCommitHistory(repoID, "main")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "create file: README.md", history[0].Message)
}

func TestApply_UpdateFileThenDeleteFile(t *testing.T) {
	sm := New()
	now := time.Now()
	repoID := setupRepo(t, sm, now)

	_, err := sm.Apply(entryAt(2, now, types.Command{
		Type: types.CommandCreateFile,
		CreateFile: &types.CreateFilePayload{RepositoryID: repoID, Path: "a.txt", Content: "v1", Author: "alice"},
	}))
	require.NoError(t, err)

	_, err = sm.Apply(entryAt(3, now, types.Command{
		Type: types.CommandUpdateFile,
		UpdateFile: &types.UpdateFilePayload{RepositoryID: repoID, Path: "a.txt", Content: "v2", Author: "alice"},
	}))
	require.NoError(t, err)

	result, err := sm.Apply(entryAt(4, now, types.Command{
		Type: types.CommandDeleteFile,
		DeleteFile: &types.DeleteFilePayload{RepositoryID: repoID, Path: "a.txt", Author: "alice"},
	}))
	require.NoError(t, err)
	require.Len(t, result.Branch.Commits, 3)
}

func TestApply_CreateBranchThenMerge(t *testing.T) {
	sm := New()
	now := time.Now()
	repoID := setupRepo(t, sm, now)

	_, err := sm.Apply(entryAt(2, now, types.Command{
		Type: types.CommandCreateFile,
		CreateFile: &types.CreateFilePayload{RepositoryID: repoID, Path: "base.txt", Content: "base", Author: "alice"},
	}))
	require.NoError(t, err)

	_, err = sm.Apply(entryAt(3, now, types.Command{
		Type: types.CommandGitCreateBranch,
		GitCreateBranch: &types.GitCreateBranchPayload{RepositoryID: repoID, BranchName: "feature"},
	}))
	require.NoError(t, err)

	branchName := "feature"
	_, err = sm.Apply(entryAt(4, now, types.Command{
		Type: types.CommandCreateFile,
		CreateFile: &types.CreateFilePayload{RepositoryID: repoID, BranchName: &branchName, Path: "feature.txt", Content: "new", Author: "bob"},
	}))
	require.NoError(t, err)

	result, err := sm.Apply(entryAt(5, now, types.Command{
		Type: types.CommandGitMerge,
		GitMerge: &types.GitMergePayload{
			RepositoryID: repoID, SourceBranch: "feature", TargetBranch: "main", Message: "merge feature", Author: "alice",
		},
	}))
	require.NoError(t, err)
	require.Contains(t, result.Commit.Files, "base.txt")
	require.Contains(t, result.Commit.Files, "feature.txt")
}

func TestSnapshotRoundTrip(t *testing.T) {
	sm := New()
	now := time.Now()
	repoID := setupRepo(t, sm, now)
	_, err := sm.Apply(entryAt(2, now, types.Command{
		Type: types.CommandCreateFile,
		CreateFile: &types.CreateFilePayload{RepositoryID: repoID, Path: "a.txt", Content: "v1", Author: "alice"},
	}))
	require.NoError(t, err)

	data, err := sm.CreateSnapshot()
	require.NoError(t, err)

	restored := New()
	require.NoError(t, restored.RestoreFromSnapshot(data))
	require.Equal(t, uint64(2), restored.LastAppliedIndex())

	history, err := restored.GetCommitHistory(repoID, "main")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestDiffBetweenCommits(t *testing.T) {
	sm := New()
	now := time.Now()
	repoID := setupRepo(t, sm, now)

	first, err := sm.Apply(entryAt(2, now, types.Command{
		Type: types.CommandCreateFile,
		CreateFile: &types.CreateFilePayload{RepositoryID: repoID, Path: "a.txt", Content: "v1", Author: "alice"},
	}))
	require.NoError(t, err)

	second, err := sm.Apply(entryAt(3, now, types.Command{
		Type: types.CommandUpdateFile,
		UpdateFile: &types.UpdateFilePayload{RepositoryID: repoID, Path: "a.txt", Content: "v2", Author: "alice"},
	}))
	require.NoError(t, err)

	diffs, err := sm.Diff(repoID, first.Commit.Hash, second.Commit.Hash)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	require.Equal(t, "a.txt", diffs[0].Path)
	require.Equal(t, "v1", diffs[0].FromContent)
	require.Equal(t, "v2", diffs[0].ToContent)
}
