// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
}

// RevisionOperations defines the interface for resolving revisions.
type RevisionOperations interface {
	// RevParse resolves a ref name to a full revision hash.
	RevParse(ref string) (string, error)
}

// StatusOperations defines the interface for working-copy cleanliness.
type StatusOperations interface {
	// Status returns the output of git status --porcelain for the repo.
	Status() (string, error)
	// HasChanges returns true if the repo has uncommitted changes.
	HasChanges() (bool, error)
	// StatusIn returns git status --porcelain for a specific working copy.
	StatusIn(dir string) (string, error)
	// HasChangesIn returns true if the working copy at dir is dirty.
	HasChangesIn(dir string) (bool, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAddNewBranchFrom creates a worktree at path on a new branch
	// started from the given revision (git worktree add -b <branch> <path> <rev>).
	WorktreeAddNewBranchFrom(path, branch, startPoint string) error
	// WorktreeRemoveOptionalForce removes the worktree, optionally with force.
	WorktreeRemoveOptionalForce(path string, force bool) error
	// WorktreeUnlock unlocks a locked worktree.
	WorktreeUnlock(path string) error
	// WorktreeListPorcelain returns the raw porcelain output for parsing.
	WorktreeListPorcelain() (string, error)
	// WorktreePruneExpireNow prunes stale worktree entries with --expire now.
	WorktreePruneExpireNow() error
}

// Runner defines the complete interface for git operations.
// Consumers should prefer the focused interfaces when possible.
type Runner interface {
	BranchOperations
	RevisionOperations
	StatusOperations
	WorktreeOperations
	// Run executes an arbitrary git command with the given arguments.
	Run(args ...string) (string, error)
}
