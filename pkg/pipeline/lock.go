package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LockFileName is the lock file created at the repository root while a run
// is in progress. A crashed process leaves it behind; delete it by hand
// once no run is active.
const LockFileName = ".evocode.lock"

var (
	heldMu sync.Mutex
	held   = make(map[string]string) // absolute repo path -> run id
)

// RepoLock is an exclusive, run-scoped claim on a repository checkout.
// Exclusion holds within the process through a registry of held paths and
// across processes through an O_EXCL lock file.
type RepoLock struct {
	repo string
	file string
	once sync.Once
}

// AcquireLock claims repoPath for runID. It fails with *LockError when the
// repository is already claimed.
func AcquireLock(repoPath, runID string) (*RepoLock, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, &LockError{Path: repoPath, Err: err}
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	heldMu.Lock()
	defer heldMu.Unlock()

	if holder, ok := held[abs]; ok {
		return nil, &LockError{Path: abs, Holder: "run " + holder + " in this process"}
	}

	lockFile := filepath.Join(abs, LockFileName)
	f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, &LockError{Path: abs, Holder: readHolder(lockFile)}
		}
		return nil, &LockError{Path: abs, Err: err}
	}
	_, werr := fmt.Fprintf(f, "pid=%d run=%s started=%s\n", os.Getpid(), runID, time.Now().UTC().Format(time.RFC3339))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(lockFile)
		return nil, &LockError{Path: abs, Err: werr}
	}

	held[abs] = runID
	return &RepoLock{repo: abs, file: lockFile}, nil
}

func readHolder(lockFile string) string {
	data, err := os.ReadFile(lockFile)
	if err != nil {
		return "lock file " + lockFile
	}
	return strings.TrimSpace(string(data)) + ", lock file " + lockFile
}

// Path returns the locked repository path.
func (l *RepoLock) Path() string {
	return l.repo
}

// Release gives up the claim. Calling it more than once is a no-op.
func (l *RepoLock) Release() error {
	var err error
	l.once.Do(func() {
		heldMu.Lock()
		delete(held, l.repo)
		heldMu.Unlock()

		if rmErr := os.Remove(l.file); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = fmt.Errorf("failed to remove lock file: %w", rmErr)
		}
	})
	return err
}
