// Package workspace implements content-addressed differential sync of a
// local directory tree against a remote index: discovery, hashing, diff
// computation, bounded-concurrency upload/delete, and incremental progress
// reporting.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sternelee/forge-agent/internal/logging"
	"github.com/sternelee/forge-agent/persistence"
	"github.com/sternelee/forge-agent/retry"
)

// Workspace is a canonicalized local root path registered with the remote
// index under a user.
type Workspace struct {
	WorkspaceID string
	UserID      string
	Path        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FileNode is a discovered local file: its path relative to the workspace
// root, its content, and the SHA-256 hash of that content.
type FileNode struct {
	FilePath string
	Content  string
	Hash     string
}

// FileHash is the server-side projection of a file used for diffing; it
// carries no content, only the path and hash the remote index last saw.
type FileHash struct {
	Path string
	Hash string
}

// SyncStatus classifies a single file's sync state relative to the remote
// index.
type SyncStatus string

const (
	StatusInSync   SyncStatus = "in_sync"
	StatusNew      SyncStatus = "new"
	StatusModified SyncStatus = "modified"
	StatusDeleted  SyncStatus = "deleted"
)

// FileStatus pairs a relative file path with its computed SyncStatus,
// returned by Engine.Status.
type FileStatus struct {
	Path   string
	Status SyncStatus
}

// ProgressEventType tags the kind of update pushed on an Engine.Sync
// progress channel.
type ProgressEventType string

const (
	EventStarting         ProgressEventType = "starting"
	EventWorkspaceCreated ProgressEventType = "workspace_created"
	EventDiscoveringFiles ProgressEventType = "discovering_files"
	EventFilesDiscovered  ProgressEventType = "files_discovered"
	EventComparingFiles   ProgressEventType = "comparing_files"
	EventDiffComputed     ProgressEventType = "diff_computed"
	EventApplying         ProgressEventType = "applying"
	EventCompleted        ProgressEventType = "completed"
	EventError            ProgressEventType = "error"
)

// ProgressEvent is one update pushed on an Engine.Sync progress channel.
type ProgressEvent struct {
	Type ProgressEventType

	FilesDiscovered int

	Added    int
	Deleted  int
	Modified int

	Completed int
	Total     int

	TotalFiles    int
	UploadedFiles int
	FailedFiles   int

	Err error
}

// Credentials is the minimal principal identity the sync engine needs:
// a bearer token for the remote API and the user ID workspaces are scoped
// under.
type Credentials struct {
	UserID string
	Token  string
}

// CredentialResolver resolves the credentials used for a sync or status
// call. Implementations typically wrap persistence's credential store.
type CredentialResolver interface {
	Resolve(ctx context.Context) (Credentials, error)
}

// Backend is the remote workspace API the sync engine drives. Every method
// call is wrapped in retry.Do by the engine; implementations should return
// retry.Classify-able errors (see package retry) so transient failures are
// retried and fatal ones are not.
type Backend interface {
	CreateWorkspace(ctx context.Context, creds Credentials, workspaceID, path string) error
	ListWorkspaceFiles(ctx context.Context, creds Credentials, workspaceID string) ([]FileHash, error)
	UploadFiles(ctx context.Context, creds Credentials, workspaceID string, files []FileNode) error
	DeleteFiles(ctx context.Context, creds Credentials, workspaceID string, paths []string) error
}

// Store is the local cache of workspace registrations consulted during
// workspace resolution. *sqlitestore.SQLiteStore satisfies this interface.
type Store interface {
	UpsertWorkspace(rec persistence.WorkspaceRecord) error
	FindWorkspaceByPathAnyUser(path string) (persistence.WorkspaceRecord, bool, error)
	FindWorkspaceByPathPrefixAnyUser(path string) (persistence.WorkspaceRecord, bool, error)
	DeleteWorkspace(workspaceID string) error
}

// Engine drives the sync algorithm against a Backend, using Store for local
// workspace-registration bookkeeping.
type Engine struct {
	Store       Store
	Backend     Backend
	Credentials CredentialResolver
	RetryConfig retry.Config

	// NewWorkspaceID generates a fresh workspace ID when no local or remote
	// match is found. Defaults to a random UUID-shaped value; overridable
	// for deterministic tests.
	NewWorkspaceID func() string
}

func (e *Engine) retryConfig() retry.Config {
	if e.RetryConfig == (retry.Config{}) {
		return retry.DefaultConfig()
	}
	return e.RetryConfig
}

// Sync runs the full discovery/hash/diff/apply algorithm against root,
// streaming progress on the returned channel. The channel is closed when
// the sync completes or fails; a terminal error is also delivered as an
// EventError before closing. batchSize bounds upload/delete concurrency.
func (e *Engine) Sync(ctx context.Context, root string, batchSize int) (<-chan ProgressEvent, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	events := make(chan ProgressEvent, 1)

	go func() {
		defer close(events)
		if err := e.run(ctx, absRoot, batchSize, events); err != nil {
			send(ctx, events, ProgressEvent{Type: EventError, Err: err})
		}
	}()

	return events, nil
}

func (e *Engine) run(ctx context.Context, root string, batchSize int, events chan<- ProgressEvent) error {
	if !send(ctx, events, ProgressEvent{Type: EventStarting}) {
		return ctx.Err()
	}

	creds, err := e.Credentials.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}

	ws, created, err := e.resolveWorkspace(ctx, creds, root)
	if err != nil {
		return err
	}
	if created {
		if !send(ctx, events, ProgressEvent{Type: EventWorkspaceCreated}) {
			return ctx.Err()
		}
	}

	if !send(ctx, events, ProgressEvent{Type: EventDiscoveringFiles}) {
		return ctx.Err()
	}
	local, err := discoverAndHash(root)
	if err != nil {
		return fmt.Errorf("discover files: %w", err)
	}
	if len(local) == 0 {
		return fmt.Errorf("no syncable files found under %s", root)
	}
	if !send(ctx, events, ProgressEvent{Type: EventFilesDiscovered, FilesDiscovered: len(local)}) {
		return ctx.Err()
	}

	if !send(ctx, events, ProgressEvent{Type: EventComparingFiles}) {
		return ctx.Err()
	}
	var remote []FileHash
	if !created {
		if err := retry.Do(ctx, e.retryConfig(), func() error {
			var rerr error
			remote, rerr = e.Backend.ListWorkspaceFiles(ctx, creds, ws.WorkspaceID)
			return rerr
		}); err != nil {
			return fmt.Errorf("list workspace files: %w", err)
		}
	}

	statuses := diff(local, remote)
	added, deleted, modified := countChanges(statuses)
	if added+deleted+modified > 0 {
		if !send(ctx, events, ProgressEvent{Type: EventDiffComputed, Added: added, Deleted: deleted, Modified: modified}) {
			return ctx.Err()
		}
	}

	totalChanges := added + deleted + modified
	failedFiles, err := e.apply(ctx, creds, ws.WorkspaceID, local, statuses, batchSize, totalChanges, events)
	if err != nil {
		return err
	}

	now := time.Now()
	ws.UpdatedAt = now
	if err := e.Store.UpsertWorkspace(persistence.WorkspaceRecord{
		WorkspaceID: ws.WorkspaceID,
		UserID:      ws.UserID,
		Path:        ws.Path,
		CreatedAt:   ws.CreatedAt,
		UpdatedAt:   ws.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("persist workspace record: %w", err)
	}

	send(ctx, events, ProgressEvent{
		Type:          EventCompleted,
		TotalFiles:    len(local),
		UploadedFiles: totalChanges,
		FailedFiles:   failedFiles,
	})
	return nil
}

// resolveWorkspace implements step 3-4 of the algorithm: exact match, then
// longest-ancestor-prefix match, evicting any cross-user local record found
// along the way, and creating a fresh workspace on the backend if nothing
// matches.
func (e *Engine) resolveWorkspace(ctx context.Context, creds Credentials, root string) (Workspace, bool, error) {
	rec, ok, err := e.Store.FindWorkspaceByPathAnyUser(root)
	if err != nil {
		return Workspace{}, false, fmt.Errorf("find workspace: %w", err)
	}
	if !ok {
		rec, ok, err = e.Store.FindWorkspaceByPathPrefixAnyUser(root)
		if err != nil {
			return Workspace{}, false, fmt.Errorf("find workspace ancestor: %w", err)
		}
	}

	if ok {
		if rec.UserID != creds.UserID {
			logging.Logger().Warn("evicting workspace record owned by a different user",
				"workspace_id", rec.WorkspaceID, "path", rec.Path)
			if err := e.Store.DeleteWorkspace(rec.WorkspaceID); err != nil {
				return Workspace{}, false, fmt.Errorf("evict cross-user workspace: %w", err)
			}
		} else {
			return Workspace{
				WorkspaceID: rec.WorkspaceID,
				UserID:      rec.UserID,
				Path:        rec.Path,
				CreatedAt:   rec.CreatedAt,
				UpdatedAt:   rec.UpdatedAt,
			}, false, nil
		}
	}

	workspaceID := e.newWorkspaceID()
	if err := retry.Do(ctx, e.retryConfig(), func() error {
		return e.Backend.CreateWorkspace(ctx, creds, workspaceID, root)
	}); err != nil {
		return Workspace{}, false, fmt.Errorf("create workspace: %w", err)
	}

	now := time.Now()
	ws := Workspace{WorkspaceID: workspaceID, UserID: creds.UserID, Path: root, CreatedAt: now, UpdatedAt: now}
	if err := e.Store.UpsertWorkspace(persistence.WorkspaceRecord{
		WorkspaceID: ws.WorkspaceID,
		UserID:      ws.UserID,
		Path:        ws.Path,
		CreatedAt:   ws.CreatedAt,
		UpdatedAt:   ws.UpdatedAt,
	}); err != nil {
		return Workspace{}, false, fmt.Errorf("persist new workspace: %w", err)
	}
	return ws, true, nil
}

func (e *Engine) newWorkspaceID() string {
	if e.NewWorkspaceID != nil {
		return e.NewWorkspaceID()
	}
	return uuid.NewString()
}

// apply runs the delete and upload pipelines concurrently, each bounded by
// batchSize, and reports a running completion count as files finish.
func (e *Engine) apply(ctx context.Context, creds Credentials, workspaceID string, local []FileNode, statuses []FileStatus, batchSize, total int, events chan<- ProgressEvent) (int, error) {
	if total == 0 {
		return 0, nil
	}

	byPath := make(map[string]FileNode, len(local))
	for _, n := range local {
		byPath[n.FilePath] = n
	}

	var completed, failed counter

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchSize)

	for _, st := range statuses {
		st := st
		switch st.Status {
		case StatusDeleted:
			g.Go(func() error {
				if err := retry.Do(gctx, e.retryConfig(), func() error {
					return e.Backend.DeleteFiles(gctx, creds, workspaceID, []string{st.Path})
				}); err != nil {
					logging.Logger().Warn("delete failed", "path", st.Path, "err", err)
					failed.add(1)
					send(ctx, events, ProgressEvent{Type: EventApplying, Completed: completed.value(), Total: total, FailedFiles: failed.value()})
					return nil
				}
				completed.add(1)
				send(ctx, events, ProgressEvent{Type: EventApplying, Completed: completed.value(), Total: total, FailedFiles: failed.value()})
				return nil
			})
		case StatusNew, StatusModified:
			node := byPath[st.Path]
			g.Go(func() error {
				if err := retry.Do(gctx, e.retryConfig(), func() error {
					return e.Backend.UploadFiles(gctx, creds, workspaceID, []FileNode{node})
				}); err != nil {
					logging.Logger().Warn("upload failed", "path", st.Path, "err", err)
					failed.add(1)
					send(ctx, events, ProgressEvent{Type: EventApplying, Completed: completed.value(), Total: total, FailedFiles: failed.value()})
					return nil
				}
				completed.add(1)
				send(ctx, events, ProgressEvent{Type: EventApplying, Completed: completed.value(), Total: total, FailedFiles: failed.value()})
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return failed.value(), err
	}
	return failed.value(), nil
}

// Status re-runs discovery/hash/diff without applying any changes,
// implementing get_workspace_status.
func (e *Engine) Status(ctx context.Context, root string) ([]FileStatus, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	creds, err := e.Credentials.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	rec, ok, err := e.Store.FindWorkspaceByPathAnyUser(absRoot)
	if err != nil {
		return nil, fmt.Errorf("find workspace: %w", err)
	}
	if !ok {
		rec, ok, err = e.Store.FindWorkspaceByPathPrefixAnyUser(absRoot)
		if err != nil {
			return nil, fmt.Errorf("find workspace ancestor: %w", err)
		}
	}
	if !ok {
		return nil, retry.WorkspaceNotFound(fmt.Errorf("no workspace registered for %s", absRoot))
	}

	local, err := discoverAndHash(absRoot)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	var remote []FileHash
	if err := retry.Do(ctx, e.retryConfig(), func() error {
		var rerr error
		remote, rerr = e.Backend.ListWorkspaceFiles(ctx, creds, rec.WorkspaceID)
		return rerr
	}); err != nil {
		return nil, fmt.Errorf("list workspace files: %w", err)
	}

	return diff(local, remote), nil
}

// diff implements step 8 of the algorithm.
func diff(local []FileNode, remote []FileHash) []FileStatus {
	localByPath := make(map[string]FileNode, len(local))
	for _, n := range local {
		localByPath[n.FilePath] = n
	}
	remoteByPath := make(map[string]string, len(remote))
	for _, h := range remote {
		remoteByPath[h.Path] = h.Hash
	}

	var statuses []FileStatus
	for path, node := range localByPath {
		remoteHash, inRemote := remoteByPath[path]
		switch {
		case !inRemote:
			statuses = append(statuses, FileStatus{Path: path, Status: StatusNew})
		case remoteHash != node.Hash:
			statuses = append(statuses, FileStatus{Path: path, Status: StatusModified})
		default:
			statuses = append(statuses, FileStatus{Path: path, Status: StatusInSync})
		}
	}
	for path := range remoteByPath {
		if _, inLocal := localByPath[path]; !inLocal {
			statuses = append(statuses, FileStatus{Path: path, Status: StatusDeleted})
		}
	}
	return statuses
}

func countChanges(statuses []FileStatus) (added, deleted, modified int) {
	for _, s := range statuses {
		switch s.Status {
		case StatusNew:
			added++
		case StatusDeleted:
			deleted++
		case StatusModified:
			modified++
		}
	}
	return
}

// discoverAndHash walks root, keeping only allow-listed file extensions,
// and hashes each surviving file's content.
func discoverAndHash(root string) ([]FileNode, error) {
	var nodes []FileNode

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			if path != root && shouldSkipDir(entry.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !allowedExtension(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			logging.Logger().Warn("skipping unreadable file", "path", path, "err", err)
			return nil
		}
		if !isValidUTF8(data) {
			logging.Logger().Warn("skipping non-UTF-8 file", "path", path)
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}

		sum := sha256.Sum256(data)
		nodes = append(nodes, FileNode{
			FilePath: filepath.ToSlash(rel),
			Content:  string(data),
			Hash:     hex.EncodeToString(sum[:]),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func shouldSkipDir(name string) bool {
	switch name {
	case ".git", ".hg", ".svn", "node_modules", "vendor", ".idea", ".vscode", "__pycache__", "target", "dist", "build":
		return true
	}
	return len(name) > 1 && name[0] == '.'
}

// counter is a small goroutine-safe accumulator used by apply's fan-out.
type counter struct {
	n atomic.Int64
}

func (c *counter) add(delta int) { c.n.Add(int64(delta)) }
func (c *counter) value() int    { return int(c.n.Load()) }

// send delivers evt on the bounded channel, blocking for backpressure per
// the progress-stream contract, and returns false if ctx was canceled
// first.
func send(ctx context.Context, ch chan<- ProgressEvent, evt ProgressEvent) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
