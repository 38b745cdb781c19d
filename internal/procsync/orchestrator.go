package procsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentworkforce/tasksync/internal/tracker"
)

type Logger interface {
	Printf(format string, args ...any)
}

type SyncErrorKind string

const (
	// SyncErrorNotConnected: no usable tracker credential for the owner.
	// User action required; not a bug.
	SyncErrorNotConnected SyncErrorKind = "not_connected"
	// SyncErrorNotLinked: the process has no remote project link, or the
	// linked project no longer resolves.
	SyncErrorNotLinked SyncErrorKind = "not_linked"
	// SyncErrorFailed: any other failure during the run.
	SyncErrorFailed SyncErrorKind = "error"
)

type SyncError struct {
	Kind    SyncErrorKind
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed (%s): %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// TokenSource yields a usable tracker token for an owner; "" means the owner
// is not connected.
type TokenSource interface {
	ValidToken(ctx context.Context, ownerID string) (string, error)
}

// TreeFetcher produces the remote project snapshot.
type TreeFetcher interface {
	FetchTree(ctx context.Context, token, projectID string) (*tracker.ProjectTree, error)
}

type SyncerOptions struct {
	Store       TaskStore
	Links       ProcessLinks
	Credentials TokenSource
	Fetcher     TreeFetcher
	Directory   UserDirectory
	Logger      Logger
}

// Syncer runs one full sync for a process: credential, remote snapshot,
// classification, assignee resolution, reconcile. Runs for the same process
// are serialized; different processes run independently.
type Syncer struct {
	links       ProcessLinks
	credentials TokenSource
	fetcher     TreeFetcher
	reconciler  *Reconciler
	resolver    *AssigneeResolver
	logger      Logger

	mu          sync.Mutex
	runLocks    map[string]*sync.Mutex
	lastResults map[string]SyncResult
}

func NewSyncer(opts SyncerOptions) (*Syncer, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if opts.Links == nil {
		return nil, fmt.Errorf("process links are required")
	}
	if opts.Credentials == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("tree fetcher is required")
	}
	reconciler, err := NewReconciler(opts.Store, nil)
	if err != nil {
		return nil, err
	}
	return &Syncer{
		links:       opts.Links,
		credentials: opts.Credentials,
		fetcher:     opts.Fetcher,
		reconciler:  reconciler,
		resolver:    NewAssigneeResolver(opts.Directory, opts.Logger),
		logger:      opts.Logger,
		runLocks:    map[string]*sync.Mutex{},
		lastResults: map[string]SyncResult{},
	}, nil
}

// SyncProcess runs one sync for the process and returns its summary. Failures
// come back as *SyncError so callers can tell a missing credential or a
// vanished project apart from a genuine fault.
func (s *Syncer) SyncProcess(ctx context.Context, processID string) (SyncResult, error) {
	processID = strings.TrimSpace(processID)
	if processID == "" {
		return SyncResult{}, &SyncError{Kind: SyncErrorFailed, Message: "process id is required"}
	}

	lock := s.processLock(processID)
	lock.Lock()
	defer lock.Unlock()

	runID := uuid.NewString()

	link, err := s.links.Link(ctx, processID)
	if errors.Is(err, ErrNotFound) {
		return SyncResult{}, &SyncError{Kind: SyncErrorNotLinked, Message: "process is not linked to a remote project", Err: err}
	}
	if err != nil {
		return SyncResult{}, &SyncError{Kind: SyncErrorFailed, Message: "resolve process link: " + err.Error(), Err: err}
	}

	token, err := s.credentials.ValidToken(ctx, link.OwnerID)
	if err != nil {
		return SyncResult{}, &SyncError{Kind: SyncErrorFailed, Message: "resolve credential: " + err.Error(), Err: err}
	}
	if token == "" {
		return SyncResult{}, &SyncError{Kind: SyncErrorNotConnected, Message: "tracker is not connected for this process"}
	}

	tree, err := s.fetcher.FetchTree(ctx, token, link.ProjectID)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			return SyncResult{}, &SyncError{Kind: SyncErrorNotLinked, Message: "remote project is no longer reachable", Err: err}
		}
		return SyncResult{}, &SyncError{Kind: SyncErrorFailed, Message: "fetch remote tree: " + err.Error(), Err: err}
	}
	degradedParents := make([]string, 0, len(tree.Degraded))
	for _, degraded := range tree.Degraded {
		s.logf("run %s: subtasks missing for task %s: %v", runID, degraded.TaskID, degraded.Err)
		degradedParents = append(degradedParents, degraded.TaskID)
	}

	rows, assigneeIDs := flattenTree(tree)
	emails := s.resolver.ResolveAll(ctx, token, assigneeIDs)
	for i := range rows {
		if email, ok := emails[rows[i].AssigneeID]; ok {
			rows[i].AssigneeEmail = email
		}
	}

	result, err := s.reconciler.Reconcile(ctx, processID, rows, degradedParents)
	if err != nil {
		return result, &SyncError{Kind: SyncErrorFailed, Message: "reconcile: " + err.Error(), Err: err}
	}

	s.mu.Lock()
	s.lastResults[processID] = result
	s.mu.Unlock()

	s.logf("run %s: process %s synced: imported=%d updated=%d removed=%d total=%d",
		runID, processID, result.Imported, result.Updated, result.Removed, result.Total)
	return result, nil
}

// LastResult returns the summary of the most recent successful run for the
// process within this instance's lifetime.
func (s *Syncer) LastResult(processID string) (SyncResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.lastResults[processID]
	return result, ok
}

func (s *Syncer) processLock(processID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.runLocks[processID]
	if !ok {
		lock = &sync.Mutex{}
		s.runLocks[processID] = lock
	}
	return lock
}

func (s *Syncer) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

// flattenTree turns the nested snapshot into the uniform row list the
// reconciler consumes, skipping managed items, and collects the assignee IDs
// that need resolution. The managed check applies to tasks and subtasks
// independently.
func flattenTree(tree *tracker.ProjectTree) ([]TaskRecord, []string) {
	var rows []TaskRecord
	var assigneeIDs []string
	for _, sectionTree := range tree.Sections {
		phase := PhaseForSection(sectionTree.Section.Name)
		for _, node := range sectionTree.Tasks {
			if !IsManagedTitle(node.Task.Name) {
				row := rowFromTask(node.Task, sectionTree.Section, phase, false, "")
				rows = append(rows, row)
				if row.AssigneeID != "" {
					assigneeIDs = append(assigneeIDs, row.AssigneeID)
				}
			}
			for _, subtask := range node.Subtasks {
				if IsManagedTitle(subtask.Name) {
					continue
				}
				row := rowFromTask(subtask, sectionTree.Section, phase, true, node.Task.GID)
				rows = append(rows, row)
				if row.AssigneeID != "" {
					assigneeIDs = append(assigneeIDs, row.AssigneeID)
				}
			}
		}
	}
	return rows, assigneeIDs
}

func rowFromTask(task tracker.Task, section tracker.Section, phase Phase, isSubtask bool, parentID string) TaskRecord {
	row := TaskRecord{
		RemoteID:       task.GID,
		Origin:         OriginRemote,
		Title:          task.Name,
		Notes:          task.Notes,
		Completed:      task.Completed,
		CompletedAt:    task.CompletedAt,
		StartOn:        task.StartOn,
		DueOn:          task.DueOn,
		SectionID:      section.GID,
		SectionName:    section.Name,
		Phase:          phase,
		ParentRemoteID: parentID,
		IsSubtask:      isSubtask,
		Permalink:      task.PermalinkURL,
	}
	if task.Assignee != nil {
		row.AssigneeID = task.Assignee.GID
		row.AssigneeName = task.Assignee.Name
	}
	return row
}
