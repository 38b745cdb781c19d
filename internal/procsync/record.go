package procsync

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Origin tags who authored a task record. Reconciliation only ever touches
// remote-sourced rows; the other origins are invisible to it.
type Origin string

const (
	// OriginRemote marks rows mirrored from the tracker. They are created,
	// overwritten, and deleted by the reconciler.
	OriginRemote Origin = "remote"
	// OriginLocal marks rows authored inside this system with no remote
	// counterpart.
	OriginLocal Origin = "local"
	// OriginManagedDoc marks rows owned by the internal documentation
	// mechanism.
	OriginManagedDoc Origin = "managed_doc"
)

func (o Origin) Valid() bool {
	switch o {
	case OriginRemote, OriginLocal, OriginManagedDoc:
		return true
	}
	return false
}

// TaskRecord is the durable local mirror of one remote task or subtask, plus
// the sync bookkeeping fields. RemoteID is the reconciliation key; at most one
// remote-sourced record exists per (ProcessID, RemoteID).
type TaskRecord struct {
	ID             string
	ProcessID      string
	RemoteID       string
	Origin         Origin
	Title          string
	Notes          string
	Completed      bool
	CompletedAt    *time.Time
	AssigneeID     string
	AssigneeName   string
	AssigneeEmail  string
	StartOn        string
	DueOn          string
	SectionID      string
	SectionName    string
	Phase          Phase
	ParentRemoteID string
	IsSubtask      bool
	Permalink      string
	SyncedAt       time.Time
	CreatedAt      time.Time
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Imported int       `json:"imported"`
	Updated  int       `json:"updated"`
	Removed  int       `json:"removed"`
	Total    int       `json:"total"`
	SyncedAt time.Time `json:"syncedAt"`
}

// TaskStore is the keyed record store the reconciler writes through.
type TaskStore interface {
	// ListRemoteSourced returns every remote-sourced row for the process;
	// this is the reconciliation baseline.
	ListRemoteSourced(ctx context.Context, processID string) ([]TaskRecord, error)
	Create(ctx context.Context, record TaskRecord) error
	Update(ctx context.Context, record TaskRecord) error
	Delete(ctx context.Context, processID, remoteID string, origin Origin) error
}

// ProcessLink ties an internal process to its remote project and the owner
// whose credential authorizes the sync.
type ProcessLink struct {
	ProcessID string
	ProjectID string
	OwnerID   string
}

// ProcessLinks resolves process links. Link returns ErrNotFound for a process
// that was never linked to a remote project.
type ProcessLinks interface {
	Link(ctx context.Context, processID string) (ProcessLink, error)
}
