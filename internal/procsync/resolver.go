package procsync

import (
	"context"
	"strings"

	"github.com/agentworkforce/tasksync/internal/tracker"
)

// UserDirectory is the slice of the tracker used to resolve assignees.
type UserDirectory interface {
	GetUser(ctx context.Context, token, userID string) (tracker.User, error)
}

// AssigneeResolver turns remote user IDs into contact addresses. The memo map
// lives for one ResolveAll call; nothing is cached across runs.
type AssigneeResolver struct {
	directory UserDirectory
	logger    Logger
}

func NewAssigneeResolver(directory UserDirectory, logger Logger) *AssigneeResolver {
	return &AssigneeResolver{directory: directory, logger: logger}
}

// ResolveAll resolves each unique ID with one lookup. An ID whose lookup
// fails, or whose user has no visible address, is simply absent from the
// result; a bad ID never aborts the batch.
func (r *AssigneeResolver) ResolveAll(ctx context.Context, token string, ids []string) map[string]string {
	resolved := map[string]string{}
	if r.directory == nil {
		return resolved
	}
	seen := map[string]struct{}{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, done := seen[id]; done {
			continue
		}
		seen[id] = struct{}{}
		user, err := r.directory.GetUser(ctx, token, id)
		if err != nil {
			r.logf("assignee lookup failed for %s: %v", id, err)
			continue
		}
		if email := strings.TrimSpace(user.Email); email != "" {
			resolved[id] = email
		}
	}
	return resolved
}

func (r *AssigneeResolver) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}
