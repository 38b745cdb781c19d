package tracker

import "time"

// Section is a named grouping of tasks inside a remote project.
type Section struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// UserRef is the inline assignee reference carried on a task payload.
type UserRef struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// Task is one remote task or subtask as returned by the tracker. Snapshots are
// read-only; the tracker is the source of truth for every field here.
type Task struct {
	GID          string     `json:"gid"`
	Name         string     `json:"name"`
	Notes        string     `json:"notes"`
	Completed    bool       `json:"completed"`
	CompletedAt  *time.Time `json:"completed_at"`
	Assignee     *UserRef   `json:"assignee"`
	StartOn      string     `json:"start_on"`
	DueOn        string     `json:"due_on"`
	NumSubtasks  int        `json:"num_subtasks"`
	PermalinkURL string     `json:"permalink_url"`
}

// User is the full user payload from the user endpoint.
type User struct {
	GID   string `json:"gid"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SectionPage is one page of a section listing. An empty NextOffset ends the
// pagination.
type SectionPage struct {
	Sections   []Section
	NextOffset string
}

// TaskPage is one page of a task or subtask listing.
type TaskPage struct {
	Tasks      []Task
	NextOffset string
}
