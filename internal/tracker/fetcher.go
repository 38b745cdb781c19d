package tracker

import (
	"context"
	"fmt"
)

// Logger matches the stdlib logger surface used across the service.
type Logger interface {
	Printf(format string, args ...any)
}

// SectionTree is one section with the tasks it contains.
type SectionTree struct {
	Section Section
	Tasks   []TaskNode
}

// TaskNode is one top-level task with its fetched subtasks.
type TaskNode struct {
	Task     Task
	Subtasks []Task
}

// DegradedFetch records a subtask listing that failed. The task itself is
// still part of the snapshot; only its subtasks are missing.
type DegradedFetch struct {
	TaskID string
	Err    error
}

// ProjectTree is the full snapshot of a remote project. Degraded is empty on
// a full success.
type ProjectTree struct {
	Sections []SectionTree
	Degraded []DegradedFetch
}

type Fetcher struct {
	api    API
	logger Logger
}

func NewFetcher(api API, logger Logger) (*Fetcher, error) {
	if api == nil {
		return nil, fmt.Errorf("tracker api is required")
	}
	return &Fetcher{api: api, logger: logger}, nil
}

// FetchTree walks the section, task, and subtask listings of a project,
// draining every pagination cursor. Section and task listing failures abort
// the walk; a subtask listing failure degrades that one task and the walk
// continues.
func (f *Fetcher) FetchTree(ctx context.Context, token, projectID string) (*ProjectTree, error) {
	sections, err := f.listAllSections(ctx, token, projectID)
	if err != nil {
		return nil, err
	}

	tree := &ProjectTree{Sections: make([]SectionTree, 0, len(sections))}
	for _, section := range sections {
		tasks, err := f.listAllTasks(ctx, func(offset string) (TaskPage, error) {
			return f.api.ListTasks(ctx, token, section.GID, offset)
		})
		if err != nil {
			return nil, fmt.Errorf("list tasks for section %s: %w", section.GID, err)
		}

		sectionTree := SectionTree{Section: section, Tasks: make([]TaskNode, 0, len(tasks))}
		for _, task := range tasks {
			node := TaskNode{Task: task}
			if task.NumSubtasks > 0 {
				subtasks, err := f.listAllTasks(ctx, func(offset string) (TaskPage, error) {
					return f.api.ListSubtasks(ctx, token, task.GID, offset)
				})
				if err != nil {
					f.logf("subtask fetch degraded for task %s: %v", task.GID, err)
					tree.Degraded = append(tree.Degraded, DegradedFetch{TaskID: task.GID, Err: err})
				} else {
					node.Subtasks = subtasks
				}
			}
			sectionTree.Tasks = append(sectionTree.Tasks, node)
		}
		tree.Sections = append(tree.Sections, sectionTree)
	}
	return tree, nil
}

func (f *Fetcher) listAllSections(ctx context.Context, token, projectID string) ([]Section, error) {
	var sections []Section
	offset := ""
	for {
		page, err := f.api.ListSections(ctx, token, projectID, offset)
		if err != nil {
			return nil, fmt.Errorf("list sections for project %s: %w", projectID, err)
		}
		sections = append(sections, page.Sections...)
		if page.NextOffset == "" {
			break
		}
		offset = page.NextOffset
	}
	return sections, nil
}

func (f *Fetcher) listAllTasks(ctx context.Context, list func(offset string) (TaskPage, error)) ([]Task, error) {
	var tasks []Task
	offset := ""
	for {
		page, err := list(offset)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, page.Tasks...)
		if page.NextOffset == "" {
			break
		}
		offset = page.NextOffset
	}
	return tasks, nil
}

func (f *Fetcher) logf(format string, args ...any) {
	if f.logger == nil {
		return
	}
	f.logger.Printf(format, args...)
}
