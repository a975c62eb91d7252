package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/modelmux/routing"
)

// DefaultMaxSubTasks bounds how many sub-tasks one request may fan into.
const DefaultMaxSubTasks = 5

// Decomposer splits request text into ordered sub-tasks.
type Decomposer interface {
	Decompose(ctx context.Context, text string) []routing.Task
}

// listItemPattern matches one numbered or bulleted list line, capturing
// the marker and the item text.
var listItemPattern = regexp.MustCompile(`^\s*(\d+[.)]|[-*•])\s+(.+)$`)

// ListDecomposer splits requests shaped like numbered or bulleted lists
// into one sub-task per item. Numbered items read as an ordered plan, so
// each depends on its predecessor; bulleted items stay independent.
// Everything else, including lists longer than maxSubTasks, passes
// through as a single task.
type ListDecomposer struct {
	maxSubTasks int
}

var _ Decomposer = (*ListDecomposer)(nil)

// NewListDecomposer creates a decomposer. Non-positive maxSubTasks falls
// back to DefaultMaxSubTasks.
func NewListDecomposer(maxSubTasks int) *ListDecomposer {
	if maxSubTasks <= 0 {
		maxSubTasks = DefaultMaxSubTasks
	}
	return &ListDecomposer{maxSubTasks: maxSubTasks}
}

func (d *ListDecomposer) Decompose(_ context.Context, text string) []routing.Task {
	type item struct {
		text     string
		numbered bool
	}
	var items []item
	for _, line := range strings.Split(text, "\n") {
		m := listItemPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		items = append(items, item{
			text:     strings.TrimSpace(m[2]),
			numbered: m[1][0] >= '0' && m[1][0] <= '9',
		})
	}

	// A single item is not a plan, and an over-long list is more likely
	// prose with decoration than a task list.
	if len(items) < 2 || len(items) > d.maxSubTasks {
		return []routing.Task{{ID: newTaskID(), Text: strings.TrimSpace(text)}}
	}

	tasks := make([]routing.Task, 0, len(items))
	prevID := ""
	for i, it := range items {
		task := routing.Task{
			ID:       newTaskID(),
			Text:     it.text,
			Priority: i,
		}
		if it.numbered && prevID != "" {
			task.DependsOn = []string{prevID}
		}
		prevID = task.ID
		tasks = append(tasks, task)
	}
	return tasks
}

// dependencyFree reports whether no task depends on another, which is
// what permits parallel fan-out.
func dependencyFree(tasks []routing.Task) bool {
	for _, t := range tasks {
		if len(t.DependsOn) > 0 {
			return false
		}
	}
	return true
}

func newTaskID() string {
	return "task-" + shortuuid.New()
}
