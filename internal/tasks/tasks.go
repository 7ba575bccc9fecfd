// Package tasks tracks work items bound to site map entities. A task refers
// to exactly one entity and outlives it; tasks of a removed entity stay
// visible for audit.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyleqd/sitemap/internal/sitemap"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalid           = errors.New("invalid task")
	ErrInvalidTransition = errors.New("invalid task transition")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusBlocked, StatusCancelled},
	StatusBlocked:    {StatusInProgress},
}

// CanTransition reports whether a task may move from s to to.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Type string

const (
	TypeSetup       Type = "setup"
	TypeTeardown    Type = "teardown"
	TypeInspection  Type = "inspection"
	TypeMaintenance Type = "maintenance"
	TypeDelivery    Type = "delivery"
	TypeCleaning    Type = "cleaning"
	TypeOther       Type = "other"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var (
	validTypes      = map[Type]bool{TypeSetup: true, TypeTeardown: true, TypeInspection: true, TypeMaintenance: true, TypeDelivery: true, TypeCleaning: true, TypeOther: true}
	validPriorities = map[Priority]bool{PriorityLow: true, PriorityMedium: true, PriorityHigh: true, PriorityUrgent: true}
)

// Change is one entry in a task's status history.
type Change struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	By   string    `json:"by"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

type Task struct {
	ID             string       `json:"id"`
	SiteMapID      string       `json:"siteMapId"`
	ElementID      string       `json:"elementId"`
	ElementType    sitemap.Kind `json:"elementType"`
	Type           Type         `json:"type"`
	Description    string       `json:"description"`
	Priority       Priority     `json:"priority"`
	Status         Status       `json:"status"`
	AssigneeID     string       `json:"assigneeId,omitempty"`
	ScheduledStart *time.Time   `json:"scheduledStart,omitempty"`
	ScheduledEnd   *time.Time   `json:"scheduledEnd,omitempty"`
	CreatedBy      string       `json:"createdBy"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	History        []Change     `json:"history"`
}

func (t *Task) clone() Task {
	cp := *t
	cp.History = append([]Change(nil), t.History...)
	return cp
}

// View is a task as shown to callers.
type View struct {
	Task
	EntityRemoved bool `json:"entityRemoved"`
}

// Entities resolves task elements. *store.Store satisfies it.
type Entities interface {
	Get(id string) (sitemap.Entity, error)
}

// Repository persists tasks.
type Repository interface {
	SaveTask(ctx context.Context, t Task) error
	LoadTasks(ctx context.Context, mapID string) ([]Task, error)
}

type Tracker struct {
	mapID    string
	entities Entities
	repo     Repository
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger

	mu    sync.RWMutex
	tasks map[string]*Task
}

type Option func(*Tracker)

func WithRepository(r Repository) Option     { return func(t *Tracker) { t.repo = r } }
func WithClock(now func() time.Time) Option  { return func(t *Tracker) { t.now = now } }
func WithIDGenerator(f func() string) Option { return func(t *Tracker) { t.newID = f } }
func WithLogger(logger *slog.Logger) Option  { return func(t *Tracker) { t.logger = logger } }

func NewTracker(ctx context.Context, mapID string, entities Entities, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		mapID:    mapID,
		entities: entities,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		logger:   slog.Default(),
		tasks:    make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.repo == nil {
		return t, nil
	}
	loaded, err := t.repo.LoadTasks(ctx, mapID)
	if err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}
	for i := range loaded {
		t.tasks[loaded[i].ID] = &loaded[i]
	}
	return t, nil
}

// NewTask is the input to Create.
type NewTask struct {
	ElementID      string       `json:"elementId"`
	ElementType    sitemap.Kind `json:"elementType,omitempty"`
	Type           Type         `json:"type"`
	Description    string       `json:"description"`
	Priority       Priority     `json:"priority,omitempty"`
	AssigneeID     string       `json:"assigneeId,omitempty"`
	ScheduledStart *time.Time   `json:"scheduledStart,omitempty"`
	ScheduledEnd   *time.Time   `json:"scheduledEnd,omitempty"`
}

func (t *Tracker) Create(ctx context.Context, in NewTask, by string) (View, error) {
	e, err := t.entities.Get(in.ElementID)
	if err != nil {
		return View{}, err
	}
	if !sitemap.Live(e) {
		return View{}, fmt.Errorf("%w: element %s is deleted", ErrInvalid, in.ElementID)
	}
	if in.ElementType != "" && in.ElementType != e.Kind() {
		return View{}, fmt.Errorf("%w: element %s is a %s, not a %s", ErrInvalid, in.ElementID, e.Kind(), in.ElementType)
	}
	if in.Type == "" {
		in.Type = TypeOther
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	switch {
	case !validTypes[in.Type]:
		return View{}, fmt.Errorf("%w: unknown type %q", ErrInvalid, in.Type)
	case !validPriorities[in.Priority]:
		return View{}, fmt.Errorf("%w: unknown priority %q", ErrInvalid, in.Priority)
	case in.Description == "":
		return View{}, fmt.Errorf("%w: description is required", ErrInvalid)
	case in.ScheduledStart != nil && in.ScheduledEnd != nil && in.ScheduledEnd.Before(*in.ScheduledStart):
		return View{}, fmt.Errorf("%w: schedule ends before it starts", ErrInvalid)
	}

	now := t.now()
	task := &Task{
		ID:             t.newID(),
		SiteMapID:      t.mapID,
		ElementID:      in.ElementID,
		ElementType:    e.Kind(),
		Type:           in.Type,
		Description:    in.Description,
		Priority:       in.Priority,
		Status:         StatusPending,
		AssigneeID:     in.AssigneeID,
		ScheduledStart: in.ScheduledStart,
		ScheduledEnd:   in.ScheduledEnd,
		CreatedBy:      by,
		CreatedAt:      now,
		UpdatedAt:      now,
		History:        []Change{},
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.save(ctx, task); err != nil {
		return View{}, err
	}
	t.tasks[task.ID] = task
	t.logger.Info("task created", "map", t.mapID, "task", task.ID, "element", task.ElementID)
	return t.view(task), nil
}

// Transition moves a task to a new status. Only the transitions of the
// task state machine are allowed; nothing happens automatically.
func (t *Tracker) Transition(ctx context.Context, id string, to Status, by, note string) (View, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !task.Status.CanTransition(to) {
		return View{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, to)
	}
	next := task.clone()
	now := t.now()
	next.History = append(next.History, Change{From: task.Status, To: to, By: by, At: now, Note: note})
	next.Status, next.UpdatedAt = to, now
	if err := t.save(ctx, &next); err != nil {
		return View{}, err
	}
	*task = next
	return t.view(task), nil
}

// Assign sets or clears the assignee. Closed tasks cannot be reassigned.
func (t *Tracker) Assign(ctx context.Context, id, assignee string) (View, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if task.Status == StatusCompleted || task.Status == StatusCancelled {
		return View{}, fmt.Errorf("%w: task is %s", ErrInvalidTransition, task.Status)
	}
	next := task.clone()
	next.AssigneeID, next.UpdatedAt = assignee, t.now()
	if err := t.save(ctx, &next); err != nil {
		return View{}, err
	}
	*task = next
	return t.view(task), nil
}

func (t *Tracker) save(ctx context.Context, task *Task) error {
	if t.repo == nil {
		return nil
	}
	if err := t.repo.SaveTask(ctx, task.clone()); err != nil {
		return fmt.Errorf("saving task: %w", err)
	}
	return nil
}

func (t *Tracker) Get(id string) (View, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[id]
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.view(task), nil
}

type Filter struct {
	ElementID  string
	Status     Status
	AssigneeID string
}

// List returns matching tasks, oldest first.
func (t *Tracker) List(f Filter) []View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := []View{}
	for _, task := range t.tasks {
		if f.ElementID != "" && task.ElementID != f.ElementID {
			continue
		}
		if f.Status != "" && task.Status != f.Status {
			continue
		}
		if f.AssigneeID != "" && task.AssigneeID != f.AssigneeID {
			continue
		}
		out = append(out, t.view(task))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *Tracker) view(task *Task) View {
	e, err := t.entities.Get(task.ElementID)
	return View{Task: task.clone(), EntityRemoved: err != nil || !sitemap.Live(e)}
}
