// Package memory provides an in-memory implementation of repository.Store used
// for tests, local runs and fault injection.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskhive/internal/model"
	"taskhive/internal/repository"
	"taskhive/pkg/outbox"
)

var _ repository.Store = (*Store)(nil)

var (
	// ErrForeignKey 引用的行不存在或仍被引用
	ErrForeignKey = errors.New("foreign key violation")
	// ErrCheckViolation 行级约束不满足
	ErrCheckViolation = errors.New("check constraint violation")
)

type state struct {
	users      map[int]model.User
	projects   map[int]model.Project
	tasks      map[int]model.Task
	changeLogs map[int]model.ChangeLog
	events     map[int64]outbox.Event

	nextUserID      int
	nextProjectID   int
	nextTaskID      int
	nextChangeLogID int
	nextEventID     int64
}

func newState() state {
	return state{
		users:      map[int]model.User{},
		projects:   map[int]model.Project{},
		tasks:      map[int]model.Task{},
		changeLogs: map[int]model.ChangeLog{},
		events:     map[int64]outbox.Event{},
	}
}

func (s state) clone() state {
	cloned := newState()
	for k, v := range s.users {
		cloned.users[k] = cloneUser(v)
	}
	for k, v := range s.projects {
		cloned.projects[k] = cloneProject(v)
	}
	for k, v := range s.tasks {
		cloned.tasks[k] = cloneTask(v)
	}
	for k, v := range s.changeLogs {
		cloned.changeLogs[k] = cloneChangeLog(v)
	}
	for k, v := range s.events {
		cloned.events[k] = cloneEvent(v)
	}
	cloned.nextUserID = s.nextUserID
	cloned.nextProjectID = s.nextProjectID
	cloned.nextTaskID = s.nextTaskID
	cloned.nextChangeLogID = s.nextChangeLogID
	cloned.nextEventID = s.nextEventID
	return cloned
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// Store keeps all rows in maps guarded by a single RWMutex. Transactions work
// on a cloned state that replaces the live one only when fn succeeds.
type Store struct {
	mu    sync.RWMutex
	state state
	nowFn func() time.Time

	faultMu sync.Mutex
	faults  map[string]error
}

func New(opts ...Option) *Store {
	s := &Store{
		state:  newState(),
		nowFn:  func() time.Time { return time.Now().UTC() },
		faults: map[string]error{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailOn makes every call of op return err until ClearFaults. op names the
// repository and method, e.g. "tasks.DeleteByIDs" or "changelogs.Insert".
func (s *Store) FailOn(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = err
}

func (s *Store) ClearFaults() {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults = map[string]error{}
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err, ok := s.faults[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) Projects() repository.ProjectRepository {
	return &projectRepo{h: storeHandle{s}}
}

func (s *Store) Tasks() repository.TaskRepository {
	return &taskRepo{h: storeHandle{s}}
}

func (s *Store) ChangeLogs() repository.ChangeLogRepository {
	return &changeLogRepo{h: storeHandle{s}}
}

func (s *Store) Users() repository.UserRepository {
	return &userRepo{h: storeHandle{s}}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// WithTx runs fn against a cloned state. The live state is swapped only when
// fn returns nil; an error or a panic leaves it untouched.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txScope{h: txHandle{store: s, st: s.state.clone()}}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.h.st
	return nil
}

type txScope struct {
	h txHandle
}

func (t *txScope) Projects() repository.ProjectRepository {
	return &projectRepo{h: &t.h}
}

func (t *txScope) Tasks() repository.TaskRepository {
	return &taskRepo{h: &t.h}
}

func (t *txScope) ChangeLogs() repository.ChangeLogRepository {
	return &changeLogRepo{h: &t.h}
}

func (t *txScope) Events() repository.EventRepository {
	return &eventRepo{h: &t.h}
}

// handle 屏蔽 "直接访问" 与 "事务内访问" 的差异
type handle interface {
	read(fn func(st *state) error) error
	write(fn func(st *state) error) error
	check(op string) error
	now() time.Time
}

type storeHandle struct {
	s *Store
}

func (h storeHandle) read(fn func(st *state) error) error {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	return fn(&h.s.state)
}

func (h storeHandle) write(fn func(st *state) error) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return fn(&h.s.state)
}

func (h storeHandle) check(op string) error { return h.s.fault(op) }
func (h storeHandle) now() time.Time        { return h.s.nowFn() }

// txHandle 已在 WithTx 中持有写锁
type txHandle struct {
	store *Store
	st    state
}

func (h *txHandle) read(fn func(st *state) error) error  { return fn(&h.st) }
func (h *txHandle) write(fn func(st *state) error) error { return fn(&h.st) }
func (h *txHandle) check(op string) error                { return h.store.fault(op) }
func (h *txHandle) now() time.Time                       { return h.store.nowFn() }

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func cloneProject(p model.Project) model.Project {
	p.DueDate = cloneTime(p.DueDate)
	p.ArchivedAt = cloneTime(p.ArchivedAt)
	return p
}

func cloneTask(t model.Task) model.Task {
	t.DueDate = cloneTime(t.DueDate)
	if t.Assignee != nil {
		a := *t.Assignee
		t.Assignee = &a
	}
	return t
}

func cloneChangeLog(c model.ChangeLog) model.ChangeLog {
	c.TaskID = cloneInt(c.TaskID)
	c.ProjectID = cloneInt(c.ProjectID)
	return c
}

func cloneUser(u model.User) model.User {
	u.Roles = append([]string(nil), u.Roles...)
	return u
}

func cloneEvent(e outbox.Event) outbox.Event {
	if e.AggregateID != nil {
		id := *e.AggregateID
		e.AggregateID = &id
	}
	e.Payload = append([]byte(nil), e.Payload...)
	if e.NextRetryAt != nil {
		t := *e.NextRetryAt
		e.NextRetryAt = &t
	}
	return e
}
