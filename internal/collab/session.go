package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
)

type Config struct {
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	ConflictWindow time.Duration
	CursorRate     rate.Limit
	CursorBurst    int
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout:    30 * time.Second,
		SweepInterval:  5 * time.Second,
		ConflictWindow: time.Second,
		CursorRate:     20,
		CursorBurst:    5,
	}
}

// maxPresenceBacklog bounds queued best-effort events; ordered events are
// never dropped.
const maxPresenceBacklog = 256

type fieldKey struct {
	entityID string
	field    string
}

type write struct {
	userID string
	seq    uint64
	at     time.Time
}

// Session is the collaboration state of one map. Store change events are
// queued in commit order and published by Run.
type Session struct {
	store     *store.Store
	transport Transport
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	presence map[string]*Presence
	limiters map[string]*rate.Limiter
	queue    []Event
	backlog  int
	wake     chan struct{}

	// editMu keeps an edit and its last-writer record atomic.
	editMu sync.Mutex
	writes map[fieldKey]write

	unsubscribe func()
}

type Option func(*Session)

func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }
func WithLogger(logger *slog.Logger) Option { return func(s *Session) { s.logger = logger } }

func NewSession(st *store.Store, t Transport, cfg Config, opts ...Option) *Session {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.ConflictWindow <= 0 {
		cfg.ConflictWindow = def.ConflictWindow
	}
	if cfg.CursorRate <= 0 {
		cfg.CursorRate = def.CursorRate
	}
	if cfg.CursorBurst <= 0 {
		cfg.CursorBurst = def.CursorBurst
	}
	s := &Session{
		store:     st,
		transport: t,
		cfg:       cfg,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		presence:  make(map[string]*Presence),
		limiters:  make(map[string]*rate.Limiter),
		wake:      make(chan struct{}, 1),
		writes:    make(map[fieldKey]write),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubscribe = st.Subscribe(s.onChange)
	return s
}

func (s *Session) MapID() string { return s.store.ID() }

// Close stops relaying store events. Queued events are discarded.
func (s *Session) Close() {
	s.unsubscribe()
}

// onChange runs inside the store's delivery; it only queues.
func (s *Session) onChange(ev store.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("encoding change event", "map", ev.SiteMapID, "seq", ev.Seq, "error", err)
		return
	}
	s.mu.Lock()
	if ev.Type == store.EventDeleted && (ev.After == nil || !sitemap.Live(ev.After)) {
		for _, p := range s.presence {
			p.Selection = slices.DeleteFunc(p.Selection, func(id string) bool { return id == ev.EntityID })
		}
	}
	s.mu.Unlock()
	s.enqueue(Event{
		Type:      EventChange,
		UserID:    ev.UserID,
		SiteMapID: ev.SiteMapID,
		Data:      data,
		Timestamp: ev.Timestamp,
		Seq:       ev.Seq,
	})
}

func (s *Session) enqueue(ev Event) {
	s.mu.Lock()
	if !ev.Type.ordered() {
		if s.backlog >= maxPresenceBacklog {
			s.mu.Unlock()
			return
		}
		s.backlog++
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) emit(typ EventType, userID string, payload any) {
	ev := Event{Type: typ, UserID: userID, SiteMapID: s.store.ID(), Timestamp: s.now()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("encoding session event", "type", typ, "error", err)
			return
		}
		ev.Data = data
	}
	s.enqueue(ev)
}

// Flush publishes every queued event in order.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.queue
	s.queue, s.backlog = nil, 0
	s.mu.Unlock()
	for _, ev := range batch {
		if err := s.transport.Publish(ctx, s.store.ID(), ev); err != nil {
			return fmt.Errorf("publishing %s event: %w", ev.Type, err)
		}
	}
	return nil
}

// Run publishes queued events and expires idle presences until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		case <-s.wake:
		}
		if err := s.Flush(ctx); err != nil {
			s.logger.Warn("collab publish failed", "map", s.store.ID(), "error", err)
		}
	}
}

// Subscribe returns the session's event stream through its transport.
func (s *Session) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	return s.transport.Subscribe(ctx, s.store.ID())
}

// Join registers userID and returns the presence list including them.
func (s *Session) Join(userID, name string) []Presence {
	now := s.now()
	s.mu.Lock()
	p, ok := s.presence[userID]
	if !ok {
		p = &Presence{UserID: userID, JoinedAt: now, Selection: []string{}}
		s.presence[userID] = p
		s.limiters[userID] = rate.NewLimiter(s.cfg.CursorRate, s.cfg.CursorBurst)
	}
	p.Name = name
	p.LastSeen = now
	s.mu.Unlock()
	if !ok {
		s.emit(EventJoin, userID, JoinData{Name: name})
	}
	return s.Presences()
}

func (s *Session) Leave(userID string) {
	s.mu.Lock()
	_, ok := s.presence[userID]
	delete(s.presence, userID)
	delete(s.limiters, userID)
	s.mu.Unlock()
	if ok {
		s.emit(EventLeave, userID, nil)
	}
}

func (s *Session) Heartbeat(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presence[userID]
	if !ok {
		return ErrUnknownUser
	}
	p.LastSeen = s.now()
	return nil
}

// MoveCursor records a cursor position. It returns false when the update
// was throttled and not broadcast.
func (s *Session) MoveCursor(userID string, c CursorData) (bool, error) {
	s.mu.Lock()
	p, ok := s.presence[userID]
	if !ok {
		s.mu.Unlock()
		return false, ErrUnknownUser
	}
	p.LastSeen = s.now()
	pt := c.Point
	p.Cursor = &pt
	allowed := s.limiters[userID].AllowN(p.LastSeen, 1)
	s.mu.Unlock()
	if allowed {
		s.emit(EventCursor, userID, c)
	}
	return allowed, nil
}

// Select replaces a user's selection. Unknown or deleted ids are dropped.
func (s *Session) Select(userID string, ids []string) (bool, error) {
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		if e, err := s.store.Get(id); err == nil && sitemap.Live(e) && !slices.Contains(live, id) {
			live = append(live, id)
		}
	}
	s.mu.Lock()
	p, ok := s.presence[userID]
	if !ok {
		s.mu.Unlock()
		return false, ErrUnknownUser
	}
	p.LastSeen = s.now()
	p.Selection = live
	allowed := s.limiters[userID].AllowN(p.LastSeen, 1)
	s.mu.Unlock()
	if allowed {
		s.emit(EventSelection, userID, SelectionData{EntityIDs: live})
	}
	return allowed, nil
}

// Presences returns a copy of every presence sorted by user id.
func (s *Session) Presences() []Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Presence, 0, len(s.presence))
	for _, p := range s.presence {
		cp := *p
		cp.Selection = slices.Clone(p.Selection)
		if p.Cursor != nil {
			c := *p.Cursor
			cp.Cursor = &c
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Sweep removes presences idle longer than the timeout.
func (s *Session) Sweep() []string {
	cutoff := s.now().Add(-s.cfg.IdleTimeout)
	var gone []string
	s.mu.Lock()
	for id, p := range s.presence {
		if p.LastSeen.Before(cutoff) {
			gone = append(gone, id)
			delete(s.presence, id)
			delete(s.limiters, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(gone)
	for _, id := range gone {
		s.logger.Debug("presence expired", "map", s.store.ID(), "user", id)
		s.emit(EventLeave, id, nil)
	}
	return gone
}

// Authorize reports whether userID may edit entities of kind. The map owner
// may do anything.
func (s *Session) Authorize(userID string, kind sitemap.Kind) error {
	if userID == "" {
		return ErrForbidden
	}
	if s.store.Map().OwnerID == userID {
		return nil
	}
	c, ok := s.store.Collaborator(userID)
	if !ok || !sitemap.CanPerform(c, sitemap.RequiredAction(kind), s.now()) {
		return fmt.Errorf("%w: %s may not edit %s", ErrForbidden, userID, kind)
	}
	return nil
}

// ApplyEdit commits a field-level edit as userID. Writes are last-writer
// wins; when the edit overwrites another user's write that the editor had
// not seen, the overwritten user gets a conflict notice.
func (s *Session) ApplyEdit(ctx context.Context, userID string, e Edit) (store.Result, []ConflictNotice, error) {
	cur, err := s.store.Get(e.EntityID)
	if err != nil {
		return store.Result{}, nil, err
	}
	if err := s.Authorize(userID, cur.Kind()); err != nil {
		return store.Result{}, nil, err
	}

	s.editMu.Lock()
	defer s.editMu.Unlock()
	res, err := s.store.Update(ctx, e.EntityID, e.Fields, userID)
	if err != nil {
		return store.Result{}, nil, err
	}
	now := s.now()
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var notices []ConflictNotice
	for _, f := range fields {
		key := fieldKey{e.EntityID, f}
		prev, ok := s.writes[key]
		s.writes[key] = write{userID: userID, seq: res.Seq, at: now}
		if !ok || prev.userID == userID {
			continue
		}
		unseen := e.BaseSeq < prev.seq
		if e.BaseSeq == 0 {
			unseen = now.Sub(prev.at) <= s.cfg.ConflictWindow
		}
		if !unseen {
			continue
		}
		n := ConflictNotice{
			EntityID:      e.EntityID,
			Field:         f,
			OverwrittenBy: userID,
			LoserID:       prev.userID,
			LostSeq:       prev.seq,
			WinningSeq:    res.Seq,
		}
		notices = append(notices, n)
		s.emit(EventConflict, prev.userID, n)
	}
	return res, notices, nil
}

// Handle dispatches an event received from a client connection.
func (s *Session) Handle(ctx context.Context, userID string, ev Event) error {
	switch ev.Type {
	case EventJoin:
		var d JoinData
		if len(ev.Data) > 0 {
			if err := ev.decode(&d); err != nil {
				return err
			}
		}
		s.Join(userID, d.Name)
	case EventLeave:
		s.Leave(userID)
	case EventHeartbeat:
		return s.Heartbeat(userID)
	case EventCursor:
		var d CursorData
		if err := ev.decode(&d); err != nil {
			return err
		}
		_, err := s.MoveCursor(userID, d)
		return err
	case EventSelection:
		var d SelectionData
		if err := ev.decode(&d); err != nil {
			return err
		}
		_, err := s.Select(userID, d.EntityIDs)
		return err
	case EventEdit:
		var d Edit
		if err := ev.decode(&d); err != nil {
			return err
		}
		if err := s.Heartbeat(userID); err != nil {
			return err
		}
		_, _, err := s.ApplyEdit(ctx, userID, d)
		return err
	default:
		return fmt.Errorf("%w: unexpected type %q", ErrBadEvent, ev.Type)
	}
	return nil
}
