package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cellbox-dev/cellbox/internal/domain"
	"github.com/cellbox-dev/cellbox/internal/domain/cell"
	"github.com/cellbox-dev/cellbox/internal/domain/session"
	"github.com/cellbox-dev/cellbox/internal/port/agentbridge"
)

// mockStore is an in-memory database.Store shared by the service tests.
type mockStore struct {
	mu       sync.Mutex
	cells    map[string]*cell.Cell
	services map[string]*cell.ServiceRecord
	steps    []cell.Step
	sessions map[string]*session.Session

	statusUpdates  []string // "<serviceID>:<status>" in call order
	sessionUpdates []string // "<sessionID>:<status>"
}

func newMockStore() *mockStore {
	return &mockStore{
		cells:    make(map[string]*cell.Cell),
		services: make(map[string]*cell.ServiceRecord),
		sessions: make(map[string]*session.Session),
	}
}

func (m *mockStore) ListCells(context.Context) ([]cell.Cell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]cell.Cell, 0, len(m.cells))
	for _, c := range m.cells {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockStore) GetCell(_ context.Context, id string) (*cell.Cell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cells[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) CreateCell(_ context.Context, c *cell.Cell) (*cell.Cell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.cells[c.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockStore) UpdateCellStatus(_ context.Context, id string, status cell.Status, setupError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cells[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	c.LastSetupError = setupError
	return nil
}

func (m *mockStore) DeleteCell(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cells[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.cells, id)
	return nil
}

func (m *mockStore) ListServices(_ context.Context, cellID string) ([]cell.ServiceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []cell.ServiceRecord
	for _, s := range m.services {
		if s.CellID == cellID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockStore) UpsertService(_ context.Context, rec *cell.ServiceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	cp := *rec
	m.services[rec.ID] = &cp
	return nil
}

func (m *mockStore) UpdateServiceStatus(_ context.Context, id string, status cell.ServiceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusUpdates = append(m.statusUpdates, id+":"+string(status))
	s, ok := m.services[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = status
	return nil
}

func (m *mockStore) UpdateServiceRuntime(_ context.Context, id string, pid int, port uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.PID = pid
	s.Port = port
	return nil
}

func (m *mockStore) DeleteServices(_ context.Context, cellID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.services {
		if s.CellID == cellID {
			delete(m.services, id)
		}
	}
	return nil
}

func (m *mockStore) AppendStep(_ context.Context, step *cell.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	m.steps = append(m.steps, *step)
	return nil
}

func (m *mockStore) ListSteps(_ context.Context, cellID, runID string) ([]cell.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []cell.Step
	for _, s := range m.steps {
		if s.CellID == cellID && s.RunID == runID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) GetSessionByCell(_ context.Context, cellID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.CellID == cellID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) CreateSession(_ context.Context, s *session.Session) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.Status = session.StatusStarting
	m.sessions[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockStore) UpdateSessionStatus(_ context.Context, id string, status session.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionUpdates = append(m.sessionUpdates, id+":"+string(status))
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = status
	s.Error = errMsg
	return nil
}

func (m *mockStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// stepNames returns the recorded step names in append order.
func (m *mockStore) stepNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.steps))
	for _, s := range m.steps {
		names = append(names, s.Name)
	}
	return names
}

// mockBroadcaster records broadcast event types.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *mockBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// mockProbe is a scripted osproc.Probe.
type mockProbe struct {
	mu     sync.Mutex
	alive  map[int]bool
	onPort map[uint16][]int
	killed []int
}

func newMockProbe() *mockProbe {
	return &mockProbe{alive: make(map[int]bool), onPort: make(map[uint16][]int)}
}

func (p *mockProbe) Alive(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive[pid]
}

func (p *mockProbe) PIDsOnPort(port uint16) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onPort[port], nil
}

func (p *mockProbe) Kill(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = append(p.killed, pid)
	delete(p.alive, pid)
	for port, pids := range p.onPort {
		var left []int
		for _, q := range pids {
			if q != pid {
				left = append(left, q)
			}
		}
		p.onPort[port] = left
	}
	return nil
}

// fakeBridge is a scripted agentbridge.Bridge. Subscribe hands the
// handler back to the test so it can push events directly.
type fakeBridge struct {
	mu           sync.Mutex
	handlers     map[string]agentbridge.Handler
	prompts      []string // "<sessionID>:<text>"
	replies      []string // "<sessionID>:<permID>:<reply>"
	todos        []session.TodoItem
	todosErr     error
	promptErr    error
	subscribeErr error
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{handlers: make(map[string]agentbridge.Handler)}
}

func (b *fakeBridge) Subscribe(_ context.Context, sessionID string, handler agentbridge.Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	b.handlers[sessionID] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, sessionID)
	}, nil
}

func (b *fakeBridge) SendPrompt(_ context.Context, sessionID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.promptErr != nil {
		return b.promptErr
	}
	b.prompts = append(b.prompts, sessionID+":"+text)
	return nil
}

func (b *fakeBridge) ReplyPermission(_ context.Context, sessionID, permissionID string, reply session.PermissionReply) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, sessionID+":"+permissionID+":"+string(reply))
	return nil
}

func (b *fakeBridge) Todos(_ context.Context, _ string) ([]session.TodoItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.todosErr != nil {
		return nil, b.todosErr
	}
	return b.todos, nil
}

// push delivers one event to the subscribed handler, the way the
// stream would: synchronously, in call order.
func (b *fakeBridge) push(sessionID string, ev session.Event) {
	b.mu.Lock()
	h := b.handlers[sessionID]
	b.mu.Unlock()
	if h != nil {
		_ = h(context.Background(), ev)
	}
}

func (b *fakeBridge) promptCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prompts)
}
