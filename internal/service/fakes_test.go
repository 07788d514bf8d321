package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"mokametrics-ingest/internal/model"
	"mokametrics-ingest/internal/tsdb"
)

// memStore is an in-memory relational store. Changes become visible only on
// SaveChanges.
type memStore struct {
	mu       sync.Mutex
	lots     map[string]model.Lot
	orders   map[int64]model.Order
	machines map[string]model.Machine

	failSave error
	opened   int
	released int
	saves    int
}

func newMemStore() *memStore {
	return &memStore{
		lots:     make(map[string]model.Lot),
		orders:   make(map[int64]model.Order),
		machines: make(map[string]model.Machine),
	}
}

func (s *memStore) open(context.Context) (UnitOfWork, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	return &memUoW{store: s}, func() {
		s.mu.Lock()
		s.released++
		s.mu.Unlock()
	}, nil
}

func (s *memStore) lot(code string) model.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lots[code]
}

func (s *memStore) order(id int64) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) machine(code string) model.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machines[code]
}

type memUoW struct {
	store    *memStore
	lots     []*model.Lot
	orders   []*model.Order
	machines []*model.Machine
}

func (u *memUoW) GetLotByCode(_ context.Context, code string) (*model.Lot, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	l, ok := u.store.lots[code]
	if !ok {
		return nil, &model.NotFoundError{Entity: "lot", Key: code}
	}
	return &l, nil
}

func (u *memUoW) GetOrderWithLots(_ context.Context, id int64) (*model.Order, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	o, ok := u.store.orders[id]
	if !ok {
		return nil, &model.NotFoundError{Entity: "order", Key: "order"}
	}
	o.Lots = nil
	for _, l := range u.store.lots {
		if l.OrderID == id {
			cp := l
			o.Lots = append(o.Lots, &cp)
		}
	}
	sort.Slice(o.Lots, func(i, j int) bool { return o.Lots[i].ID < o.Lots[j].ID })
	return &o, nil
}

func (u *memUoW) GetMachineByCode(_ context.Context, code string) (*model.Machine, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	m, ok := u.store.machines[code]
	if !ok {
		return nil, &model.NotFoundError{Entity: "machine", Key: code}
	}
	return &m, nil
}

func (u *memUoW) UpdateLot(l *model.Lot)         { u.lots = append(u.lots, l) }
func (u *memUoW) UpdateOrder(o *model.Order)     { u.orders = append(u.orders, o) }
func (u *memUoW) UpdateMachine(m *model.Machine) { u.machines = append(u.machines, m) }

func (u *memUoW) SaveChanges(context.Context) (int, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	if u.store.failSave != nil {
		return 0, u.store.failSave
	}
	for _, l := range u.lots {
		u.store.lots[l.LotCode] = *l
	}
	for _, o := range u.orders {
		cp := *o
		cp.Lots = nil
		u.store.orders[o.ID] = cp
	}
	for _, m := range u.machines {
		u.store.machines[m.Code] = *m
	}
	u.store.saves++
	return len(u.lots) + len(u.orders) + len(u.machines), nil
}

type fakePoints struct {
	mu      sync.Mutex
	batches [][]tsdb.Point
	err     error
}

func (f *fakePoints) WritePoints(_ context.Context, points []tsdb.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, points)
	return nil
}

type notification struct {
	event   string
	payload map[string]any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (f *fakeNotifier) Publish(event string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, notification{event, payload})
}

func (f *fakeNotifier) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.event)
	}
	return out
}

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	err      error
	attempts int
	written  []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.failures != 0 {
		if w.failures > 0 {
			w.failures--
		}
		if w.err != nil {
			return w.err
		}
		return errors.New("broker unavailable")
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	fetchErrs []error
	committed []kafka.Message
	commitErr error
	tailErr   error
	closed    bool
	onEmpty   func()
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	if r.tailErr != nil {
		err := r.tailErr
		r.tailErr = nil
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	onEmpty := r.onEmpty
	r.mu.Unlock()
	if onEmpty != nil {
		onEmpty()
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, m := range r.committed {
		out = append(out, m.Offset)
	}
	return out
}

// processorFunc adapts a function to Processor.
type processorFunc func(ctx context.Context, topic string, key, value []byte) error

func (f processorFunc) Process(ctx context.Context, topic string, key, value []byte) error {
	return f(ctx, topic, key, value)
}

type fakeDeadLetter struct {
	mu   sync.Mutex
	err  error
	sent []kafka.Message
}

func (f *fakeDeadLetter) SendDeadLetter(_ context.Context, _ string, m kafka.Message, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}
