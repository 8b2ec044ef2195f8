package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/events"
	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/alphagov/notifications-api-sub002/internal/queue"
	"github.com/alphagov/notifications-api-sub002/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

type fakeMessageStore struct {
	mu        sync.Mutex
	messages  map[uuid.UUID]models.BroadcastMessage
	updateErr error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: map[uuid.UUID]models.BroadcastMessage{}}
}

func (f *fakeMessageStore) put(m models.BroadcastMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[m.ID] = m
}

func (f *fakeMessageStore) get(id uuid.UUID) models.BroadcastMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id]
}

func (f *fakeMessageStore) Create(_ context.Context, m *models.BroadcastMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	f.messages[m.ID] = *m
	return nil
}

func (f *fakeMessageStore) GetByID(_ context.Context, id uuid.UUID) (*models.BroadcastMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &m, nil
}

func (f *fakeMessageStore) GetByReference(_ context.Context, serviceID uuid.UUID, reference string) (*models.BroadcastMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ServiceID == serviceID && m.Reference != nil && *m.Reference == reference {
			return &m, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeMessageStore) ListByService(_ context.Context, serviceID uuid.UUID, _, _ int) ([]models.BroadcastMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.BroadcastMessage
	for _, m := range f.messages {
		if m.ServiceID == serviceID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageStore) ListExpired(_ context.Context, now time.Time) ([]models.BroadcastMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.BroadcastMessage
	for _, m := range f.messages {
		if m.Status == models.BroadcastStatusBroadcasting && m.FinishesAt != nil && m.FinishesAt.Before(now) {
			out = append(out, m)
		}
	}
	return out, nil
}

// UpdateStatus mirrors the repository's check-and-set.
func (f *fakeMessageStore) UpdateStatus(_ context.Context, m *models.BroadcastMessage, from models.BroadcastStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	cur, ok := f.messages[m.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if cur.Status != from {
		return fmt.Errorf("%w: status is %s", repositories.ErrStatusConflict, cur.Status)
	}
	m.UpdatedAt = time.Now()
	f.messages[m.ID] = *m
	return nil
}

type fakeEventStore struct {
	mu        sync.Mutex
	events    []models.BroadcastEvent
	base      time.Time
	createErr error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{base: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeEventStore) Create(_ context.Context, e *models.BroadcastEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	e.ID = uuid.New()
	e.SentAt = f.base.Add(time.Duration(len(f.events)) * time.Second)
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeEventStore) GetByID(_ context.Context, id uuid.UUID) (*models.BroadcastEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeEventStore) ListByMessage(_ context.Context, messageID uuid.UUID) ([]models.BroadcastEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.BroadcastEvent
	for _, e := range f.events {
		if e.BroadcastMessageID == messageID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func (f *fakeEventStore) ListEarlier(ctx context.Context, e *models.BroadcastEvent) ([]models.BroadcastEvent, error) {
	all, _ := f.ListByMessage(ctx, e.BroadcastMessageID)
	var out []models.BroadcastEvent
	for _, prior := range all {
		if prior.SentAt.Before(e.SentAt) {
			out = append(out, prior)
		}
	}
	return out, nil
}

func (f *fakeEventStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeServiceStore struct {
	services map[uuid.UUID]*models.Service
	members  map[[2]uuid.UUID]bool
}

func (f *fakeServiceStore) GetByID(_ context.Context, id uuid.UUID) (*models.Service, error) {
	svc, ok := f.services[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *svc
	return &cp, nil
}

func (f *fakeServiceStore) IsMember(_ context.Context, serviceID, userID uuid.UUID) (bool, error) {
	return f.members[[2]uuid.UUID{serviceID, userID}], nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (f *fakeAudit) Log(_ context.Context, entry models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) GetByEntity(_ context.Context, entityType string, entityID uuid.UUID, _, _ int) ([]models.AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AuditLog
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []events.Event
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, event)
	return nil
}

// fakeQueue is an in-memory queue.Queue. With block set, Enqueue waits for
// its context to expire.
type fakeQueue struct {
	mu         sync.Mutex
	pending    map[string][][]byte
	inflight   map[string][][]byte
	delayed    map[string][]delayedItem
	enqueueErr error
	block      bool
	enqueued   int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		pending:  map[string][][]byte{},
		inflight: map[string][][]byte{},
		delayed:  map[string][]delayedItem{},
	}
}

type delayedItem struct {
	payload []byte
	at      time.Time
}

func (f *fakeQueue) EnqueueAt(_ context.Context, queueName string, payload []byte, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.delayed[queueName] = append(f.delayed[queueName], delayedItem{payload: payload, at: at})
	return nil
}

func (f *fakeQueue) PromoteDue(_ context.Context, queueName string, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var waiting []delayedItem
	n := 0
	for _, item := range f.delayed[queueName] {
		if item.at.After(now) {
			waiting = append(waiting, item)
			continue
		}
		f.pending[queueName] = append(f.pending[queueName], item.payload)
		n++
	}
	f.delayed[queueName] = waiting
	return n, nil
}

func (f *fakeQueue) delayedItems(queueName string) []delayedItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delayedItem(nil), f.delayed[queueName]...)
}

func (f *fakeQueue) Enqueue(ctx context.Context, queueName string, payload []byte) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued++
	f.pending[queueName] = append(f.pending[queueName], payload)
	return nil
}

func (f *fakeQueue) Reserve(_ context.Context, queueName string, _ time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.pending[queueName]
	if len(items) == 0 {
		return nil, queue.ErrEmpty
	}
	item := items[0]
	f.pending[queueName] = items[1:]
	f.inflight[queueName] = append(f.inflight[queueName], item)
	return item, nil
}

func (f *fakeQueue) Ack(_ context.Context, queueName string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.inflight[queueName]
	for i, item := range items {
		if string(item) == string(payload) {
			f.inflight[queueName] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeQueue) RecoverInflight(_ context.Context, queueName string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.inflight[queueName])
	f.pending[queueName] = append(f.inflight[queueName], f.pending[queueName]...)
	f.inflight[queueName] = nil
	return n, nil
}

func (f *fakeQueue) pendingCount(queueName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending[queueName])
}

func (f *fakeQueue) drained(queueName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending[queueName]) == 0 && len(f.inflight[queueName]) == 0 && len(f.delayed[queueName]) == 0
}

type fakeTicketer struct {
	mu      sync.Mutex
	tickets []Ticket
	err     error
}

func (f *fakeTicketer) SendTicket(_ context.Context, ticket Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = append(f.tickets, ticket)
	return f.err
}

type fakeProviderStore struct {
	mu   sync.Mutex
	sent map[uuid.UUID]string
}

func newFakeProviderStore() *fakeProviderStore {
	return &fakeProviderStore{sent: map[uuid.UUID]string{}}
}

func (f *fakeProviderStore) Exists(_ context.Context, eventID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sent[eventID]
	return ok, nil
}

func (f *fakeProviderStore) MarkSent(_ context.Context, eventID uuid.UUID, provider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sent[eventID]; !ok {
		f.sent[eventID] = provider
	}
	return nil
}

// fakeCBC fails every call while err is set, and otherwise the first
// failures calls.
type fakeCBC struct {
	mu       sync.Mutex
	sent     []uuid.UUID
	docs     [][]byte
	err      error
	failures int
	calls    int
}

func (f *fakeCBC) SendCAP(_ context.Context, ev *models.BroadcastEvent, document []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("cbc proxy unavailable")
	}
	f.sent = append(f.sent, ev.ID)
	f.docs = append(f.docs, document)
	return nil
}

func (f *fakeCBC) Provider() string { return "fake" }

const testQueue = "broadcast-tasks"

// fixture wires a BroadcastService over in-memory stores.
type fixture struct {
	svc       *BroadcastService
	messages  *fakeMessageStore
	events    *fakeEventStore
	services  *fakeServiceStore
	audit     *fakeAudit
	publisher *fakePublisher
	queue     *fakeQueue
	tickets   *fakeTicketer
	logs      *observer.ObservedLogs

	serviceID uuid.UUID
	creator   uuid.UUID
	approver  uuid.UUID
	now       time.Time
}

func newFixture(t *testing.T, live bool) *fixture {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)

	f := &fixture{
		messages:  newFakeMessageStore(),
		events:    newFakeEventStore(),
		audit:     &fakeAudit{},
		publisher: &fakePublisher{},
		queue:     newFakeQueue(),
		tickets:   &fakeTicketer{},
		logs:      logs,
		serviceID: uuid.New(),
		creator:   uuid.New(),
		approver:  uuid.New(),
		now:       time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	f.services = &fakeServiceStore{
		services: map[uuid.UUID]*models.Service{
			f.serviceID: {ID: f.serviceID, Name: "Environment Agency", Active: true},
		},
		members: map[[2]uuid.UUID]bool{
			{f.serviceID, f.creator}:  true,
			{f.serviceID, f.approver}: true,
		},
	}

	dispatcher := NewTransmissionDispatcher(f.queue, testQueue, 50*time.Millisecond, log)
	chain := NewEventChainBuilder(f.events, dispatcher, "notifications.service.gov.uk", log)
	alerter := NewOperationalAlerter(f.tickets, log)
	f.svc = NewBroadcastService(f.messages, f.events, f.services, f.audit, f.publisher, chain, alerter, live, log)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) setRestricted(restricted bool) {
	f.services.services[f.serviceID].Restricted = restricted
}

func londonAreas() models.Areas {
	return models.NewAreas([]string{"london"}, []string{"London"}, []models.Polygon{{{51.3, 0.7}}})
}

// seed stores a message created by f.creator and returns a copy of it.
func (f *fixture) seed(status models.BroadcastStatus, areas models.Areas) *models.BroadcastMessage {
	creator := f.creator
	ref := "flood-warning-1"
	finishes := f.now.Add(4 * time.Hour)
	m := models.BroadcastMessage{
		ID:         uuid.New(),
		ServiceID:  f.serviceID,
		Content:    "Severe flood warning. Move to higher ground.",
		Reference:  &ref,
		Areas:      areas,
		Status:     status,
		FinishesAt: &finishes,
		CreatedBy:  &creator,
	}
	f.messages.put(m)
	return &m
}

func (f *fixture) errorLogs() int {
	return f.logs.FilterLevelExact(zap.ErrorLevel).Len()
}

func testLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}
