package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crmchat/server/internal/models"
	"crmchat/server/internal/normalize"
)

type key struct {
	conversation string
	collection   models.Collection
}

// Memory is an in-process Store. Snapshots are delivered synchronously on
// the goroutine that caused the change, outside the store's lock. Each
// snapshot carries the store version it was built at, and a subscriber
// never receives one older than the last it saw.
type Memory struct {
	mu       sync.Mutex
	version  uint64
	convs    map[string]models.Conversation
	records  map[key][]models.Record
	subs     map[key]map[*memSub]struct{}
	failures map[key]error
}

type memSub struct {
	m          *Memory
	k          key
	limit      int
	onSnapshot SnapshotFunc
	onError    ErrorFunc

	mu        sync.Mutex
	stopped   bool
	delivered bool
	last      uint64
}

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		convs:    make(map[string]models.Conversation),
		records:  make(map[key][]models.Record),
		subs:     make(map[key]map[*memSub]struct{}),
		failures: make(map[key]error),
	}
}

func (m *Memory) Subscribe(ctx context.Context, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) Subscription {
	s := &memSub{m: m, k: key{q.ConversationID, q.Collection}, limit: q.Limit, onSnapshot: onSnapshot, onError: onError}
	if err := validate(q.Collection); err != nil {
		s.fail(err)
		return s
	}

	m.mu.Lock()
	if err, ok := m.failures[s.k]; ok {
		m.mu.Unlock()
		s.fail(err)
		return s
	}
	if m.subs[s.k] == nil {
		m.subs[s.k] = make(map[*memSub]struct{})
	}
	m.subs[s.k][s] = struct{}{}
	snap, ver := m.recentLocked(s.k, s.limit), m.version
	m.mu.Unlock()

	s.deliver(ver, snap)
	return s
}

func (m *Memory) Recent(ctx context.Context, q Query) ([]models.Record, error) {
	if err := validate(q.Collection); err != nil {
		return nil, err
	}
	k := key{q.ConversationID, q.Collection}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failures[k]; ok {
		return nil, err
	}
	return m.recentLocked(k, q.Limit), nil
}

// recentLocked returns up to limit records newest first; among equal
// timestamps the later insertion comes first.
func (m *Memory) recentLocked(k key, limit int) []models.Record {
	all := m.records[k]
	out := make([]models.Record, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, clone(all[i]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return normalize.Timestamp(out[i]) > normalize.Timestamp(out[j])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) Message(ctx context.Context, conversationID string, coll models.Collection, id string) (models.Record, error) {
	if err := validate(coll); err != nil {
		return models.Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records[key{conversationID, coll}] {
		if rec.ID == id {
			return clone(rec), nil
		}
	}
	return models.Record{}, ErrNotFound
}

func (m *Memory) Append(ctx context.Context, rec models.Record) error {
	if err := validate(rec.Collection); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("store: append: record id is required")
	}
	k := key{rec.ConversationID, rec.Collection}
	m.mu.Lock()
	rec = clone(rec)
	replaced := false
	for i, existing := range m.records[k] {
		if existing.ID == rec.ID {
			m.records[k][i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		m.records[k] = append(m.records[k], rec)
	}
	m.version++
	m.mu.Unlock()

	m.notify(k)
	return nil
}

func (m *Memory) UpdateText(ctx context.Context, conversationID string, coll models.Collection, id, text string) error {
	if err := validate(coll); err != nil {
		return err
	}
	k := key{conversationID, coll}
	m.mu.Lock()
	found := false
	for i, rec := range m.records[k] {
		if rec.ID == id {
			rec = clone(rec)
			rec.Data[normalize.TextField(coll)] = text
			rec.Data["editedAt"] = time.Now().UnixMilli()
			m.records[k][i] = rec
			m.version++
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	m.notify(k)
	return nil
}

func (m *Memory) Delete(ctx context.Context, conversationID string, coll models.Collection, id string) error {
	if err := validate(coll); err != nil {
		return err
	}
	k := key{conversationID, coll}
	m.mu.Lock()
	found := false
	recs := m.records[k]
	for i, rec := range recs {
		if rec.ID == id {
			m.records[k] = append(recs[:i:i], recs[i+1:]...)
			m.version++
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	m.notify(k)
	return nil
}

func (m *Memory) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return models.Conversation{}, ErrNotFound
	}
	c.Labels = append([]string{}, c.Labels...)
	return c, nil
}

func (m *Memory) Conversations(ctx context.Context, limit int) ([]models.Conversation, error) {
	m.mu.Lock()
	out := make([]models.Conversation, 0, len(m.convs))
	for _, c := range m.convs {
		c.Labels = append([]string{}, c.Labels...)
		out = append(out, c)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PutConversation(ctx context.Context, conv models.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("store: put conversation: id is required")
	}
	if conv.Labels == nil {
		conv.Labels = []string{}
	}
	m.mu.Lock()
	m.convs[conv.ID] = conv
	m.mu.Unlock()
	return nil
}

// CreateConversation stores conv unless the id already exists.
func (m *Memory) CreateConversation(ctx context.Context, conv models.Conversation) (bool, error) {
	if conv.ID == "" {
		return false, fmt.Errorf("store: create conversation: id is required")
	}
	if conv.Labels == nil {
		conv.Labels = []string{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[conv.ID]; ok {
		return false, nil
	}
	m.convs[conv.ID] = conv
	return true, nil
}

func (m *Memory) TouchInbound(ctx context.Context, conversationID string, at int64) error {
	return m.touch(conversationID, at, true)
}

func (m *Memory) TouchMessage(ctx context.Context, conversationID string, at int64) error {
	return m.touch(conversationID, at, false)
}

func (m *Memory) touch(conversationID string, at int64, inbound bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	if inbound && at > c.LastInboundAt {
		c.LastInboundAt = at
	}
	if at > c.LastMessageAt {
		c.LastMessageAt = at
	}
	m.convs[conversationID] = c
	return nil
}

// Fail makes every current and future subscription to the sub-collection
// fail with err, as a dropped or denied live query would.
func (m *Memory) Fail(conversationID string, coll models.Collection, err error) {
	k := key{conversationID, coll}
	m.mu.Lock()
	m.failures[k] = err
	subs := m.subs[k]
	delete(m.subs, k)
	m.mu.Unlock()

	for s := range subs {
		s.fail(err)
	}
}

// Recover clears a failure injected with Fail.
func (m *Memory) Recover(conversationID string, coll models.Collection) {
	m.mu.Lock()
	delete(m.failures, key{conversationID, coll})
	m.mu.Unlock()
}

func (m *Memory) notify(k key) {
	type delivery struct {
		s    *memSub
		snap []models.Record
	}
	m.mu.Lock()
	ver := m.version
	var out []delivery
	for s := range m.subs[k] {
		out = append(out, delivery{s, m.recentLocked(k, s.limit)})
	}
	m.mu.Unlock()

	for _, d := range out {
		d.s.deliver(ver, d.snap)
	}
}

func (s *memSub) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.m.mu.Lock()
	delete(s.m.subs[s.k], s)
	s.m.mu.Unlock()
}

// deliver drops snapshots built before the last one delivered; equal
// versions hold identical content.
func (s *memSub) deliver(ver uint64, snap []models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.onSnapshot == nil || (s.delivered && ver <= s.last) {
		return
	}
	s.delivered, s.last = true, ver
	s.onSnapshot(snap)
}

func (s *memSub) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.onError != nil {
		s.onError(err)
	}
}

func clone(rec models.Record) models.Record {
	data := make(map[string]any, len(rec.Data))
	for k, v := range rec.Data {
		data[k] = v
	}
	rec.Data = data
	return rec
}
