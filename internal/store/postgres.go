package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"crmchat/server/internal/models"
	"crmchat/server/internal/normalize"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// NotifyChannel is the LISTEN channel fed by the conversation_messages trigger.
// Payloads are "<conversation id>/<collection>".
const NotifyChannel = "conversation_messages"

// Postgres keeps conversations and messages as JSONB documents and turns
// row changes into subscription snapshots via LISTEN/NOTIFY. Every snapshot
// read is numbered before its query starts, so a subscriber can drop a read
// that finished after a newer one.
type Postgres struct {
	pool  *pgxpool.Pool
	log   *zap.Logger
	reads atomic.Uint64

	mu   sync.RWMutex
	subs map[key]map[*pgSub]struct{}
}

type pgSub struct {
	p          *Postgres
	k          key
	limit      int
	onSnapshot SnapshotFunc
	onError    ErrorFunc

	mu      sync.Mutex
	stopped bool
	last    uint64
}

// NewPostgres wraps a pool. Call Run to start change delivery.
func NewPostgres(pool *pgxpool.Pool, log *zap.Logger) *Postgres {
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{
		pool: pool,
		log:  log,
		subs: make(map[key]map[*pgSub]struct{}),
	}
}

// Run listens for change notifications until ctx is done, reconnecting
// with backoff when the listening connection drops.
func (p *Postgres) Run(ctx context.Context) {
	backoff := time.Second
	for {
		err := p.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("Change listener stopped, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
		// Changes may have been missed while disconnected.
		p.refreshAll(ctx)
	}
}

func (p *Postgres) listen(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("store: acquire listener: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("store: listen: %w", err)
	}
	p.log.Info("Listening for message changes", zap.String("channel", NotifyChannel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("store: wait for notification: %w", err)
		}
		i := strings.LastIndex(n.Payload, "/")
		if i < 0 {
			continue
		}
		p.refresh(ctx, key{n.Payload[:i], models.Collection(n.Payload[i+1:])})
	}
}

func (p *Postgres) Subscribe(ctx context.Context, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) Subscription {
	s := &pgSub{p: p, k: key{q.ConversationID, q.Collection}, limit: q.Limit, onSnapshot: onSnapshot, onError: onError}
	if err := validate(q.Collection); err != nil {
		s.fail(err)
		return s
	}

	p.mu.Lock()
	if p.subs[s.k] == nil {
		p.subs[s.k] = make(map[*pgSub]struct{})
	}
	p.subs[s.k][s] = struct{}{}
	p.mu.Unlock()

	go func() {
		ver := p.reads.Add(1)
		recs, err := p.Recent(ctx, q)
		if err != nil {
			s.fail(err)
			return
		}
		s.deliver(ver, recs)
	}()
	return s
}

func (p *Postgres) refresh(ctx context.Context, k key) {
	p.mu.RLock()
	subs := make([]*pgSub, 0, len(p.subs[k]))
	for s := range p.subs[k] {
		subs = append(subs, s)
	}
	p.mu.RUnlock()

	type read struct {
		ver  uint64
		recs []models.Record
	}
	byLimit := make(map[int]read)
	for _, s := range subs {
		r, ok := byLimit[s.limit]
		if !ok {
			r.ver = p.reads.Add(1)
			var err error
			r.recs, err = p.Recent(ctx, Query{ConversationID: k.conversation, Collection: k.collection, Limit: s.limit})
			if err != nil {
				s.fail(err)
				continue
			}
			byLimit[s.limit] = r
		}
		s.deliver(r.ver, r.recs)
	}
}

func (p *Postgres) refreshAll(ctx context.Context) {
	p.mu.RLock()
	keys := make([]key, 0, len(p.subs))
	for k := range p.subs {
		keys = append(keys, k)
	}
	p.mu.RUnlock()
	for _, k := range keys {
		p.refresh(ctx, k)
	}
}

func (p *Postgres) Recent(ctx context.Context, q Query) ([]models.Record, error) {
	if err := validate(q.Collection); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, data FROM conversation_messages
		WHERE conversation_id = $1 AND collection = $2
		ORDER BY ts DESC, seq DESC
		LIMIT $3
	`, q.ConversationID, string(q.Collection), limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent %s/%s: %w", q.ConversationID, q.Collection, err)
	}
	defer rows.Close()

	recs := make([]models.Record, 0, limit)
	for rows.Next() {
		rec := models.Record{ConversationID: q.ConversationID, Collection: q.Collection}
		if err := rows.Scan(&rec.ID, &rec.Data); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent %s/%s: %w", q.ConversationID, q.Collection, err)
	}
	return recs, nil
}

func (p *Postgres) Message(ctx context.Context, conversationID string, coll models.Collection, id string) (models.Record, error) {
	if err := validate(coll); err != nil {
		return models.Record{}, err
	}
	rec := models.Record{ID: id, ConversationID: conversationID, Collection: coll}
	err := p.pool.QueryRow(ctx, `
		SELECT data FROM conversation_messages
		WHERE conversation_id = $1 AND collection = $2 AND id = $3
	`, conversationID, string(coll), id).Scan(&rec.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Record{}, ErrNotFound
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("store: message %s: %w", id, err)
	}
	return rec, nil
}

func (p *Postgres) Append(ctx context.Context, rec models.Record) error {
	if err := validate(rec.Collection); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("store: append: record id is required")
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO conversation_messages (conversation_id, collection, id, data, ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id, collection, id)
		DO UPDATE SET data = EXCLUDED.data, ts = EXCLUDED.ts
	`, rec.ConversationID, string(rec.Collection), rec.ID, rec.Data, normalize.Timestamp(rec))
	if err != nil {
		return fmt.Errorf("store: append %s: %w", rec.ID, err)
	}
	return nil
}

func (p *Postgres) UpdateText(ctx context.Context, conversationID string, coll models.Collection, id, text string) error {
	if err := validate(coll); err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE conversation_messages
		SET data = jsonb_set(data, ARRAY[$4::text], to_jsonb($5::text))
			|| jsonb_build_object('editedAt', $6::bigint)
		WHERE conversation_id = $1 AND collection = $2 AND id = $3
	`, conversationID, string(coll), id, normalize.TextField(coll), text, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: update %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, conversationID string, coll models.Collection, id string) error {
	if err := validate(coll); err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM conversation_messages
		WHERE conversation_id = $1 AND collection = $2 AND id = $3
	`, conversationID, string(coll), id)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	var data map[string]any
	err := p.pool.QueryRow(ctx, `SELECT data FROM conversations WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Conversation{}, ErrNotFound
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("store: conversation %s: %w", id, err)
	}
	return normalize.Conversation(id, data), nil
}

func (p *Postgres) Conversations(ctx context.Context, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, data FROM conversations
		ORDER BY numeric_or_zero(data->'lastMessageAt') DESC, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: conversations: %w", err)
	}
	defer rows.Close()

	out := []models.Conversation{}
	for rows.Next() {
		var (
			id   string
			data map[string]any
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("store: conversations: scan: %w", err)
		}
		out = append(out, normalize.Conversation(id, data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: conversations: %w", err)
	}
	return out, nil
}

// CreateConversation inserts conv unless the id exists; an existing
// document is left untouched.
func (p *Postgres) CreateConversation(ctx context.Context, conv models.Conversation) (bool, error) {
	if conv.ID == "" {
		return false, fmt.Errorf("store: create conversation: id is required")
	}
	if conv.Labels == nil {
		conv.Labels = []string{}
	}
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO conversations (id, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO NOTHING
	`, conv.ID, conv)
	if err != nil {
		return false, fmt.Errorf("store: create conversation %s: %w", conv.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) PutConversation(ctx context.Context, conv models.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("store: put conversation: id is required")
	}
	if conv.Labels == nil {
		conv.Labels = []string{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO conversations (id, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET data = conversations.data || EXCLUDED.data, updated_at = now()
	`, conv.ID, conv)
	if err != nil {
		return fmt.Errorf("store: put conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (p *Postgres) TouchInbound(ctx context.Context, conversationID string, at int64) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE conversations
		SET data = data
			|| jsonb_build_object('lastInboundAt', GREATEST(numeric_or_zero(data->'lastInboundAt'), $2::bigint))
			|| jsonb_build_object('lastMessageAt', GREATEST(numeric_or_zero(data->'lastMessageAt'), $2::bigint)),
			updated_at = now()
		WHERE id = $1
	`, conversationID, at)
	if err != nil {
		return fmt.Errorf("store: touch inbound %s: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) TouchMessage(ctx context.Context, conversationID string, at int64) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE conversations
		SET data = data
			|| jsonb_build_object('lastMessageAt', GREATEST(numeric_or_zero(data->'lastMessageAt'), $2::bigint)),
			updated_at = now()
		WHERE id = $1
	`, conversationID, at)
	if err != nil {
		return fmt.Errorf("store: touch message %s: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgSub) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.p.mu.Lock()
	delete(s.p.subs[s.k], s)
	if len(s.p.subs[s.k]) == 0 {
		delete(s.p.subs, s.k)
	}
	s.p.mu.Unlock()
}

func (s *pgSub) deliver(ver uint64, recs []models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.onSnapshot == nil || ver <= s.last {
		return
	}
	s.last = ver
	s.onSnapshot(recs)
}

func (s *pgSub) fail(err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.onError != nil {
		s.onError(err)
	}
	s.mu.Unlock()

	s.p.mu.Lock()
	delete(s.p.subs[s.k], s)
	s.p.mu.Unlock()
}
