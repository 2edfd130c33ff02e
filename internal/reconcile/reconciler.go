package reconcile

import (
	"context"
	"fmt"
	"sync"

	"crmchat/server/internal/metrics"
	"crmchat/server/internal/models"
	"crmchat/server/internal/normalize"
	"crmchat/server/internal/store"

	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	PageStep        = 50
)

// View is the merged message list handed to consumers
type View struct {
	ConversationID string           `json:"conversationId"`
	Messages       []models.Message `json:"messages"`
	// HasMore is true only when every source returned a full page. It can
	// under-report when one source is near exhaustion and over-report in
	// mixed-volume conversations.
	HasMore bool `json:"hasMore"`
	Limit   int  `json:"limit"`
}

// Options configures a Reconciler
type Options struct {
	Self           models.Identity
	PageSize       int
	ReadAuthorized bool
	// OnChange receives every recomputed view. It runs with the
	// reconciler locked and must not call back into it.
	OnChange func(View)
	Log      *zap.Logger
}

type source struct {
	msgs []models.Message // chronological, nil after a failure
	full bool
}

// Reconciler keeps one subscription per message collection for a
// conversation and republishes the merged view on every update.
type Reconciler struct {
	store          store.Store
	conversationID string
	self           models.Identity
	onChange       func(View)
	log            *zap.Logger

	mu         sync.Mutex
	limit      int
	authorized bool
	closed     bool
	gen        uint64
	sources    map[models.Collection]*source
	subs       []store.Subscription
	view       View
}

// New creates a reconciler. Nothing is subscribed until Start.
func New(st store.Store, conversationID string, opts Options) *Reconciler {
	limit := opts.PageSize
	if limit <= 0 {
		limit = DefaultPageSize
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		store:          st,
		conversationID: conversationID,
		self:           opts.Self,
		onChange:       opts.OnChange,
		log:            log,
		limit:          limit,
		authorized:     opts.ReadAuthorized,
		sources:        make(map[models.Collection]*source),
		view:           View{ConversationID: conversationID, Messages: []models.Message{}, Limit: limit},
	}
}

// Start opens both subscriptions if reading is authorized.
func (r *Reconciler) Start(ctx context.Context) {
	r.subscribe(ctx)
}

// LoadMore grows the page by PageStep and re-subscribes with the larger
// limit. The current view stays in place until the new snapshots arrive.
func (r *Reconciler) LoadMore(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.limit += PageStep
	r.mu.Unlock()
	r.subscribe(ctx)
}

// SetReadAuthorized opens or tears down the subscriptions. Revoking clears
// the view without publishing.
func (r *Reconciler) SetReadAuthorized(ctx context.Context, ok bool) {
	r.mu.Lock()
	if r.closed || r.authorized == ok {
		r.mu.Unlock()
		return
	}
	r.authorized = ok
	if ok {
		r.mu.Unlock()
		r.subscribe(ctx)
		return
	}
	subs := r.teardownLocked()
	r.sources = make(map[models.Collection]*source)
	r.view = View{ConversationID: r.conversationID, Messages: []models.Message{}, Limit: r.limit}
	r.mu.Unlock()
	stopAll(subs)
}

// View returns the latest merged view.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

// Close stops both subscriptions. Once it returns no further OnChange
// calls happen.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := r.teardownLocked()
	r.mu.Unlock()
	stopAll(subs)
}

func (r *Reconciler) teardownLocked() []store.Subscription {
	r.gen++
	subs := r.subs
	r.subs = nil
	return subs
}

func (r *Reconciler) subscribe(ctx context.Context) {
	r.mu.Lock()
	if r.closed || !r.authorized {
		r.mu.Unlock()
		return
	}
	old := r.teardownLocked()
	gen, limit := r.gen, r.limit
	r.mu.Unlock()
	stopAll(old)

	subs := make([]store.Subscription, 0, len(models.Collections))
	for _, coll := range models.Collections {
		coll := coll
		q := store.Query{ConversationID: r.conversationID, Collection: coll, Limit: limit}
		subs = append(subs, r.store.Subscribe(ctx, q,
			func(recs []models.Record) { r.apply(gen, coll, limit, recs) },
			func(err error) { r.fail(gen, coll, err) },
		))
	}

	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		stopAll(subs)
		return
	}
	r.subs = subs
	r.mu.Unlock()
}

func (r *Reconciler) apply(gen uint64, coll models.Collection, limit int, recs []models.Record) {
	msgs := chronological(normalize.Messages(recs, r.self))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.gen {
		return
	}
	r.sources[coll] = &source{msgs: msgs, full: len(recs) >= limit}
	r.publishLocked()
}

func (r *Reconciler) fail(gen uint64, coll models.Collection, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.gen {
		return
	}
	r.log.Warn("Message subscription failed",
		zap.String("conversation", r.conversationID),
		zap.String("collection", string(coll)),
		zap.Error(err))
	metrics.SubscriptionErrors.WithLabelValues(string(coll)).Inc()

	r.sources[coll] = &source{}
	r.publishLocked()
}

// publishLocked recomputes the view. Sources always merge in collection
// order, so equal timestamps keep their place across updates and msgs wins
// a duplicate id over messages.
func (r *Reconciler) publishLocked() {
	lists := make([][]models.Message, 0, len(models.Collections))
	hasMore := true
	for _, coll := range models.Collections {
		s, ok := r.sources[coll]
		if !ok {
			hasMore = false
			continue
		}
		lists = append(lists, s.msgs)
		if !s.full {
			hasMore = false
		}
	}

	r.view = View{
		ConversationID: r.conversationID,
		Messages:       Merge(lists...),
		HasMore:        hasMore,
		Limit:          r.limit,
	}
	if r.onChange != nil {
		r.onChange(r.copyLocked())
	}
}

func (r *Reconciler) copyLocked() View {
	v := r.view
	v.Messages = append(make([]models.Message, 0, len(r.view.Messages)), r.view.Messages...)
	return v
}

func stopAll(subs []store.Subscription) {
	for _, s := range subs {
		s.Stop()
	}
}

// Snapshot reads both collections once and merges them the way a live
// reconciler would. A failing collection contributes nothing; the call
// only errors when both fail.
func Snapshot(ctx context.Context, st store.Store, conversationID string, self models.Identity, limit int, log *zap.Logger) (View, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	var (
		lists   [][]models.Message
		hasMore = true
		failed  int
		lastErr error
	)
	for _, coll := range models.Collections {
		recs, err := st.Recent(ctx, store.Query{ConversationID: conversationID, Collection: coll, Limit: limit})
		if err != nil {
			log.Warn("Message read failed",
				zap.String("conversation", conversationID),
				zap.String("collection", string(coll)),
				zap.Error(err))
			failed++
			lastErr = err
			hasMore = false
			continue
		}
		if len(recs) < limit {
			hasMore = false
		}
		lists = append(lists, chronological(normalize.Messages(recs, self)))
	}
	if failed == len(models.Collections) {
		return View{}, fmt.Errorf("reconcile: read %s: %w", conversationID, lastErr)
	}
	return View{
		ConversationID: conversationID,
		Messages:       Merge(lists...),
		HasMore:        hasMore,
		Limit:          limit,
	}, nil
}
