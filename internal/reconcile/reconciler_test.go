package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"crmchat/server/internal/models"
	"crmchat/server/internal/store"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const conv = "conv-1"

func msg(id string, ts int64) models.Message {
	return models.Message{ID: id, Timestamp: ts}
}

func msgIDs(msgs []models.Message) string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return strings.Join(out, ",")
}

// record builds a raw document in the layout of its collection; ts is seconds.
func record(coll models.Collection, id string, ts int64) models.Record {
	data := map[string]any{"text": id, "timestamp": map[string]any{"seconds": float64(ts)}}
	if coll == models.CollectionMsgs {
		data = map[string]any{"body": id, "ts": float64(ts)}
	}
	return models.Record{ID: id, ConversationID: conv, Collection: coll, Data: data}
}

func seed(t *testing.T, m *store.Memory, recs ...models.Record) {
	t.Helper()
	for _, r := range recs {
		if err := m.Append(context.Background(), r); err != nil {
			t.Fatalf("Append %s: %v", r.ID, err)
		}
	}
}

type views struct {
	mu  sync.Mutex
	all []View
}

func (v *views) add(view View) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.all = append(v.all, view)
}

func (v *views) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.all)
}

func TestMerge_SupersetIsIdempotent(t *testing.T) {
	superset := []models.Message{msg("a", 30), msg("b", 10), msg("c", 20)}
	subset := []models.Message{msg("b", 10), msg("c", 20)}

	for _, order := range [][][]models.Message{{superset, subset}, {subset, superset}} {
		got := Merge(order...)
		if ids := msgIDs(got); ids != "b,c,a" {
			t.Errorf("Merge = %s, want b,c,a", ids)
		}
	}
}

func TestMerge_StrictlyAscendingRegardlessOfArrival(t *testing.T) {
	a := []models.Message{msg("a1", 5), msg("a2", 1), msg("a3", 9)}
	b := []models.Message{msg("b1", 7), msg("b2", 3)}

	for _, got := range [][]models.Message{Merge(a, b), Merge(b, a)} {
		for i := 1; i < len(got); i++ {
			if got[i-1].Timestamp >= got[i].Timestamp {
				t.Fatalf("not strictly ascending at %d: %s", i, msgIDs(got))
			}
		}
		if len(got) != 5 {
			t.Errorf("len = %d, want 5", len(got))
		}
	}
}

func TestMerge_DuplicateLaterSourceWins(t *testing.T) {
	older := []models.Message{{ID: "x", Timestamp: 1, Content: models.Content{Text: "old"}}}
	newer := []models.Message{{ID: "x", Timestamp: 1, Content: models.Content{Text: "new"}}}
	got := Merge(older, newer)
	if len(got) != 1 || got[0].Content.Text != "new" {
		t.Errorf("Merge = %+v", got)
	}
}

func TestMerge_EqualTimestampsKeepInputOrder(t *testing.T) {
	got := Merge([]models.Message{msg("first", 100), msg("second", 100)}, []models.Message{msg("third", 100)})
	if ids := msgIDs(got); ids != "first,second,third" {
		t.Errorf("Merge = %s", ids)
	}
}

func TestMerge_ZeroTimestampsSortFirst(t *testing.T) {
	got := Merge([]models.Message{msg("dated", 50), msg("undated", 0)})
	if ids := msgIDs(got); ids != "undated,dated" {
		t.Errorf("Merge = %s", ids)
	}
}

func TestReconciler_TwoSourcesInterleaved(t *testing.T) {
	m := store.NewMemory()
	seed(t, m,
		record(models.CollectionMessages, "m1", 100),
		record(models.CollectionMessages, "m2", 300),
		record(models.CollectionMessages, "m3", 500),
		record(models.CollectionMsgs, "l1", 200),
		record(models.CollectionMsgs, "l2", 400),
	)

	var seen views
	r := New(m, conv, Options{ReadAuthorized: true, OnChange: seen.add})
	r.Start(context.Background())
	defer r.Close()

	v := r.View()
	if ids := msgIDs(v.Messages); ids != "m1,l1,m2,l2,m3" {
		t.Errorf("Messages = %s", ids)
	}
	if v.HasMore {
		t.Error("HasMore = true, want false when neither source filled a page")
	}
	if v.Limit != DefaultPageSize {
		t.Errorf("Limit = %d", v.Limit)
	}
	if seen.count() == 0 {
		t.Error("OnChange never called")
	}
	if v.Messages[1].OriginCollection != models.CollectionMsgs {
		t.Errorf("OriginCollection = %q", v.Messages[1].OriginCollection)
	}
}

func TestReconciler_LiveUpdates(t *testing.T) {
	m := store.NewMemory()
	seed(t, m, record(models.CollectionMessages, "m1", 100))

	var seen views
	r := New(m, conv, Options{ReadAuthorized: true, OnChange: seen.add})
	r.Start(context.Background())
	defer r.Close()

	seed(t, m, record(models.CollectionMsgs, "l1", 50))
	if ids := msgIDs(r.View().Messages); ids != "l1,m1" {
		t.Errorf("after append = %s", ids)
	}

	if err := m.Delete(context.Background(), conv, models.CollectionMessages, "m1"); err != nil {
		t.Fatal(err)
	}
	if ids := msgIDs(r.View().Messages); ids != "l1" {
		t.Errorf("after delete = %s", ids)
	}
}

func TestReconciler_HasMoreOnlyWhenBothFull(t *testing.T) {
	tests := []struct {
		name     string
		messages int
		msgs     int
		want     bool
	}{
		{"both full", 3, 3, true},
		{"one source short", 5, 1, false},
		{"one source empty", 5, 0, false},
		// Over-reports: msgs is exactly full but has nothing older.
		{"exact page on both", 2, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := store.NewMemory()
			for i := 0; i < tt.messages; i++ {
				seed(t, m, record(models.CollectionMessages, fmt.Sprintf("m%d", i), int64(1000+i)))
			}
			for i := 0; i < tt.msgs; i++ {
				seed(t, m, record(models.CollectionMsgs, fmt.Sprintf("l%d", i), int64(2000+i)))
			}
			r := New(m, conv, Options{ReadAuthorized: true, PageSize: 2})
			r.Start(context.Background())
			defer r.Close()
			if got := r.View().HasMore; got != tt.want {
				t.Errorf("HasMore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReconciler_LoadMoreGrowsLimit(t *testing.T) {
	m := store.NewMemory()
	for i := 0; i < 60; i++ {
		seed(t, m, record(models.CollectionMessages, fmt.Sprintf("m%02d", i), int64(1000+i)))
	}
	for i := 0; i < 55; i++ {
		seed(t, m, record(models.CollectionMsgs, fmt.Sprintf("l%02d", i), int64(5000+i)))
	}

	r := New(m, conv, Options{ReadAuthorized: true})
	r.Start(context.Background())
	defer r.Close()

	v := r.View()
	if len(v.Messages) != 100 || !v.HasMore {
		t.Fatalf("initial len=%d hasMore=%v, want 100 true", len(v.Messages), v.HasMore)
	}
	if v.Messages[0].ID != "m10" {
		t.Errorf("oldest = %s, want m10", v.Messages[0].ID)
	}

	r.LoadMore(context.Background())
	v = r.View()
	if len(v.Messages) != 115 || v.HasMore || v.Limit != 100 {
		t.Errorf("after LoadMore len=%d hasMore=%v limit=%d, want 115 false 100", len(v.Messages), v.HasMore, v.Limit)
	}
	if v.Messages[0].ID != "m00" {
		t.Errorf("oldest = %s, want m00", v.Messages[0].ID)
	}
}

func TestReconciler_SourceFailureDegrades(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := store.NewMemory()
	seed(t, m,
		record(models.CollectionMessages, "m1", 100),
		record(models.CollectionMsgs, "l1", 200),
	)

	r := New(m, conv, Options{ReadAuthorized: true, Log: zap.New(core)})
	r.Start(context.Background())
	defer r.Close()

	m.Fail(conv, models.CollectionMsgs, errors.New("permission denied"))

	v := r.View()
	if ids := msgIDs(v.Messages); ids != "m1" {
		t.Errorf("Messages = %s, want m1 only", ids)
	}
	if v.HasMore {
		t.Error("HasMore must be false with a failed source")
	}
	entries := logs.FilterMessage("Message subscription failed").All()
	if len(entries) != 1 {
		t.Fatalf("warnings = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["collection"]; got != "msgs" {
		t.Errorf("collection field = %v", got)
	}

	// the healthy source keeps the view alive
	seed(t, m, record(models.CollectionMessages, "m2", 300))
	if ids := msgIDs(r.View().Messages); ids != "m1,m2" {
		t.Errorf("after append = %s", ids)
	}
}

func TestReconciler_FailureBeforeStart(t *testing.T) {
	m := store.NewMemory()
	seed(t, m, record(models.CollectionMsgs, "l1", 200))
	m.Fail(conv, models.CollectionMessages, errors.New("unavailable"))

	r := New(m, conv, Options{ReadAuthorized: true})
	r.Start(context.Background())
	defer r.Close()

	if ids := msgIDs(r.View().Messages); ids != "l1" {
		t.Errorf("Messages = %s", ids)
	}
}

func TestReconciler_CloseStopsUpdates(t *testing.T) {
	m := store.NewMemory()
	var seen views
	r := New(m, conv, Options{ReadAuthorized: true, OnChange: seen.add})
	r.Start(context.Background())

	seed(t, m, record(models.CollectionMessages, "m1", 100))
	before := seen.count()
	r.Close()
	r.Close()

	seed(t, m, record(models.CollectionMessages, "m2", 200))
	seed(t, m, record(models.CollectionMsgs, "l1", 300))
	if got := seen.count(); got != before {
		t.Errorf("OnChange calls after Close = %d, want %d", got, before)
	}
	if ids := msgIDs(r.View().Messages); ids != "m1" {
		t.Errorf("View after Close = %s", ids)
	}

	r.LoadMore(context.Background())
	r.Start(context.Background())
	if got := seen.count(); got != before {
		t.Error("Start after Close must not resubscribe")
	}
}

func TestReconciler_ReadAuthorizationGate(t *testing.T) {
	m := store.NewMemory()
	seed(t, m, record(models.CollectionMessages, "m1", 100))

	var seen views
	r := New(m, conv, Options{OnChange: seen.add})
	r.Start(context.Background())
	defer r.Close()

	if seen.count() != 0 || len(r.View().Messages) != 0 {
		t.Fatal("unauthorized reconciler must not subscribe")
	}

	r.SetReadAuthorized(context.Background(), true)
	if ids := msgIDs(r.View().Messages); ids != "m1" {
		t.Fatalf("after authorize = %s", ids)
	}

	r.SetReadAuthorized(context.Background(), false)
	before := seen.count()
	seed(t, m, record(models.CollectionMessages, "m2", 200))
	if seen.count() != before {
		t.Error("update reached the view after revocation")
	}
	if len(r.View().Messages) != 0 {
		t.Error("view must be cleared after revocation")
	}
}

func TestReconciler_DuplicateIDResolvesByCollection(t *testing.T) {
	m := store.NewMemory()
	dupMessages := record(models.CollectionMessages, "dup", 100)
	dupMessages.Data["text"] = "from messages"
	dupMsgs := record(models.CollectionMsgs, "dup", 100)
	dupMsgs.Data["body"] = "from msgs"
	seed(t, m, dupMessages, dupMsgs)

	r := New(m, conv, Options{ReadAuthorized: true})
	r.Start(context.Background())
	defer r.Close()

	v := r.View()
	if len(v.Messages) != 1 {
		t.Fatalf("len = %d, want 1", len(v.Messages))
	}
	if got := v.Messages[0].Content.Text; got != "from msgs" {
		t.Errorf("text = %q, want from msgs", got)
	}

	// an update to messages must not take the duplicate over
	if err := m.UpdateText(context.Background(), conv, models.CollectionMessages, "dup", "edited in messages"); err != nil {
		t.Fatal(err)
	}
	if got := r.View().Messages[0].Content.Text; got != "from msgs" {
		t.Errorf("text = %q, want from msgs", got)
	}
}

func TestReconciler_EqualTimestampsStableAcrossUpdates(t *testing.T) {
	m := store.NewMemory()
	seed(t, m,
		record(models.CollectionMessages, "a", 100),
		record(models.CollectionMsgs, "b", 100),
	)

	r := New(m, conv, Options{ReadAuthorized: true})
	r.Start(context.Background())
	defer r.Close()

	if ids := msgIDs(r.View().Messages); ids != "a,b" {
		t.Fatalf("initial = %s", ids)
	}

	seed(t, m, record(models.CollectionMessages, "c", 200))
	if ids := msgIDs(r.View().Messages); ids != "a,b,c" {
		t.Errorf("after messages update = %s", ids)
	}
	seed(t, m, record(models.CollectionMsgs, "d", 300))
	if ids := msgIDs(r.View().Messages); ids != "a,b,c,d" {
		t.Errorf("after msgs update = %s", ids)
	}
}

func TestReconciler_ClassifiesWithIdentity(t *testing.T) {
	m := store.NewMemory()
	out := record(models.CollectionMsgs, "out", 100)
	out.Data["from"] = "Ana@Shop.com"
	seed(t, m, out, record(models.CollectionMsgs, "in", 200))

	r := New(m, conv, Options{ReadAuthorized: true, Self: models.Identity{Email: "ana@shop.com"}})
	r.Start(context.Background())
	defer r.Close()

	v := r.View()
	if !v.Messages[0].IsOutbound() || v.Messages[1].IsOutbound() {
		t.Errorf("directions = %s, %s", v.Messages[0].Direction, v.Messages[1].Direction)
	}
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	seed(t, m,
		record(models.CollectionMessages, "m1", 100),
		record(models.CollectionMsgs, "l1", 50),
	)

	v, err := Snapshot(ctx, m, conv, models.Identity{}, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ids := msgIDs(v.Messages); ids != "l1,m1" || v.HasMore || v.Limit != DefaultPageSize {
		t.Errorf("Snapshot = %s hasMore=%v limit=%d", ids, v.HasMore, v.Limit)
	}

	m.Fail(conv, models.CollectionMsgs, errors.New("down"))
	v, err = Snapshot(ctx, m, conv, models.Identity{}, 10, nil)
	if err != nil || msgIDs(v.Messages) != "m1" {
		t.Errorf("one source down: %s, %v", msgIDs(v.Messages), err)
	}

	m.Fail(conv, models.CollectionMessages, errors.New("down"))
	if _, err := Snapshot(ctx, m, conv, models.Identity{}, 10, nil); err == nil {
		t.Error("expected error when both sources fail")
	}
}
