package capture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dgnsrekt/promptdeck/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "captures.db"))
	if err != nil {
		t.Fatalf("New() = %v; want nil", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() = %v; want nil", err)
		}
	})
	return store
}

func mustInsert(t *testing.T, store *Store, rec types.CaptureRecord) {
	t.Helper()
	if err := store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert(%s) = %v; want nil", rec.ID, err)
	}
}

func baseRecord(id string) types.CaptureRecord {
	return types.CaptureRecord{
		ID:        id,
		SessionID: "sess-1",
		Provider:  "claude",
		Prompt:    "what is a goroutine",
		Response:  "a lightweight thread managed by the Go runtime",
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestInsertAndGet(t *testing.T) {
	store := newTestStore(t)
	rec := baseRecord("cap-1")
	rec.Tags = []string{"go", "concurrency", "go"}
	rec.Metadata = []byte(`{"turn":3}`)
	mustInsert(t, store, rec)

	got, err := store.Get(context.Background(), "cap-1")
	if err != nil {
		t.Fatalf("Get() = %v; want nil", err)
	}
	if got.Prompt != rec.Prompt || got.Response != rec.Response {
		t.Fatalf("Get() = %+v; want prompt/response round-trip", got)
	}
	if !reflect.DeepEqual(got.Tags, []string{"concurrency", "go"}) {
		t.Fatalf("Get() tags = %v; want deduplicated sorted set", got.Tags)
	}
	if string(got.Metadata) != `{"turn":3}` {
		t.Fatalf("Get() metadata = %s; want round-trip", got.Metadata)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("Get() created_at = %v; want %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestInsert_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	mustInsert(t, store, baseRecord("cap-1"))

	err := store.Insert(context.Background(), baseRecord("cap-1"))
	var coded *types.CodedError
	if !errors.As(err, &coded) || coded.Code != types.CodeDuplicateID {
		t.Fatalf("Insert(duplicate) = %v; want DUPLICATE_ID", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	var coded *types.CodedError
	if !errors.As(err, &coded) || coded.Code != types.CodeNotFound {
		t.Fatalf("Get(missing) = %v; want NOT_FOUND", err)
	}
}

func TestSearch_FiltersAndOrdering(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := baseRecord(fmt.Sprintf("cap-%d", i))
		rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if i%2 == 0 {
			rec.Provider = "chatgpt"
		}
		if i == 3 {
			rec.Tags = []string{"starred"}
			rec.Response = "channels are typed conduits"
		}
		mustInsert(t, store, rec)
	}

	all, err := store.Search(context.Background(), types.Filter{})
	if err != nil {
		t.Fatalf("Search() = %v; want nil", err)
	}
	if len(all) != 5 {
		t.Fatalf("Search() = %d records; want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Fatalf("Search() not ordered newest first at %d", i)
		}
	}

	byProvider, err := store.Search(context.Background(), types.Filter{Providers: []string{"chatgpt"}})
	if err != nil {
		t.Fatalf("Search(provider) = %v; want nil", err)
	}
	if len(byProvider) != 3 {
		t.Fatalf("Search(provider=chatgpt) = %d; want 3", len(byProvider))
	}

	byTag, err := store.Search(context.Background(), types.Filter{Tags: []string{"starred", "other"}})
	if err != nil {
		t.Fatalf("Search(tags) = %v; want nil", err)
	}
	if len(byTag) != 1 || byTag[0].ID != "cap-3" {
		t.Fatalf("Search(tags) = %v; want [cap-3]", byTag)
	}

	byText, err := store.Search(context.Background(), types.Filter{Query: "TYPED CONDUITS"})
	if err != nil {
		t.Fatalf("Search(query) = %v; want nil", err)
	}
	if len(byText) != 1 || byText[0].ID != "cap-3" {
		t.Fatalf("Search(query) = %v; want case-insensitive match of cap-3", byText)
	}

	start := base.Add(time.Hour)
	end := base.Add(3 * time.Hour)
	byRange, err := store.Search(context.Background(), types.Filter{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("Search(range) = %v; want nil", err)
	}
	if len(byRange) != 3 {
		t.Fatalf("Search(range) = %d; want 3", len(byRange))
	}
}

func TestSearch_InvertedRangeIsEmptyNotError(t *testing.T) {
	store := newTestStore(t)
	mustInsert(t, store, baseRecord("cap-1"))

	start := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(-24 * time.Hour)
	got, err := store.Search(context.Background(), types.Filter{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("Search(start>end) = %v; want nil", err)
	}
	if len(got) != 0 {
		t.Fatalf("Search(start>end) = %d records; want 0", len(got))
	}
}

func TestPartialMutations(t *testing.T) {
	store := newTestStore(t)
	mustInsert(t, store, baseRecord("cap-1"))
	ctx := context.Background()

	if err := store.UpdateTags(ctx, "cap-1", []string{"b", "a"}); err != nil {
		t.Fatalf("UpdateTags() = %v; want nil", err)
	}
	if err := store.UpdateNotes(ctx, "cap-1", "revisit later"); err != nil {
		t.Fatalf("UpdateNotes() = %v; want nil", err)
	}
	if err := store.UpdateTopic(ctx, "cap-1", "runtime"); err != nil {
		t.Fatalf("UpdateTopic() = %v; want nil", err)
	}
	if err := store.UpdateMetadata(ctx, "cap-1", []byte(`{"rank":1}`)); err != nil {
		t.Fatalf("UpdateMetadata() = %v; want nil", err)
	}

	got, err := store.Get(ctx, "cap-1")
	if err != nil {
		t.Fatalf("Get() = %v; want nil", err)
	}
	if !reflect.DeepEqual(got.Tags, []string{"a", "b"}) {
		t.Fatalf("tags = %v; want [a b]", got.Tags)
	}
	if got.Notes != "revisit later" || got.Topic != "runtime" {
		t.Fatalf("notes/topic = %q/%q; want updated values", got.Notes, got.Topic)
	}
	// Unrelated fields untouched.
	if got.Prompt != baseRecord("cap-1").Prompt {
		t.Fatalf("prompt changed by partial mutation: %q", got.Prompt)
	}

	if err := store.UpdateMetadata(ctx, "cap-1", []byte(`{broken`)); err == nil {
		t.Fatalf("UpdateMetadata(invalid json) = nil; want validation error")
	}
}

func TestSetArchived_Idempotent(t *testing.T) {
	store := newTestStore(t)
	mustInsert(t, store, baseRecord("cap-1"))
	ctx := context.Background()

	if err := store.SetArchived(ctx, "cap-1", true); err != nil {
		t.Fatalf("SetArchived() = %v; want nil", err)
	}
	if err := store.SetArchived(ctx, "cap-1", true); err != nil {
		t.Fatalf("SetArchived() second call = %v; want nil", err)
	}
	got, err := store.Get(ctx, "cap-1")
	if err != nil {
		t.Fatalf("Get() = %v; want nil", err)
	}
	if !got.Archived {
		t.Fatalf("Archived = false; want true")
	}

	counted, err := store.Count(ctx, types.Filter{Archived: boolPtr(true)})
	if err != nil {
		t.Fatalf("Count(archived) = %v; want nil", err)
	}
	if counted != 1 {
		t.Fatalf("Count(archived) = %d; want 1", counted)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	rec := baseRecord("cap-1")
	rec.Tags = []string{"keep"}
	mustInsert(t, store, rec)
	ctx := context.Background()

	if err := store.Delete(ctx, "cap-1"); err != nil {
		t.Fatalf("Delete() = %v; want nil", err)
	}
	var coded *types.CodedError
	if err := store.Delete(ctx, "cap-1"); !errors.As(err, &coded) || coded.Code != types.CodeNotFound {
		t.Fatalf("Delete(gone) = %v; want NOT_FOUND", err)
	}
	tags, err := store.AllTags(ctx)
	if err != nil {
		t.Fatalf("AllTags() = %v; want nil", err)
	}
	if len(tags) != 0 {
		t.Fatalf("AllTags() after delete = %v; want empty (cascade)", tags)
	}
}

func TestStatsAndAllTags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		rec := baseRecord(fmt.Sprintf("cap-%d", i))
		rec.Tags = []string{"shared", fmt.Sprintf("t%d", i)}
		mustInsert(t, store, rec)
	}
	if err := store.SetArchived(ctx, "cap-0", true); err != nil {
		t.Fatalf("SetArchived() = %v; want nil", err)
	}

	captures, archived, size, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() = %v; want nil", err)
	}
	if captures != 4 || archived != 1 {
		t.Fatalf("Stats() = %d/%d; want 4/1", captures, archived)
	}
	if size <= 0 {
		t.Fatalf("Stats() size = %d; want > 0", size)
	}

	tags, err := store.AllTags(ctx)
	if err != nil {
		t.Fatalf("AllTags() = %v; want nil", err)
	}
	if len(tags) != 5 || tags[0] != "shared" || tags[4] != "t3" {
		t.Fatalf("AllTags() = %v; want 5 distinct sorted tags", tags)
	}
}

func TestCursor_VisitsAllInOrder(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	const total = 25

	for i := 0; i < total; i++ {
		rec := baseRecord(fmt.Sprintf("cap-%02d", i))
		// Duplicate timestamps force the id tie break through the keyset.
		rec.CreatedAt = base.Add(time.Duration(i/5) * time.Minute)
		mustInsert(t, store, rec)
	}

	want, err := store.Search(context.Background(), types.Filter{})
	if err != nil {
		t.Fatalf("Search() = %v; want nil", err)
	}

	cursor := store.NewCursor(types.Filter{}, 7)
	var got []types.CaptureRecord
	for {
		batch, err := cursor.Next(context.Background())
		if err != nil {
			t.Fatalf("Next() = %v; want nil", err)
		}
		if batch == nil {
			break
		}
		if len(batch) > 7 {
			t.Fatalf("Next() batch size = %d; want <= 7", len(batch))
		}
		got = append(got, batch...)
	}

	if len(got) != total {
		t.Fatalf("cursor visited %d records; want %d", len(got), total)
	}
	for i := range got {
		if got[i].ID != want[i].ID {
			t.Fatalf("cursor order diverges from Search at %d: %s vs %s", i, got[i].ID, want[i].ID)
		}
	}
}

func boolPtr(b bool) *bool { return &b }
