package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// openTestStore connects to the test database, applies migrations, and
// returns a store. Integration tests are skipped in short mode; IDs are
// suffixed per run so a shared development database stays usable.
func openTestStore(t *testing.T) (context.Context, *PostgresStore) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return ctx, NewPostgresStore(db)
}

func seedTestItem(t *testing.T, ctx context.Context, s *PostgresStore, suffix string) string {
	t.Helper()
	itemID := "it-" + suffix
	if _, err := s.InsertItem(ctx, Item{ID: itemID, Content: "seeded"}); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM escalations WHERE item_id=$1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM judgments WHERE item_id=$1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id=$1`, itemID)
	})
	return itemID
}

func seedTestAnnotator(t *testing.T, ctx context.Context, s *PostgresStore, suffix string) string {
	t.Helper()
	id := "ann-" + suffix
	err := s.InsertAnnotator(ctx, Annotator{
		ID:           id,
		Email:        id + "@example.com",
		PasscodeHash: "x",
		Role:         "standard",
		Activated:    true,
	})
	if err != nil {
		t.Fatalf("insert annotator: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM annotators WHERE id=$1`, id)
	})
	return id
}

func testRunSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

func TestEnqueueIfAbsentIsIdempotent(t *testing.T) {
	ctx, s := openTestStore(t)
	itemID := seedTestItem(t, ctx, s, "esc-"+testRunSuffix())

	if err := s.EnqueueIfAbsent(ctx, itemID); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.EnqueueIfAbsent(ctx, itemID); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	var unresolved int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM escalations WHERE item_id=$1 AND NOT resolved`, itemID).Scan(&unresolved)
	if err != nil {
		t.Fatalf("count unresolved: %v", err)
	}
	if unresolved != 1 {
		t.Fatalf("got %d unresolved escalations, want 1", unresolved)
	}

	// A resolved record never blocks a later escalation of the same item.
	if err := s.ResolveForItem(ctx, itemID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.EnqueueIfAbsent(ctx, itemID); err != nil {
		t.Fatalf("enqueue after resolve: %v", err)
	}

	var total int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM escalations WHERE item_id=$1`, itemID).Scan(&total)
	if err != nil {
		t.Fatalf("count total: %v", err)
	}
	if total != 2 {
		t.Fatalf("got %d escalation records, want 2", total)
	}
	unresolvedAgain := 0
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM escalations WHERE item_id=$1 AND NOT resolved`, itemID).Scan(&unresolvedAgain)
	if err != nil {
		t.Fatalf("count unresolved: %v", err)
	}
	if unresolvedAgain != 1 {
		t.Fatalf("got %d unresolved escalations after re-enqueue, want 1", unresolvedAgain)
	}
}

func TestOpenEntryRejectsSecondEntryForPair(t *testing.T) {
	ctx, s := openTestStore(t)
	suffix := testRunSuffix()
	itemID := seedTestItem(t, ctx, s, "pair-"+suffix)
	annID := seedTestAnnotator(t, ctx, s, "pair-"+suffix)

	if _, err := s.OpenEntry(ctx, itemID, annID); err != nil {
		t.Fatalf("open entry: %v", err)
	}
	if _, err := s.OpenEntry(ctx, itemID, annID); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("second open = %v, want ErrAlreadyOpen", err)
	}
	if _, err := s.CloseEntry(ctx, itemID, annID, "Hamas", nil); err != nil {
		t.Fatalf("close entry: %v", err)
	}
	// Closed entries block re-assignment of the pair just like open ones.
	if _, err := s.OpenEntry(ctx, itemID, annID); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("open after close = %v, want ErrAlreadyOpen", err)
	}
}

func TestAssignableItemsSeenOnceExcludesOwnJudgment(t *testing.T) {
	ctx, s := openTestStore(t)
	suffix := testRunSuffix()
	itemID := seedTestItem(t, ctx, s, "seen-"+suffix)
	annID := seedTestAnnotator(t, ctx, s, "seen-"+suffix)

	if _, err := s.OpenEntry(ctx, itemID, annID); err != nil {
		t.Fatalf("open entry: %v", err)
	}

	contains := func(items []Item, id string) bool {
		for _, item := range items {
			if item.ID == id {
				return true
			}
		}
		return false
	}

	// For the judging annotator the item is in neither candidate set.
	neverSeen, seenOnce, err := s.AssignableItems(ctx, annID)
	if err != nil {
		t.Fatalf("assignable items: %v", err)
	}
	if contains(neverSeen, itemID) || contains(seenOnce, itemID) {
		t.Fatal("item offered back to its own annotator")
	}

	// For everyone else it sits in the seen-once set.
	neverSeen, seenOnce, err = s.AssignableItems(ctx, "ann-someone-else")
	if err != nil {
		t.Fatalf("assignable items: %v", err)
	}
	if contains(neverSeen, itemID) {
		t.Fatal("seen-once item listed as never seen")
	}
	if !contains(seenOnce, itemID) {
		t.Fatal("seen-once item missing from candidate set")
	}
}

func TestFinalClassificationsUseEarliestEntry(t *testing.T) {
	ctx, s := openTestStore(t)
	suffix := testRunSuffix()
	itemID := seedTestItem(t, ctx, s, "final-"+suffix)
	first := seedTestAnnotator(t, ctx, s, "final-a-"+suffix)
	second := seedTestAnnotator(t, ctx, s, "final-b-"+suffix)

	if _, err := s.OpenEntry(ctx, itemID, first); err != nil {
		t.Fatalf("open first: %v", err)
	}
	if _, err := s.CloseEntry(ctx, itemID, first, "Hamas", []string{"uniform"}); err != nil {
		t.Fatalf("close first: %v", err)
	}
	if _, err := s.OpenEntry(ctx, itemID, second); err != nil {
		t.Fatalf("open second: %v", err)
	}
	// Lexicographically smaller features on the later entry; the export must
	// still carry the earlier entry's.
	if _, err := s.CloseEntry(ctx, itemID, second, "Hamas", []string{"flag"}); err != nil {
		t.Fatalf("close second: %v", err)
	}

	finals, err := s.FinalClassifications(ctx)
	if err != nil {
		t.Fatalf("final classifications: %v", err)
	}
	var found *FinalClassification
	for i := range finals {
		if finals[i].ItemID == itemID {
			found = &finals[i]
		}
	}
	if found == nil {
		t.Fatal("agreed item missing from final classifications")
	}
	if found.Classification != "Hamas" {
		t.Fatalf("classification = %s, want Hamas", found.Classification)
	}
	if len(found.Features) != 1 || found.Features[0] != "uniform" {
		t.Fatalf("features = %v, want the earliest entry's [uniform]", found.Features)
	}

	// An unresolved escalation withholds the item from the export.
	if err := s.EnqueueIfAbsent(ctx, itemID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	finals, err = s.FinalClassifications(ctx)
	if err != nil {
		t.Fatalf("final classifications: %v", err)
	}
	for _, final := range finals {
		if final.ItemID == itemID {
			t.Fatal("escalated item leaked into final classifications")
		}
	}
}

// getTestDatabaseURL resolves the integration database. TEST_DATABASE_URL
// wins; otherwise the standard Postgres variables with local defaults.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := getenv("TEST_DATABASE_URL", ""); url != "" {
		return url
	}

	host := getenv("POSTGRES_HOST", "localhost")
	port := getenv("POSTGRES_PORT", "5432")
	user := getenv("POSTGRES_USER", "labelpool")
	pass := getenv("POSTGRES_PASSWORD", "labelpool")
	dbname := getenv("POSTGRES_DB", "labelpool_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
