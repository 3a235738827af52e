package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"labelpool/api/internal/config"
	"labelpool/api/internal/engine"
	"labelpool/api/internal/export"
	"labelpool/api/internal/features"
	"labelpool/api/internal/importer"
	"labelpool/api/internal/labels"
	"labelpool/api/internal/passcode"
	"labelpool/api/internal/store"
)

// testBackend is a single in-memory implementation of every store-shaped
// interface the service consumes, so handler tests run the real engine and
// real session logic end to end.
type testBackend struct {
	mu           sync.Mutex
	annotators   map[string]store.Annotator
	items        map[string]store.Item
	authors      map[string]store.Author
	entries      []*store.JudgmentEntry
	records      []*store.EscalationRecord
	refresh      map[string]store.Annotator
	revokedJTI   map[string]bool
	nextEntryID  int64
	nextRecordID int64
	pingErr      error
}

func newTestBackend() *testBackend {
	return &testBackend{
		annotators: make(map[string]store.Annotator),
		items:      make(map[string]store.Item),
		authors:    make(map[string]store.Author),
		refresh:    make(map[string]store.Annotator),
		revokedJTI: make(map[string]bool),
	}
}

// ---- dataStore ----

func (b *testBackend) GetAnnotator(_ context.Context, id string) (store.Annotator, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	annotator, ok := b.annotators[id]
	if !ok {
		return store.Annotator{}, sql.ErrNoRows
	}
	return annotator, nil
}

func (b *testBackend) ListAnnotators(context.Context) ([]store.Annotator, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []store.Annotator
	for _, annotator := range b.annotators {
		out = append(out, annotator)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *testBackend) InsertAnnotator(_ context.Context, annotator store.Annotator) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.annotators[annotator.ID] = annotator
	return nil
}

func (b *testBackend) SetAnnotatorRole(_ context.Context, id, role string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	annotator := b.annotators[id]
	annotator.Role = role
	b.annotators[id] = annotator
	return nil
}

func (b *testBackend) Ping(context.Context) error {
	return b.pingErr
}

// ---- sessionStore ----

func (b *testBackend) SaveRefreshSession(_ context.Context, tokenHash string, annotator store.Annotator, _ time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh[tokenHash] = annotator
	return nil
}

func (b *testBackend) LookupRefreshSession(_ context.Context, tokenHash string) (store.Annotator, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	annotator, ok := b.refresh[tokenHash]
	if !ok {
		return store.Annotator{}, sql.ErrNoRows
	}
	return annotator, nil
}

func (b *testBackend) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.refresh, tokenHash)
	return nil
}

func (b *testBackend) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revokedJTI[jti] = true
	return nil
}

func (b *testBackend) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revokedJTI[jti], nil
}

// ---- items and ledger ----

func (b *testBackend) GetItem(_ context.Context, id string) (store.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.items[id]
	if !ok {
		return store.Item{}, sql.ErrNoRows
	}
	return item, nil
}

func (b *testBackend) InsertAuthor(_ context.Context, author store.Author) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authors[author.ID] = author
	return nil
}

func (b *testBackend) InsertItem(_ context.Context, item store.Item) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[item.ID]; ok {
		return false, nil
	}
	b.items[item.ID] = item
	return true, nil
}

func (b *testBackend) ListItems(context.Context) ([]store.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []store.Item
	for _, item := range b.items {
		out = append(out, item)
	}
	return out, nil
}

func (b *testBackend) DeleteItemIfUnjudged(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.ItemID == id {
			return false, nil
		}
	}
	delete(b.items, id)
	return true, nil
}

func (b *testBackend) AssignableItems(_ context.Context, excludeAnnotator string) ([]store.Item, []store.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var neverSeen, seenOnce []store.Item
	for id, item := range b.items {
		var existing []*store.JudgmentEntry
		for _, e := range b.entries {
			if e.ItemID == id {
				existing = append(existing, e)
			}
		}
		switch {
		case len(existing) == 0:
			neverSeen = append(neverSeen, item)
		case len(existing) == 1 && existing[0].AnnotatorID != excludeAnnotator:
			seenOnce = append(seenOnce, item)
		}
	}
	return neverSeen, seenOnce, nil
}

func (b *testBackend) FindOpenByAnnotator(_ context.Context, annotatorID string) (*store.JudgmentEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.AnnotatorID == annotatorID && e.Classification == labels.Unassigned {
			return e, nil
		}
	}
	return nil, nil
}

func (b *testBackend) OpenEntry(_ context.Context, itemID, annotatorID string) (store.JudgmentEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.ItemID == itemID && e.AnnotatorID == annotatorID {
			return store.JudgmentEntry{}, store.ErrAlreadyOpen
		}
	}
	b.nextEntryID++
	entry := &store.JudgmentEntry{
		ID:             b.nextEntryID,
		ItemID:         itemID,
		AnnotatorID:    annotatorID,
		Classification: labels.Unassigned,
		AssignedAt:     time.Now(),
	}
	b.entries = append(b.entries, entry)
	return *entry, nil
}

func (b *testBackend) CloseEntry(_ context.Context, itemID, annotatorID, classification string, feats []string) (store.JudgmentEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.ItemID == itemID && e.AnnotatorID == annotatorID && e.Classification == labels.Unassigned {
			now := time.Now()
			e.Classification = classification
			e.Features = feats
			e.CompletedAt = &now
			return *e, nil
		}
	}
	return store.JudgmentEntry{}, store.ErrNoOpenEntry
}

func (b *testBackend) PropagateVerdict(_ context.Context, itemID, excludeAnnotator, classification string, feats []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.ItemID == itemID && e.AnnotatorID != excludeAnnotator {
			e.Classification = classification
			e.Features = feats
		}
	}
	return nil
}

func (b *testBackend) ClosedByOthers(_ context.Context, itemID, excludeAnnotator string) ([]store.JudgmentEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []store.JudgmentEntry
	for _, e := range b.entries {
		if e.ItemID == itemID && e.AnnotatorID != excludeAnnotator && e.Classification != labels.Unassigned {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (b *testBackend) PanelCounts(_ context.Context, annotatorID string) (map[string]int, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byLabel := make(map[string]int)
	remaining := 0
	for _, e := range b.entries {
		if e.AnnotatorID != annotatorID {
			continue
		}
		if e.Classification == labels.Unassigned {
			remaining++
			continue
		}
		byLabel[e.Classification]++
	}
	return byLabel, remaining, nil
}

func (b *testBackend) GlobalLabelCounts(context.Context) (map[string]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	perLabel := make(map[string]map[string]struct{})
	for _, e := range b.entries {
		if e.Classification == labels.Unassigned {
			continue
		}
		if perLabel[e.Classification] == nil {
			perLabel[e.Classification] = make(map[string]struct{})
		}
		perLabel[e.Classification][e.ItemID] = struct{}{}
	}
	counts := make(map[string]int)
	for label, itemSet := range perLabel {
		counts[label] = len(itemSet)
	}
	return counts, nil
}

func (b *testBackend) TotalClassifiedItems(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	itemSet := make(map[string]struct{})
	for _, e := range b.entries {
		if e.Classification != labels.Unassigned {
			itemSet[e.ItemID] = struct{}{}
		}
	}
	return len(itemSet), nil
}

func (b *testBackend) AnnotatorBreakdowns(context.Context) ([]store.AnnotatorBreakdown, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	perAnnotator := make(map[string]*store.AnnotatorBreakdown)
	for _, e := range b.entries {
		if e.Classification == labels.Unassigned {
			continue
		}
		breakdown := perAnnotator[e.AnnotatorID]
		if breakdown == nil {
			breakdown = &store.AnnotatorBreakdown{
				AnnotatorID: e.AnnotatorID,
				Email:       b.annotators[e.AnnotatorID].Email,
				ByLabel:     make(map[string]int),
			}
			perAnnotator[e.AnnotatorID] = breakdown
		}
		breakdown.Completed++
		breakdown.ByLabel[e.Classification]++
	}
	var out []store.AnnotatorBreakdown
	for _, breakdown := range perAnnotator {
		out = append(out, *breakdown)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnnotatorID < out[j].AnnotatorID })
	return out, nil
}

// ---- escalation pool ----

func (b *testBackend) EnqueueIfAbsent(_ context.Context, itemID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.records {
		if r.ItemID == itemID && !r.Resolved {
			return nil
		}
	}
	b.nextRecordID++
	b.records = append(b.records, &store.EscalationRecord{ID: b.nextRecordID, ItemID: itemID, CreatedAt: time.Now()})
	return nil
}

func (b *testBackend) ClaimNext(context.Context) (*store.EscalationRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.records {
		if !r.Resolved {
			return r, nil
		}
	}
	return nil, nil
}

func (b *testBackend) MarkResolved(_ context.Context, recordID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.records {
		if r.ID == recordID {
			r.Resolved = true
		}
	}
	return nil
}

func (b *testBackend) ResolveForItem(_ context.Context, itemID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.records {
		if r.ItemID == itemID {
			r.Resolved = true
		}
	}
	return nil
}

func (b *testBackend) WasEscalated(_ context.Context, itemID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.records {
		if r.ItemID == itemID {
			return true, nil
		}
	}
	return false, nil
}

// ---- export ----

func (b *testBackend) FinalClassifications(context.Context) ([]store.FinalClassification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	perItem := make(map[string][]string)
	for _, e := range b.entries {
		if e.Classification != labels.Unassigned {
			perItem[e.ItemID] = append(perItem[e.ItemID], e.Classification)
		}
	}
	var out []store.FinalClassification
	for itemID, verdicts := range perItem {
		agreed := true
		for _, verdict := range verdicts {
			if verdict != verdicts[0] {
				agreed = false
			}
		}
		unresolved := false
		for _, r := range b.records {
			if r.ItemID == itemID && !r.Resolved {
				unresolved = true
			}
		}
		if agreed && !unresolved {
			out = append(out, store.FinalClassification{
				ItemID:         itemID,
				Classification: verdicts[0],
				Content:        b.items[itemID].Content,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// testPasscode is shared across seeded accounts to keep bcrypt work out of
// each test; the hash is computed once.
const testPasscode = "k3f9w2qa"

var (
	testHashOnce sync.Once
	testHash     string
	testHashErr  error
)

func seededHash(t *testing.T) string {
	t.Helper()
	testHashOnce.Do(func() {
		testHash, testHashErr = passcode.Hash(testPasscode)
	})
	if testHashErr != nil {
		t.Fatalf("hash test passcode: %v", testHashErr)
	}
	return testHash
}

func seedAnnotator(t *testing.T, backend *testBackend, id, role string) {
	t.Helper()
	backend.annotators[id] = store.Annotator{
		ID:           id,
		Email:        id + "@example.com",
		PasscodeHash: seededHash(t),
		Role:         role,
		Activated:    true,
	}
}

func newTestServer(t *testing.T, backend *testBackend) *HTTPServer {
	return newTestServerDomain(t, backend, labels.Video)
}

func newTestServerDomain(t *testing.T, backend *testBackend, domain labels.Domain) *HTTPServer {
	t.Helper()
	vocab, err := features.Parse([]byte("features:\n  - flag\n  - uniform\n"))
	if err != nil {
		t.Fatalf("parse test vocabulary: %v", err)
	}
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
	eng := engine.New(backend, backend, backend, domain, vocab)
	svc := New(cfg, backend, backend, eng, importer.New(backend), export.NewService(backend), nil, vocab)
	return NewHTTPServer(svc, "*")
}

func sessionFor(t *testing.T, server *HTTPServer, backend *testBackend, annotatorID string) Session {
	t.Helper()
	annotator, ok := backend.annotators[annotatorID]
	if !ok {
		t.Fatalf("no seeded annotator %s", annotatorID)
	}
	session, err := server.service.issueSession(context.Background(), annotator)
	if err != nil {
		t.Fatalf("issue session for %s: %v", annotatorID, err)
	}
	return session
}
