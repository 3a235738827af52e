// Package engine implements assignment and escalation over the judgment
// ledger: which item an annotator is served next, when a disagreement routes
// an item to the pro pool, and how a pro verdict settles prior judgments.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"labelpool/api/internal/features"
	"labelpool/api/internal/labels"
	"labelpool/api/internal/store"
)

var (
	// ErrInvalidLabel rejects a classification outside the domain's label set.
	ErrInvalidLabel = errors.New("classification not in label set")
	// ErrInvalidFeature rejects a feature tag outside the vocabulary.
	ErrInvalidFeature = errors.New("feature not in vocabulary")
	// ErrNoOpenEntry rejects a submission with no matching open assignment.
	ErrNoOpenEntry = errors.New("no open assignment for item and annotator")
	// ErrItemNotFound rejects a submission for an unknown item.
	ErrItemNotFound = errors.New("item not found")
)

type ItemStore interface {
	GetItem(ctx context.Context, id string) (store.Item, error)
	AssignableItems(ctx context.Context, excludeAnnotator string) (neverSeen, seenOnce []store.Item, err error)
}

type Ledger interface {
	FindOpenByAnnotator(ctx context.Context, annotatorID string) (*store.JudgmentEntry, error)
	OpenEntry(ctx context.Context, itemID, annotatorID string) (store.JudgmentEntry, error)
	CloseEntry(ctx context.Context, itemID, annotatorID, classification string, feats []string) (store.JudgmentEntry, error)
	PropagateVerdict(ctx context.Context, itemID, excludeAnnotator, classification string, feats []string) error
	ClosedByOthers(ctx context.Context, itemID, excludeAnnotator string) ([]store.JudgmentEntry, error)
	PanelCounts(ctx context.Context, annotatorID string) (map[string]int, int, error)
	GlobalLabelCounts(ctx context.Context) (map[string]int, error)
	TotalClassifiedItems(ctx context.Context) (int, error)
	AnnotatorBreakdowns(ctx context.Context) ([]store.AnnotatorBreakdown, error)
}

type EscalationPool interface {
	EnqueueIfAbsent(ctx context.Context, itemID string) error
	ClaimNext(ctx context.Context) (*store.EscalationRecord, error)
	MarkResolved(ctx context.Context, recordID int64) error
	ResolveForItem(ctx context.Context, itemID string) error
	WasEscalated(ctx context.Context, itemID string) (bool, error)
}

// Engine serializes every ledger- or pool-mutating operation behind one
// mutex. Correctness of assignment (no double-assignment, no double-claim)
// depends on that exclusion; there is no per-row locking underneath.
type Engine struct {
	items  ItemStore
	ledger Ledger
	pool   EscalationPool
	domain labels.Domain
	vocab  *features.Vocabulary

	mu  sync.Mutex
	rng *rand.Rand
}

func New(items ItemStore, ledger Ledger, pool EscalationPool, domain labels.Domain, vocab *features.Vocabulary) *Engine {
	return &Engine{
		items:  items,
		ledger: ledger,
		pool:   pool,
		domain: domain,
		vocab:  vocab,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) Domain() labels.Domain {
	return e.domain
}

// ServeNext picks the item an annotator should judge next. A nil item with
// a nil error means the queue is exhausted, which is a normal outcome.
//
// Order of preference: the annotator's existing open entry (re-serving is
// idempotent, so client retries never skip work), then the escalation pool
// for pros, then a random pick from the never-seen / seen-once candidate
// sets with an even coin between the two when both are populated.
func (e *Engine) ServeNext(ctx context.Context, annotatorID string, pro bool) (*store.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	open, err := e.ledger.FindOpenByAnnotator(ctx, annotatorID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		item, err := e.items.GetItem(ctx, open.ItemID)
		if err != nil {
			return nil, fmt.Errorf("load open item: %w", err)
		}
		return &item, nil
	}

	if pro {
		item, err := e.serveEscalated(ctx, annotatorID)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
	}

	return e.serveFresh(ctx, annotatorID)
}

// serveEscalated claims the oldest unresolved escalation for a pro. The
// record is resolved only after the entry is opened, so a failure in
// between leaves the item claimable.
func (e *Engine) serveEscalated(ctx context.Context, annotatorID string) (*store.Item, error) {
	record, err := e.pool.ClaimNext(ctx)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	_, err = e.ledger.OpenEntry(ctx, record.ItemID, annotatorID)
	if errors.Is(err, store.ErrAlreadyOpen) {
		// This pro already judged the escalated item; nobody else can review
		// it through this pro, so resolve the record and fall through to the
		// fresh pick.
		if err := e.pool.MarkResolved(ctx, record.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := e.pool.MarkResolved(ctx, record.ID); err != nil {
		return nil, err
	}

	item, err := e.items.GetItem(ctx, record.ItemID)
	if err != nil {
		return nil, fmt.Errorf("load escalated item: %w", err)
	}
	return &item, nil
}

func (e *Engine) serveFresh(ctx context.Context, annotatorID string) (*store.Item, error) {
	neverSeen, seenOnce, err := e.items.AssignableItems(ctx, annotatorID)
	if err != nil {
		return nil, err
	}

	// An even coin between breadth (never seen) and depth (seen once)
	// whenever both sets are populated.
	var candidates []store.Item
	switch {
	case len(neverSeen) > 0 && len(seenOnce) > 0:
		if e.rng.Intn(2) == 0 {
			candidates = seenOnce
		} else {
			candidates = neverSeen
		}
	case len(seenOnce) > 0:
		candidates = seenOnce
	case len(neverSeen) > 0:
		candidates = neverSeen
	default:
		return nil, nil
	}

	item := candidates[e.rng.Intn(len(candidates))]
	if _, err := e.ledger.OpenEntry(ctx, item.ID, annotatorID); err != nil {
		return nil, err
	}
	return &item, nil
}

// Judgment is one annotator's submitted verdict on an item.
type Judgment struct {
	AnnotatorID    string
	Pro            bool
	ItemID         string
	Classification string
	Features       []string
}

// SubmitJudgment closes the caller's open entry with the given
// classification. Invalid input is rejected before any state changes.
// Standard submissions run the escalation check; a pro submission on an
// escalated item is final and overwrites everyone else's entries.
func (e *Engine) SubmitJudgment(ctx context.Context, j Judgment) error {
	if !e.domain.Valid(j.Classification) {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, j.Classification)
	}
	if e.vocab != nil {
		if unknown, ok := e.vocab.Validate(j.Features); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidFeature, unknown)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.items.GetItem(ctx, j.ItemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrItemNotFound
		}
		return err
	}

	if _, err := e.ledger.CloseEntry(ctx, j.ItemID, j.AnnotatorID, j.Classification, j.Features); err != nil {
		if errors.Is(err, store.ErrNoOpenEntry) {
			return ErrNoOpenEntry
		}
		return err
	}

	if j.Pro {
		return e.settleAsPro(ctx, j)
	}
	return e.checkEscalation(ctx, j)
}

// checkEscalation flags the item for pro review when the new judgment
// disagrees with an existing one, is the low-confidence sentinel, or a
// trigger label is already present. The first judgment on an item never
// escalates.
func (e *Engine) checkEscalation(ctx context.Context, j Judgment) error {
	others, err := e.ledger.ClosedByOthers(ctx, j.ItemID, j.AnnotatorID)
	if err != nil {
		return err
	}
	if len(others) == 0 {
		return nil
	}

	needed := j.Classification == e.domain.Uncertain
	for _, other := range others {
		if other.Classification != j.Classification || e.domain.IsTrigger(other.Classification) {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}
	return e.pool.EnqueueIfAbsent(ctx, j.ItemID)
}

// settleAsPro propagates a pro's verdict over every other entry for an
// escalated item and retires the escalation. A pro's own verdict never
// re-escalates.
func (e *Engine) settleAsPro(ctx context.Context, j Judgment) error {
	escalated, err := e.pool.WasEscalated(ctx, j.ItemID)
	if err != nil {
		return err
	}
	if !escalated {
		return nil
	}
	if err := e.ledger.PropagateVerdict(ctx, j.ItemID, j.AnnotatorID, j.Classification, j.Features); err != nil {
		return err
	}
	return e.pool.ResolveForItem(ctx, j.ItemID)
}

// Panel is one annotator's progress summary.
type Panel struct {
	Completed int
	Remaining int
	ByLabel   map[string]int
}

func (e *Engine) PanelFor(ctx context.Context, annotatorID string) (Panel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	byLabel, remaining, err := e.ledger.PanelCounts(ctx, annotatorID)
	if err != nil {
		return Panel{}, err
	}

	panel := Panel{Remaining: remaining, ByLabel: make(map[string]int, len(e.domain.Labels))}
	for _, label := range e.domain.Labels {
		panel.ByLabel[label] = byLabel[label]
		panel.Completed += byLabel[label]
	}
	return panel, nil
}

// GlobalPanel is the cross-annotator view served to pros.
type GlobalPanel struct {
	Annotators    []store.AnnotatorBreakdown
	TotalItems    int
	TotalsByLabel map[string]int
}

func (e *Engine) Global(ctx context.Context) (GlobalPanel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	breakdowns, err := e.ledger.AnnotatorBreakdowns(ctx)
	if err != nil {
		return GlobalPanel{}, err
	}
	totalItems, err := e.ledger.TotalClassifiedItems(ctx)
	if err != nil {
		return GlobalPanel{}, err
	}
	counts, err := e.ledger.GlobalLabelCounts(ctx)
	if err != nil {
		return GlobalPanel{}, err
	}

	totals := make(map[string]int, len(e.domain.Labels))
	for _, label := range e.domain.Labels {
		totals[label] = counts[label]
	}
	return GlobalPanel{Annotators: breakdowns, TotalItems: totalItems, TotalsByLabel: totals}, nil
}
