package store

import "time"

type Annotator struct {
	ID           string
	Email        string
	PasscodeHash string
	Role         string
	Activated    bool
	ValidUntil   *time.Time
	MaxJudgments *int
	CreatedAt    time.Time
}

// CanJudge reports whether the annotator account is usable: activated, not
// past its validity date, and under its judgment cap if one is set.
func (a Annotator) CanJudge(now time.Time, completed int) bool {
	if !a.Activated {
		return false
	}
	if a.ValidUntil != nil && !now.Before(*a.ValidUntil) {
		return false
	}
	if a.MaxJudgments != nil && completed >= *a.MaxJudgments {
		return false
	}
	return true
}

type Author struct {
	ID       string
	Username string
}

type Item struct {
	ID           string
	AuthorID     string
	Username     string
	Content      string
	WebURL       string
	MediaFile    string
	PlayCount    int
	ShareCount   int
	CommentCount int
	Duration     int
	PostedAt     *time.Time
	CreatedAt    time.Time
}

type JudgmentEntry struct {
	ID             int64
	ItemID         string
	AnnotatorID    string
	Classification string
	Features       []string
	AssignedAt     time.Time
	CompletedAt    *time.Time
}

type EscalationRecord struct {
	ID        int64
	ItemID    string
	Resolved  bool
	CreatedAt time.Time
}

type Feature struct {
	ID    int
	Label string
}

// AnnotatorBreakdown is one row of the global panel.
type AnnotatorBreakdown struct {
	AnnotatorID string
	Email       string
	Completed   int
	ByLabel     map[string]int
}

// FinalClassification is one row of the finished-classification export:
// the surviving verdict for an item plus the features attached to it.
type FinalClassification struct {
	ItemID         string
	Classification string
	Features       []string
	Content        string
}
