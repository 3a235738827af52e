// Package importer loads item batches into the store: video metadata dumps
// as JSON and tweet rows as JSON or CSV. Tweets pass through the content
// filter on the way in; a later cleanup pass applies the same filter to
// whatever is already stored.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"labelpool/api/internal/content"
	"labelpool/api/internal/store"
)

type itemStore interface {
	InsertAuthor(ctx context.Context, author store.Author) error
	InsertItem(ctx context.Context, item store.Item) (bool, error)
	ListItems(ctx context.Context) ([]store.Item, error)
	DeleteItemIfUnjudged(ctx context.Context, id string) (bool, error)
}

// VideoRecord is one entry of a video metadata dump.
type VideoRecord struct {
	ID           string     `json:"id"`
	AuthorID     string     `json:"authorId"`
	Username     string     `json:"username"`
	Description  string     `json:"description"`
	WebURL       string     `json:"webUrl"`
	MediaFile    string     `json:"mediaFile"`
	PlayCount    int        `json:"playCount"`
	ShareCount   int        `json:"shareCount"`
	CommentCount int        `json:"commentCount"`
	Duration     int        `json:"duration"`
	PostedAt     *time.Time `json:"postedAt"`
}

// TweetRecord is one tweet row, from JSON or CSV.
type TweetRecord struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Text     string `json:"text"`
	WebURL   string `json:"webUrl"`
}

// Report summarizes one import or cleanup run.
type Report struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Filtered   int `json:"filtered"`
	Removed    int `json:"removed"`
}

type Importer struct {
	store itemStore
}

func New(store itemStore) *Importer {
	return &Importer{store: store}
}

// ImportVideos inserts video items. Video descriptions are stored verbatim;
// the text quality filter only applies to tweets.
func (im *Importer) ImportVideos(ctx context.Context, records []VideoRecord) (Report, error) {
	var report Report
	for _, rec := range records {
		if rec.ID == "" {
			report.Filtered++
			continue
		}
		if rec.AuthorID != "" {
			author := store.Author{ID: rec.AuthorID, Username: rec.Username}
			if err := im.store.InsertAuthor(ctx, author); err != nil {
				return report, fmt.Errorf("import author %s: %w", rec.AuthorID, err)
			}
		}
		inserted, err := im.store.InsertItem(ctx, store.Item{
			ID:           rec.ID,
			AuthorID:     rec.AuthorID,
			Content:      rec.Description,
			WebURL:       rec.WebURL,
			MediaFile:    rec.MediaFile,
			PlayCount:    rec.PlayCount,
			ShareCount:   rec.ShareCount,
			CommentCount: rec.CommentCount,
			Duration:     rec.Duration,
			PostedAt:     rec.PostedAt,
		})
		if err != nil {
			return report, fmt.Errorf("import video %s: %w", rec.ID, err)
		}
		if inserted {
			report.Inserted++
		} else {
			report.Duplicates++
		}
	}
	return report, nil
}

// ImportTweets cleans each tweet's text and inserts the survivors. Tweets
// that come out of the filter empty are counted, not stored.
func (im *Importer) ImportTweets(ctx context.Context, records []TweetRecord) (Report, error) {
	var report Report
	for _, rec := range records {
		if rec.ID == "" {
			report.Filtered++
			continue
		}
		cleaned := content.Clean(rec.Text)
		if cleaned == "" {
			report.Filtered++
			continue
		}
		if rec.Username != "" {
			author := store.Author{ID: rec.Username, Username: rec.Username}
			if err := im.store.InsertAuthor(ctx, author); err != nil {
				return report, fmt.Errorf("import author %s: %w", rec.Username, err)
			}
		}
		inserted, err := im.store.InsertItem(ctx, store.Item{
			ID:       rec.ID,
			AuthorID: rec.Username,
			Content:  cleaned,
			WebURL:   rec.WebURL,
		})
		if err != nil {
			return report, fmt.Errorf("import tweet %s: %w", rec.ID, err)
		}
		if inserted {
			report.Inserted++
		} else {
			report.Duplicates++
		}
	}
	return report, nil
}

// Cleanup re-runs the content filter over every stored item and deletes the
// ones that fail it, provided no judgments reference them.
func (im *Importer) Cleanup(ctx context.Context) (Report, error) {
	var report Report
	items, err := im.store.ListItems(ctx)
	if err != nil {
		return report, err
	}
	for _, item := range items {
		if content.Acceptable(item.Content) {
			continue
		}
		report.Filtered++
		deleted, err := im.store.DeleteItemIfUnjudged(ctx, item.ID)
		if err != nil {
			return report, fmt.Errorf("cleanup item %s: %w", item.ID, err)
		}
		if deleted {
			report.Removed++
		}
	}
	return report, nil
}

// ParseTweetCSV reads tweet rows from CSV. The header row names the columns;
// id and text are required, username and webUrl optional.
func ParseTweetCSV(r io.Reader) ([]TweetRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	idCol, ok := index["id"]
	if !ok {
		return nil, fmt.Errorf("csv header missing id column")
	}
	textCol, ok := index["text"]
	if !ok {
		return nil, fmt.Errorf("csv header missing text column")
	}

	field := func(row []string, col int, ok bool) string {
		if !ok || col >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[col])
	}

	userCol, hasUser := index["username"]
	urlCol, hasURL := index["weburl"]

	var records []TweetRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		records = append(records, TweetRecord{
			ID:       field(row, idCol, true),
			Text:     field(row, textCol, true),
			Username: field(row, userCol, hasUser),
			WebURL:   field(row, urlCol, hasURL),
		})
	}
	return records, nil
}
