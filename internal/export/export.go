// Package export renders the final classification per item as a CSV
// download. An item is final once a pro has settled it or every annotator
// landed on the same label.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"labelpool/api/internal/store"
)

// Result is a rendered export ready to serve.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

type finalStore interface {
	FinalClassifications(ctx context.Context) ([]store.FinalClassification, error)
}

type Service struct {
	store finalStore
}

func NewService(store finalStore) *Service {
	return &Service{store: store}
}

// ClassificationsCSV renders one row per finally-classified item. Features
// are packed into a single semicolon-separated column so the file stays one
// row per item.
func (s *Service) ClassificationsCSV(ctx context.Context) (*Result, error) {
	finals, err := s.store.FinalClassifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("load final classifications: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"item_id", "classification", "features", "content"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, final := range finals {
		row := []string{
			final.ItemID,
			final.Classification,
			strings.Join(final.Features, ";"),
			final.Content,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: fmt.Sprintf("classifications-%s.csv", time.Now().UTC().Format("2006-01-02")),
		MimeType: "text/csv",
	}, nil
}
