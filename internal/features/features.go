// Package features loads the fixed tag vocabulary annotators may attach to
// a judgment. The vocabulary is static reference data, read once at startup.
package features

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Vocabulary is the loaded feature set, order-preserving.
type Vocabulary struct {
	labels []string
	index  map[string]struct{}
}

type fileFormat struct {
	Features []string `yaml:"features"`
}

// Load reads the vocabulary from a YAML file. Blank entries are skipped,
// duplicates are an error.
func Load(path string) (*Vocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read features file: %w", err)
	}
	return Parse(raw)
}

// Parse builds a Vocabulary from YAML bytes.
func Parse(raw []byte) (*Vocabulary, error) {
	var parsed fileFormat
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse features file: %w", err)
	}

	vocab := &Vocabulary{index: make(map[string]struct{})}
	for _, label := range parsed.Features {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if _, dup := vocab.index[label]; dup {
			return nil, fmt.Errorf("duplicate feature %q", label)
		}
		vocab.labels = append(vocab.labels, label)
		vocab.index[label] = struct{}{}
	}
	return vocab, nil
}

// Labels returns the vocabulary in file order.
func (v *Vocabulary) Labels() []string {
	out := make([]string, len(v.labels))
	copy(out, v.labels)
	return out
}

// Has reports whether label is part of the vocabulary.
func (v *Vocabulary) Has(label string) bool {
	_, ok := v.index[label]
	return ok
}

// Validate checks that every submitted feature is in the vocabulary and
// returns the first unknown one.
func (v *Vocabulary) Validate(submitted []string) (string, bool) {
	for _, label := range submitted {
		if !v.Has(label) {
			return label, false
		}
	}
	return "", true
}
