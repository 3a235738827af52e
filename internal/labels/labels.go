// Package labels defines the fixed classification vocabularies and the
// escalation trigger rules for each labeling domain.
package labels

// Unassigned is the sentinel classification of an open judgment entry.
const Unassigned = "N/A"

// Domain is a fixed label vocabulary plus the rules that route an item to
// pro review. Uncertain is the low-confidence sentinel; Triggers are the
// labels whose presence among prior judgments forces escalation.
type Domain struct {
	Name      string
	Labels    []string
	Uncertain string
	Triggers  map[string]struct{}
}

var Video = Domain{
	Name:      "video",
	Labels:    []string{"Hamas", "Fatah", "Unaffiliated", "Uncertain", "Irrelevant", "Broken"},
	Uncertain: "Uncertain",
	Triggers:  set("Uncertain", "Irrelevant", "Broken"),
}

var Tweet = Domain{
	Name:      "tweet",
	Labels:    []string{"Positive", "Negative", "Irrelevant", "Unknown"},
	Uncertain: "Unknown",
	Triggers:  set("Unknown", "Irrelevant"),
}

// ByName returns the domain for a config value, defaulting to Video.
func ByName(name string) Domain {
	if name == Tweet.Name {
		return Tweet
	}
	return Video
}

// Valid reports whether classification is a member of the domain's label set.
// The unassigned sentinel is not a valid submission value.
func (d Domain) Valid(classification string) bool {
	for _, label := range d.Labels {
		if label == classification {
			return true
		}
	}
	return false
}

// IsTrigger reports whether a label forces escalation when present among
// prior judgments for an item.
func (d Domain) IsTrigger(classification string) bool {
	_, ok := d.Triggers[classification]
	return ok
}

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}
