// Package knowledge accumulates the entities extracted from chunk analyses
// and builds the bounded context fed into later prompts.
package knowledge

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultHistoryChunks is how many prior summaries HistoricalContext keeps.
const DefaultHistoryChunks = 5

// Entity is a named element of the story.
type Entity struct {
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	Context   string `json:"context,omitempty"`
	FirstSeen int    `json:"first_seen"`
	LastSeen  int    `json:"last_seen"`
}

// Map is the accumulated knowledge keyed by entity name.
type Map map[string]Entity

// Merge folds entities extracted from chunk order into existing and returns
// a new map. Inputs are never modified. Nameless entities are dropped; a
// repeat extraction replaces category and context but keeps FirstSeen.
func Merge(existing Map, extracted []Entity, order int) Map {
	out := make(Map, len(existing)+len(extracted))
	for k, v := range existing {
		out[k] = v
	}
	for _, e := range extracted {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		merged := Entity{
			Name:      name,
			Category:  strings.TrimSpace(e.Category),
			Context:   strings.TrimSpace(e.Context),
			FirstSeen: order,
			LastSeen:  order,
		}
		if prev, ok := out[name]; ok {
			merged.FirstSeen = prev.FirstSeen
			if prev.LastSeen > order {
				// a late completion from an earlier chunk must not roll back newer context
				continue
			}
			if merged.Category == "" {
				merged.Category = prev.Category
			}
			if merged.Context == "" {
				merged.Context = prev.Context
			}
		}
		out[name] = merged
	}
	return out
}

// Sorted returns entities ordered by first appearance, then name.
func (m Map) Sorted() []Entity {
	out := make([]Entity, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen != out[j].FirstSeen {
			return out[i].FirstSeen < out[j].FirstSeen
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Names lists up to limit entity names, most recently seen first.
func (m Map) Names(limit int) string {
	all := m.Sorted()
	sort.SliceStable(all, func(i, j int) bool { return all[i].LastSeen > all[j].LastSeen })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	names := make([]string, len(all))
	for i, e := range all {
		names[i] = e.Name
	}
	return strings.Join(names, ", ")
}

// Format renders the map as a bullet list for report prompts.
func (m Map) Format() string {
	var b strings.Builder
	for _, e := range m.Sorted() {
		b.WriteString("- ")
		b.WriteString(e.Name)
		if e.Category != "" {
			fmt.Fprintf(&b, " (%s)", e.Category)
		}
		if e.Context != "" {
			b.WriteString(": ")
			b.WriteString(e.Context)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Summarized is the slice of a chunk that history building needs.
type Summarized struct {
	Order   int
	Summary string
}

// HistoricalContext picks the n most recent chunks before target that have a
// summary and joins them oldest first, each labelled with its 1-based
// position.
func HistoricalContext(chunks []Summarized, target, n int) string {
	if n <= 0 {
		return ""
	}
	eligible := make([]Summarized, 0, len(chunks))
	for _, c := range chunks {
		if c.Order < target && strings.TrimSpace(c.Summary) != "" {
			eligible = append(eligible, c)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Order < eligible[j].Order })
	if len(eligible) > n {
		eligible = eligible[len(eligible)-n:]
	}

	parts := make([]string, len(eligible))
	for i, c := range eligible {
		parts[i] = fmt.Sprintf("[Chunk %d] %s", c.Order+1, strings.TrimSpace(c.Summary))
	}
	return strings.Join(parts, "\n\n")
}
