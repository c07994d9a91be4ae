package knowledge

import (
	"strings"
	"testing"
)

func TestMerge(t *testing.T) {
	t.Run("drops nameless entities", func(t *testing.T) {
		got := Merge(nil, []Entity{{Name: "  "}, {Name: "Mei", Category: "character"}}, 0)
		if len(got) != 1 {
			t.Fatalf("expected 1 entity, got %d", len(got))
		}
		if got["Mei"].Category != "character" {
			t.Errorf("unexpected entity %+v", got["Mei"])
		}
	})

	t.Run("identical extraction is idempotent", func(t *testing.T) {
		batch := []Entity{{Name: "Mei", Category: "character", Context: "leaves home"}}
		once := Merge(nil, batch, 2)
		twice := Merge(once, batch, 2)
		if len(twice) != 1 {
			t.Fatalf("expected 1 entity, got %d", len(twice))
		}
		if twice["Mei"] != once["Mei"] {
			t.Errorf("second merge changed entity: %+v vs %+v", twice["Mei"], once["Mei"])
		}
	})

	t.Run("last write wins and identity is kept", func(t *testing.T) {
		m := Merge(nil, []Entity{{Name: "Mei", Category: "character", Context: "leaves home"}}, 1)
		m = Merge(m, []Entity{{Name: "Mei", Context: "reaches the capital"}}, 4)

		e := m["Mei"]
		if e.Context != "reaches the capital" {
			t.Errorf("Context = %q", e.Context)
		}
		if e.Category != "character" {
			t.Errorf("empty category should keep previous, got %q", e.Category)
		}
		if e.FirstSeen != 1 || e.LastSeen != 4 {
			t.Errorf("FirstSeen/LastSeen = %d/%d", e.FirstSeen, e.LastSeen)
		}
	})

	t.Run("late earlier chunk does not roll back", func(t *testing.T) {
		m := Merge(nil, []Entity{{Name: "Mei", Context: "chapter five"}}, 5)
		m = Merge(m, []Entity{{Name: "Mei", Context: "chapter three"}}, 3)
		if m["Mei"].Context != "chapter five" {
			t.Errorf("Context = %q", m["Mei"].Context)
		}
	})

	t.Run("inputs are not mutated", func(t *testing.T) {
		existing := Map{"Mei": {Name: "Mei", Context: "old", FirstSeen: 0, LastSeen: 0}}
		extracted := []Entity{{Name: " Mei ", Context: "new"}}
		out := Merge(existing, extracted, 1)

		if existing["Mei"].Context != "old" {
			t.Error("existing map was mutated")
		}
		if extracted[0].Name != " Mei " {
			t.Error("extracted slice was mutated")
		}
		if out["Mei"].Context != "new" {
			t.Error("merge result missing update")
		}
	})
}

func TestMap_Sorted(t *testing.T) {
	m := Map{
		"Zed":  {Name: "Zed", FirstSeen: 0, LastSeen: 1},
		"Anya": {Name: "Anya", FirstSeen: 2, LastSeen: 2},
		"Bo":   {Name: "Bo", FirstSeen: 0, LastSeen: 0},
	}
	got := m.Sorted()
	want := []string{"Bo", "Zed", "Anya"}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("Sorted()[%d] = %s, want %s", i, got[i].Name, name)
		}
	}
	if names := m.Names(2); names != "Anya, Zed" {
		t.Errorf("Names(2) = %q", names)
	}
	if f := m.Format(); !strings.HasPrefix(f, "- Bo") {
		t.Errorf("Format() = %q", f)
	}
}

func TestHistoricalContext(t *testing.T) {
	chunks := []Summarized{
		{Order: 6, Summary: "six"},
		{Order: 0, Summary: "zero"},
		{Order: 1, Summary: ""},
		{Order: 2, Summary: "two"},
		{Order: 3, Summary: "three"},
		{Order: 4, Summary: "four"},
		{Order: 5, Summary: "five"},
	}

	tests := []struct {
		name   string
		target int
		n      int
		want   string
	}{
		{"bounded to n most recent", 6, 3, "[Chunk 4] three\n\n[Chunk 5] four\n\n[Chunk 6] five"},
		{"skips empty summaries", 3, 5, "[Chunk 1] zero\n\n[Chunk 3] two"},
		{"nothing before first chunk", 0, 5, ""},
		{"zero n", 6, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HistoricalContext(chunks, tt.target, tt.n); got != tt.want {
				t.Errorf("HistoricalContext() = %q, want %q", got, tt.want)
			}
		})
	}
}
