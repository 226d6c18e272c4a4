package hash

import "testing"

func TestEmbedHashStableUnderReordering(t *testing.T) {
	a := EmbedInput{
		Name:        "Translator",
		Description: "Translates text",
		MCPTools:    []string{"translate", "detect", "translate"},
		A2ASkills:   []string{"b", "a"},
		InputModes:  []string{"text"},
	}
	b := EmbedInput{
		Name:        "Translator",
		Description: "Translates text",
		MCPTools:    []string{"detect", "translate"},
		A2ASkills:   []string{"a", "b"},
		InputModes:  []string{"text"},
	}

	ha, err := EmbedHash(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := EmbedHash(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if ha != hb {
		t.Fatalf("reordered/deduped sets must hash identically: %s vs %s", ha, hb)
	}
}

func TestEmbedHashChangesWithContent(t *testing.T) {
	base := EmbedInput{Name: "A", Description: "d"}
	changed := EmbedInput{Name: "A", Description: "d2"}

	h1, _ := EmbedHash(base)
	h2, _ := EmbedHash(changed)
	if h1 == h2 {
		t.Fatal("description change must change embed hash")
	}
}

func TestContentHashLowercasesOwner(t *testing.T) {
	h1, _ := ContentHash(ContentInput{AgentID: "1:1", Owner: "0xAB"})
	h2, _ := ContentHash(ContentInput{AgentID: "1:1", Owner: "0xab"})
	if h1 != h2 {
		t.Fatal("owner casing must not affect content hash")
	}

	h3, _ := ContentHash(ContentInput{AgentID: "1:1", Owner: "0xbb"})
	if h1 == h3 {
		t.Fatal("distinct owners must hash differently")
	}
}

func TestContentHashNilVsEmptySets(t *testing.T) {
	h1, _ := ContentHash(ContentInput{AgentID: "1:1", Skills: nil})
	h2, _ := ContentHash(ContentInput{AgentID: "1:1", Skills: []string{}})
	if h1 != h2 {
		t.Fatal("nil and empty skill sets must hash identically")
	}
}
