package model

import (
	"encoding/json"
	"testing"
)

func TestFlexStringsArrayOfStrings(t *testing.T) {
	var f FlexStrings
	if err := json.Unmarshal([]byte(`["a","b",""]`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f.Values) != 2 || f.Values[0] != "a" || f.Values[1] != "b" {
		t.Fatalf("unexpected values: %v", f.Values)
	}
	if len(f.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", f.Warnings)
	}
}

func TestFlexStringsArrayOfObjects(t *testing.T) {
	var f FlexStrings
	if err := json.Unmarshal([]byte(`[{"name":"search"},{"id":"translate"},{"bogus":1}]`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f.Values) != 2 || f.Values[0] != "search" || f.Values[1] != "translate" {
		t.Fatalf("unexpected values: %v", f.Values)
	}
	if len(f.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", f.Warnings)
	}
}

func TestFlexStringsSingleString(t *testing.T) {
	var f FlexStrings
	if err := json.Unmarshal([]byte(`"solo"`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f.Values) != 1 || f.Values[0] != "solo" {
		t.Fatalf("unexpected values: %v", f.Values)
	}
}

func TestParseSlugConfidencesMixed(t *testing.T) {
	data := []byte(`[{"slug":"nlp","confidence":0.9,"reasoning":"text"},"vision",{"confidence":0.5},{"slug":"bad","confidence":1.5}]`)
	out, warnings := ParseSlugConfidences(data)
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %v", out)
	}
	if out[0].Slug != "nlp" || out[0].Confidence != 0.9 {
		t.Fatalf("unexpected first entry: %+v", out[0])
	}
	if out[1].Slug != "vision" || out[1].Confidence != 1.0 {
		t.Fatalf("bare string should default to confidence 1.0: %+v", out[1])
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", warnings)
	}
}

func TestConfidentSlugsThreshold(t *testing.T) {
	entries := []SlugConfidence{
		{Slug: "a", Confidence: 0.7},
		{Slug: "b", Confidence: 0.69},
		{Slug: "c", Confidence: 1.0},
	}
	got := ConfidentSlugs(entries)
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("threshold filter wrong: %v", got)
	}
}

func TestBucket(t *testing.T) {
	cases := map[int]string{0: "low", 33: "low", 34: "medium", 66: "medium", 67: "high", 100: "high"}
	for score, want := range cases {
		if got := Bucket(score); got != want {
			t.Errorf("Bucket(%d) = %s, want %s", score, got, want)
		}
	}
}
