package vectorstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestPayloadHelpers(t *testing.T) {
	p := qdrant.NewValueMap(map[string]any{
		"name":       "translator",
		"reputation": int64(77),
		"score":      0.91,
		"active":     true,
		"skills":     []any{"nlp", "translation"},
	})

	if got := PayloadString(p, "name"); got != "translator" {
		t.Fatalf("string = %q", got)
	}
	if got := PayloadString(p, "missing"); got != "" {
		t.Fatalf("missing string must be empty, got %q", got)
	}
	if got := PayloadInt(p, "reputation"); got != 77 {
		t.Fatalf("int = %d", got)
	}
	if got := PayloadInt(p, "score"); got != 0 {
		t.Fatalf("double truncates to %d, want 0", got)
	}
	if got := PayloadFloat(p, "score"); got != 0.91 {
		t.Fatalf("float = %v", got)
	}
	if got := PayloadFloat(p, "reputation"); got != 77 {
		t.Fatalf("int promotes to float %v, want 77", got)
	}
	if !PayloadBool(p, "active") {
		t.Fatal("bool lost")
	}
	skills := PayloadStrings(p, "skills")
	if len(skills) != 2 || skills[0] != "nlp" {
		t.Fatalf("strings = %v", skills)
	}
	if PayloadStrings(p, "name") != nil {
		t.Fatal("non-list field must decode to nil")
	}
}

func TestChunkPoints(t *testing.T) {
	points := make([]*qdrant.PointStruct, 205)
	for i := range points {
		points[i] = &qdrant.PointStruct{}
	}

	chunks := chunkPoints(points, 100)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 100 || len(chunks[2]) != 5 {
		t.Fatalf("chunk sizes = %d, %d, %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if chunkPoints(nil, 100) != nil {
		t.Fatal("empty input must chunk to nil")
	}
}

func TestBuildPointDeterministicID(t *testing.T) {
	p1 := BuildPoint("11155111:42", []float32{0.1, 0.2}, map[string]any{"agent_id": "11155111:42"})
	p2 := BuildPoint("11155111:42", []float32{0.3, 0.4}, nil)

	id1 := p1.GetId().GetUuid()
	id2 := p2.GetId().GetUuid()
	if id1 == "" || id1 != id2 {
		t.Fatalf("point IDs must be deterministic per agent: %q vs %q", id1, id2)
	}
	if got := PayloadString(p1.GetPayload(), "agent_id"); got != "11155111:42" {
		t.Fatalf("payload agent_id = %q", got)
	}
}
