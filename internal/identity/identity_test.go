package identity

import "testing"

func TestParseValid(t *testing.T) {
	id, err := Parse("11155111:42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.ChainID != 11155111 || id.TokenID != "42" {
		t.Fatalf("unexpected parse result: %+v", id)
	}
	if id.String() != "11155111:42" {
		t.Fatalf("round trip mismatch: %s", id.String())
	}
}

func TestParseRejectsUnknownChain(t *testing.T) {
	if _, err := Parse("99999:1"); err == nil {
		t.Fatal("expected unknown chain error")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "11155111", "11155111:", ":1", "1:to ken", "abc:1"} {
		if _, err := Parse(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestPointIDDeterministic(t *testing.T) {
	a := PointID("11155111:1")
	b := PointID("11155111:1")
	if a != b {
		t.Fatalf("point id not deterministic: %s vs %s", a, b)
	}
	if a == PointID("11155111:2") {
		t.Fatal("distinct agents must not collide")
	}
}

func TestPointKey(t *testing.T) {
	if got := PointKey("11155111:7"); got != "11155111_7" {
		t.Fatalf("unexpected point key: %s", got)
	}
}

func TestNormalizeAddress(t *testing.T) {
	if got := NormalizeAddress(" 0xABcd "); got != "0xabcd" {
		t.Fatalf("unexpected normalization: %s", got)
	}
	got := NormalizeAddresses([]string{"0xAA", "", "0xBB"})
	if len(got) != 2 || got[0] != "0xaa" || got[1] != "0xbb" {
		t.Fatalf("unexpected list normalization: %v", got)
	}
}
