package process

import "testing"

func TestNameMatchesExact(t *testing.T) {
	if !NameMatches("claude", "claude") {
		t.Fatal("expected exact match")
	}
}

func TestNameMatchesBaseName(t *testing.T) {
	if !NameMatches("/usr/local/bin/claude", "claude") {
		t.Fatal("expected base-name match")
	}
}

func TestNameMatchesPrefixRequiresFiveChars(t *testing.T) {
	if NameMatches("sh", "bash") {
		t.Fatal("sh must never match bash")
	}
	if !NameMatches("claud", "claude-cli") {
		t.Fatal("expected prefix match when both base names are >= 5 chars")
	}
}

func TestNameMatchesUnrelated(t *testing.T) {
	if NameMatches("python3", "node") {
		t.Fatal("unrelated names must not match")
	}
}

func TestFindByNameEmptyPatternNeverMatches(t *testing.T) {
	got, err := FindByName("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no matches for empty pattern, got %v", got)
	}
}
