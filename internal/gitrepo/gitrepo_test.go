package gitrepo

import "testing"

func TestValidateBranchNameAccepts(t *testing.T) {
	for _, name := range []string{"feature/foo", "fix_bug-1", "a", "A1/b_2-c"} {
		if err := ValidateBranchName(name); err != nil {
			t.Errorf("expected %q to be valid, got %v", name, err)
		}
	}
}

func TestValidateBranchNameRejects(t *testing.T) {
	cases := []string{
		"",
		"-leading-dash",
		"/leading-slash",
		"trailing-slash/",
		"has..dotdot",
		"has space",
		"has$special",
	}
	for _, name := range cases {
		if err := ValidateBranchName(name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestValidateBranchNameLengthLimit(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidateBranchName(string(long)); err == nil {
		t.Fatal("expected branch name over 255 chars to be rejected")
	}
}

func TestWorktreePathCurrentBranchKeepsBareName(t *testing.T) {
	got := WorktreePath("/base", "myproj", "main", true)
	want := "/base/myproj/main"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWorktreePathOtherBranchGetsPrefix(t *testing.T) {
	got := WorktreePath("/base", "myproj", "feature/x", false)
	want := "/base/myproj/kild_feature_x"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
