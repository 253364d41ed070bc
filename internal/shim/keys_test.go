package shim

import "testing"

func TestTranslateCtrlKeyLowercase(t *testing.T) {
	cases := map[string]byte{"C-a": 0x01, "C-c": 0x03, "C-z": 0x1A}
	for in, want := range cases {
		got, ok := translateCtrlKey(in)
		if !ok || got != want {
			t.Errorf("translateCtrlKey(%q) = %v,%v want %v", in, got, ok, want)
		}
	}
}

func TestTranslateCtrlKeyUppercase(t *testing.T) {
	if got, ok := translateCtrlKey("C-A"); !ok || got != 0x01 {
		t.Errorf("C-A = %v,%v", got, ok)
	}
	if got, ok := translateCtrlKey("C-Z"); !ok || got != 0x1A {
		t.Errorf("C-Z = %v,%v", got, ok)
	}
}

func TestTranslateCtrlKeySpecial(t *testing.T) {
	cases := map[string]byte{"C-[": 0x1B, "C-]": 0x1D, "C-?": 0x7F}
	for in, want := range cases {
		got, ok := translateCtrlKey(in)
		if !ok || got != want {
			t.Errorf("translateCtrlKey(%q) = %v,%v want %v", in, got, ok, want)
		}
	}
}

func TestTranslateCtrlKeyInvalid(t *testing.T) {
	invalid := []string{"C-", "C-ab", "C-1", "X-a"}
	for _, in := range invalid {
		if _, ok := translateCtrlKey(in); ok {
			t.Errorf("translateCtrlKey(%q) should be invalid", in)
		}
	}
}

func TestTranslateKeys(t *testing.T) {
	cases := []struct {
		keys []string
		want string
	}{
		{[]string{"Enter"}, "\n"},
		{[]string{"Space"}, " "},
		{[]string{"Tab"}, "\t"},
		{[]string{"Escape"}, "\x1b"},
		{[]string{"BSpace"}, "\x7f"},
		{[]string{"C-m"}, "\n"},
		{[]string{"C-i"}, "\t"},
		{[]string{"hello"}, "hello"},
		{[]string{}, ""},
		{[]string{"echo", "Space", "hello", "Enter"}, "echo hello\n"},
		{[]string{"ls", "Space", "-la", "Space", "/tmp", "Enter"}, "ls -la /tmp\n"},
	}
	for _, c := range cases {
		if got := string(translateKeys(c.keys)); got != c.want {
			t.Errorf("translateKeys(%v) = %q, want %q", c.keys, got, c.want)
		}
	}
}
