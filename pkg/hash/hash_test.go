package hash

import "testing"

func TestParseValid(t *testing.T) {
	valid := "Qm" + "a2345678901234567890123456789012345678901234"
	if len(valid) != 46 {
		t.Fatalf("test fixture itself is wrong length: %d", len(valid))
	}
	h, err := Parse(valid)
	if err != nil {
		t.Fatalf("Parse(%q) returned error: %v", valid, err)
	}
	if !h.Valid() {
		t.Error("parsed hash reports itself invalid")
	}
	if h.String() != valid {
		t.Errorf("String() = %q, want %q", h.String(), valid)
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"",
		"Qm",
		"Qmtooshort",
		"zz" + "a2345678901234567890123456789012345678901234",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q) = nil error, want error", c)
		}
	}
}

func TestOfIsDeterministicAndValid(t *testing.T) {
	h1 := Of([]byte("hello"))
	h2 := Of([]byte("hello"))
	if h1 != h2 {
		t.Errorf("Of() not deterministic: %q != %q", h1, h2)
	}
	if !h1.Valid() {
		t.Errorf("Of() produced invalid hash: %q", h1)
	}

	h3 := Of([]byte("world"))
	if h1 == h3 {
		t.Error("Of() produced the same hash for different inputs")
	}
}
