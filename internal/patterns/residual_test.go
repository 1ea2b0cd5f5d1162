package patterns

import "testing"

func TestResidual(t *testing.T) {
	table := Default()
	cases := map[string]string{
		"check order-ctrl":                  "order-ctrl",
		"how is order ctrl doing today?":    "order ctrl",
		"any errors in payment-api last 2h": "payment-api",
		"what about last week":              "",
		"help":                              "",
	}
	for text, want := range cases {
		if got := table.Residual(text); got != want {
			t.Errorf("%q: got %q, want %q", text, got, want)
		}
	}
}

func TestResidualPhraseKeepsServiceNouns(t *testing.T) {
	table := Default()
	cases := map[string]string{
		"how is order service doing": "order service",
		"check payment-api":          "payment-api",
		"is that service ok":         "",
		"what about the error rate":  "rate",
		"problems with billing app?": "billing app",
	}
	for text, want := range cases {
		if got := table.ResidualPhrase(text); got != want {
			t.Errorf("%q: got %q, want %q", text, got, want)
		}
	}
	if got := table.Residual("how is order service doing"); got != "order" {
		t.Errorf("Residual should drop service nouns, got %q", got)
	}
}

func TestOrdinal(t *testing.T) {
	cases := []struct {
		text  string
		index int
		ok    bool
	}{
		{"the first one", 0, true},
		{"2nd", 1, true},
		{"the last one please", OrdinalLast, true},
		{"that one", 0, true},
		{"#3", 2, true},
		{"2", 1, true},
		{"check checkout for the last 2 hours", 0, false},
		{"0", 0, false},
	}
	for _, tc := range cases {
		index, ok := Ordinal(tc.text)
		if ok != tc.ok || (ok && index != tc.index) {
			t.Errorf("%q: got (%d, %v), want (%d, %v)", tc.text, index, ok, tc.index, tc.ok)
		}
	}
}
