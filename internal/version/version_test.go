package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	t.Parallel()
	got := String()
	for _, want := range []string{"kbqa", Version, Commit, BuildDate} {
		if !strings.Contains(got, want) {
			t.Errorf("String() = %q, missing %q", got, want)
		}
	}
	if !strings.HasPrefix(UserAgent(), "kbqa-go/") {
		t.Errorf("UserAgent() = %q", UserAgent())
	}
}
