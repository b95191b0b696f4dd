package version

import (
	"strings"
	"testing"
)

func TestFullPrefersInjectedCommit(t *testing.T) {
	orig := Commit
	t.Cleanup(func() { Commit = orig })

	Commit = "abc1234"
	if got := Full(); got != "certgen "+Version+" (abc1234)" {
		t.Fatalf("unexpected version string: %s", got)
	}
}

func TestUserAgent(t *testing.T) {
	if ua := UserAgent(); !strings.HasPrefix(ua, "certgen/") {
		t.Fatalf("unexpected user agent: %s", ua)
	}
}
