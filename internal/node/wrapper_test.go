package node

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStripWrapper(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "labeled fence is always stripped",
			in:   "```markdown\n# Title\n```",
			want: "# Title",
		},
		{
			name: "labeled fence with surrounding whitespace",
			in:   "\n  ```md\nline one\nline two\n```  \n",
			want: "line one\nline two",
		},
		{
			name: "short plain fence is kept",
			in:   "```\nfmt.Println(1)\n```",
			want: "```\nfmt.Println(1)\n```",
		},
		{
			name: "plain fence at the threshold is kept",
			in:   "```\na\nb\nc\n```",
			want: "```\na\nb\nc\n```",
		},
		{
			name: "long plain fence is stripped",
			in:   "```\na\nb\nc\nd\n```",
			want: "a\nb\nc\nd",
		},
		{
			name: "nested fence is kept",
			in:   "```markdown\nsee\n```go\nx := 1\n```\n```",
			want: "```markdown\nsee\n```go\nx := 1\n```\n```",
		},
		{
			name: "no fence",
			in:   "plain answer",
			want: "plain answer",
		},
		{
			name: "fence only at start",
			in:   "```go\nx := 1",
			want: "```go\nx := 1",
		},
		{
			name: "single line fence",
			in:   "```inline```",
			want: "```inline```",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, StripWrapper(tt.in))
		})
	}
}

func TestWrapperRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.String().Filter(func(s string) bool {
			return !strings.Contains(s, "```")
		}).Draw(t, "x")
		if got := StripWrapper(EnsureWrapper(x)); got != x {
			t.Fatalf("round trip of %q gave %q", x, got)
		}
	})
}
