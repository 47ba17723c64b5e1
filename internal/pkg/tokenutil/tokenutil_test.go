package tokenutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"你好世界你", 2},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Estimate(tt.in), tt.in)
	}
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abcdef", 3))
	require.Equal(t, "ab", Truncate("ab", 3))
	require.Equal(t, "你好", Truncate("你好世界", 2))
	require.Equal(t, "", Truncate("abc", 0))
}
