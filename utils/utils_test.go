package utils

import (
	"github.com/stretchr/testify/require"
	"testing"
)

func TestEllipsize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{
			name:     "String shorter than limit",
			input:    "Hello world",
			limit:    20,
			expected: "Hello world",
		},
		{
			name:     "String equal to limit",
			input:    "Hello world",
			limit:    11,
			expected: "Hello world",
		},
		{
			name:     "String longer than limit",
			input:    "This is a long string that needs to be shortened",
			limit:    20,
			expected: "This is a long st...",
		},
		{
			name:     "String exactly three characters, i.e. same as ellipsis length",
			input:    "abc",
			limit:    3,
			expected: "abc",
		},
		{
			name:     "Limit is smaller than ellipsis length",
			input:    "This is a long string",
			limit:    2,
			expected: "...",
		},
		{
			name:     "UTF-8 string with emojis",
			input:    "🙂🙃😀😃😄😁😆😅",
			limit:    5,
			expected: "🙂🙃...",
		},
		{
			name:     "UTF-8 string with combining characters",
			input:    "café", // 5 Unicode code points
			limit:    4,
			expected: "c...",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Ellipsize(test.input, test.limit)
			require.Equal(t, test.expected, result)
		})
	}
}

func TestChanFromSlice(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		ch := ChanFromSlice[int](nil)
		require.NotNil(t, ch)
		requireClosedEmpty(t, ch)
	})

	t.Run("Empty", func(t *testing.T) {
		ch := ChanFromSlice([]int{})
		require.NotNil(t, ch)
		requireClosedEmpty(t, ch)
	})

	t.Run("NonEmpty", func(t *testing.T) {
		ch := ChanFromSlice([]int{42, 23, 1337})
		require.NotNil(t, ch)
		requireReceive(t, ch, 42)
		requireReceive(t, ch, 23)
		requireReceive(t, ch, 1337)
		requireClosedEmpty(t, ch)
	})
}

// requireReceive is a helper function to check if a value can immediately be received from a channel.
func requireReceive(t *testing.T, ch <-chan int, expected int) {
	t.Helper()

	select {
	case v, ok := <-ch:
		require.True(t, ok, "receiving should return a value")
		require.Equal(t, expected, v)
	default:
		require.Fail(t, "receiving should not block")
	}
}

// requireClosedEmpty is a helper function to check if the channel is closed and empty.
func requireClosedEmpty(t *testing.T, ch <-chan int) {
	t.Helper()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "receiving from channel should not return anything")
	default:
		require.Fail(t, "receiving should not block")
	}
}
