// File: internal/identity/proxypool/pool_test.go
package proxypool

import (
	"strconv"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignDeterministicRotation(t *testing.T) {
	proxies := []string{"p0", "p1", "p2", "p3"}

	// Attempt k of task 5 must land on proxies[(5+k-1) mod 4].
	for attempt := 1; attempt <= 9; attempt++ {
		want := proxies[(5+attempt-1)%len(proxies)]
		got := Assign(proxies, 5, attempt)
		assert.Equal(t, want, got, "attempt %d", attempt)
	}

	// Distinct tasks start at distinct offsets on attempt 1.
	assert.Equal(t, "p1", Assign(proxies, 1, 1))
	assert.Equal(t, "p2", Assign(proxies, 2, 1))
	assert.Equal(t, "p1", Assign(proxies, 5, 1))
}

func TestAssignIsStable(t *testing.T) {
	proxies := []string{"a", "b", "c"}
	first := Assign(proxies, 7, 3)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Assign(proxies, 7, 3))
	}
}

func TestAssignEmptyList(t *testing.T) {
	assert.Equal(t, "", Assign(nil, 1, 1))
	assert.Equal(t, "", Assign([]string{}, 3, 2))
}

func TestParseValid(t *testing.T) {
	c, err := Parse("203.0.113.9:8080:user:secret")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", c.Host)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "user", c.Username)
	assert.Equal(t, "secret", c.Password)
}

func TestParseTrimsWhitespace(t *testing.T) {
	c, err := Parse("  203.0.113.9:8080:user:secret\n")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", c.Host)
}

func TestParseRejectsMalformedLines(t *testing.T) {
	cases := []string{
		"badstring",
		"host:8080:user",
		"host:8080:user:pass:extra",
		":8080:user:pass",
		"host::user:pass",
		"host:notaport:user:pass",
		"",
	}
	for _, raw := range cases {
		c, err := Parse(raw)
		assert.Nil(t, c, "input %q", raw)
		require.Error(t, err, "input %q", raw)
		assert.ErrorIs(t, err, ErrInvalidFormat, "input %q", raw)
	}
}

func TestParseAllowsEmptyCredentials(t *testing.T) {
	// Unauthenticated proxies come through as host:port:: lines.
	c, err := Parse("203.0.113.9:3128::")
	require.NoError(t, err)
	assert.Empty(t, c.Username)
	assert.Empty(t, c.Password)
}

// FuzzParse asserts Parse never panics and that every accepted line really
// has the four-field shape with a numeric port.
func FuzzParse(f *testing.F) {
	f.Add([]byte("203.0.113.9:8080:user:secret"))
	f.Add([]byte("badstring"))
	f.Add([]byte("::::"))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		raw, err := consumer.GetString()
		if err != nil {
			return
		}

		c, err := Parse(raw)
		if err != nil {
			assert.ErrorIs(t, err, ErrInvalidFormat)
			return
		}
		require.NotNil(t, c)
		assert.NotEmpty(t, c.Host)
		_, convErr := strconv.Atoi(c.Port)
		assert.NoError(t, convErr)
		assert.Len(t, strings.Split(strings.TrimSpace(raw), ":"), 4)
	})
}
