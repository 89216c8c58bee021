// File: cmd/run_test.go
package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProxyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxies.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadProxyList(t *testing.T) {
	path := writeProxyFile(t, `
# pool A
10.0.0.1:8080:user:pass

10.0.0.2:8080:user:pass
  10.0.0.3:8080:user:pass
`)

	proxies, err := loadProxyList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"10.0.0.1:8080:user:pass",
		"10.0.0.2:8080:user:pass",
		"10.0.0.3:8080:user:pass",
	}, proxies)
}

func TestLoadProxyListKeepsMalformedLines(t *testing.T) {
	// Format validation is deliberately deferred to the per-attempt parser.
	path := writeProxyFile(t, "not-a-proxy\n10.0.0.1:8080:user:pass\n")

	proxies, err := loadProxyList(path)
	require.NoError(t, err)
	assert.Len(t, proxies, 2)
}

func TestLoadProxyListMissingPath(t *testing.T) {
	_, err := loadProxyList("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy_file")

	_, err = loadProxyList(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open proxy file")
}
