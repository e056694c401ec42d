package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeForLog(t *testing.T) {
	require.Equal(t, "", SanitizeForLog(""))
	require.Equal(t, "org/model", SanitizeForLog("org/model"))
	require.Equal(t, `line\nbreak`, SanitizeForLog("line\nbreak"))
	require.Equal(t, `tab\there`, SanitizeForLog("tab\there"))
	require.Equal(t, `return\r`, SanitizeForLog("return\r"))
	require.Equal(t, `back\\slash`, SanitizeForLog(`back\slash`))
	require.Equal(t, "bell?", SanitizeForLog("bell\x07"))
}

func TestSanitizeForLogTruncates(t *testing.T) {
	sanitized := SanitizeForLog(strings.Repeat("a", 200))
	require.True(t, strings.HasSuffix(sanitized, "...[truncated]"))
	require.Len(t, sanitized, 128+len("...[truncated]"))
}
