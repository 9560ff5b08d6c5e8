package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_HashesUserIDAndRedactsSecrets(t *testing.T) {
	log, logs := NewObserved()

	log.Info("turn", "user_id", "+971500000000", "api_key", "k-123", "client", "acme")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()

	uid, ok := fields["user_id"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(uid, "h:"))
	assert.NotContains(t, uid, "971500000000")
	assert.Equal(t, "[REDACTED]", fields["api_key"])
	assert.Equal(t, "acme", fields["client"])
}

func TestLogger_WithKeepsSanitizing(t *testing.T) {
	log, logs := NewObserved()
	log.With("user_id", "abc").Warn("x")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, hashValue("abc"), logs.All()[0].ContextMap()["user_id"])
}
