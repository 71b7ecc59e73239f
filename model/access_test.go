package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aegis_errors "github.com/aegis-authz/aegis/errors"
)

func TestParsePermission(t *testing.T) {
	resource, action, err := ParsePermission("documents.update")
	require.NoError(t, err)
	assert.Equal(t, "documents", resource)
	assert.Equal(t, "update", action)

	resource, action, err = ParsePermission("documents:update")
	require.NoError(t, err)
	assert.Equal(t, "documents", resource)
	assert.Equal(t, "update", action)

	for _, bad := range []string{"", "documents", ".update", "documents.", ":update"} {
		_, _, err := ParsePermission(bad)
		assert.ErrorIs(t, err, aegis_errors.ErrInvalidPermissionName, bad)
	}
}

func TestFormatPermission(t *testing.T) {
	assert.Equal(t, "documents.update", FormatPermission("documents", "update"))
}

func TestIdentityHasScope(t *testing.T) {
	identity := Identity{Scopes: []string{"reports:read"}}
	assert.True(t, identity.HasScope("reports:read"))
	assert.False(t, identity.HasScope("reports:write"))
}
