package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mama-os/mama/pkg/roles"
)

func TestDefaultRoleMatrix(t *testing.T) {
	cfg := Default()
	rm := roles.NewManager(cfg.SourceRoles, cfg.Roles)

	tests := []struct {
		source string
		tool   string
		want   bool
	}{
		{"viewer", "shell", true},
		{"viewer", "mama_shutdown", true},
		{"discord", "read_file", true},
		{"discord", "mama_shutdown", false},
		{"slack", "write_file", false},
		{"telegram", "shell", true},
		{"cron", "send_message", true},
		{"cron", "mama_shutdown", false},
	}
	for _, tt := range tests {
		role := rm.RoleFor(tt.source)
		require.NotNil(t, role, "source %s has no role", tt.source)
		assert.Equal(t, tt.want, rm.IsToolAllowed(role, tt.tool),
			"%s / %s", tt.source, tt.tool)
	}
}

func TestDefaultSourceRolesResolve(t *testing.T) {
	cfg := Default()
	for source, roleName := range cfg.SourceRoles {
		_, ok := cfg.Roles[roleName]
		assert.True(t, ok, "source %s points at missing role %s", source, roleName)
	}
	require.NoError(t, cfg.Validate())
}
