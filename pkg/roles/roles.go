// Package roles maps message sources to capability roles and answers the
// two questions the tool executor asks before any dispatch: may this role
// call this tool, and may it touch this path.
package roles

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mama-os/mama/pkg/logger"
)

// RoleConfig describes one capability role. BlockedTools always wins over
// AllowedTools. An empty AllowedPaths list means the role carries no path
// restriction beyond its tool list.
type RoleConfig struct {
	Name            string   `json:"-"`
	AllowedTools    []string `json:"allowed_tools"`
	BlockedTools    []string `json:"blocked_tools"`
	AllowedPaths    []string `json:"allowed_paths"`
	SystemControl   bool     `json:"system_control"`
	SensitiveAccess bool     `json:"sensitive_access"`
	MaxTurns        int      `json:"max_turns,omitempty"`
	Model           string   `json:"model,omitempty"`
}

type snapshot struct {
	sourceRoles map[string]string
	roles       map[string]*RoleConfig
}

// Manager resolves sources to roles. Config is read-mostly; Reload swaps
// the whole snapshot atomically so readers never see a partial update.
type Manager struct {
	current  atomic.Pointer[snapshot]
	reloadMu sync.Mutex
	homeDir  string
}

// fallbackRole is returned for unmapped sources: no tools, no paths.
var fallbackRole = &RoleConfig{Name: "restricted"}

func NewManager(sourceRoles map[string]string, roleConfigs map[string]*RoleConfig) *Manager {
	home, _ := os.UserHomeDir()
	m := &Manager{homeDir: home}
	m.install(sourceRoles, roleConfigs)
	return m
}

// Reload atomically replaces the role configuration.
func (m *Manager) Reload(sourceRoles map[string]string, roleConfigs map[string]*RoleConfig) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	m.install(sourceRoles, roleConfigs)
	logger.InfoC("roles", "Role configuration reloaded")
}

func (m *Manager) install(sourceRoles map[string]string, roleConfigs map[string]*RoleConfig) {
	snap := &snapshot{
		sourceRoles: make(map[string]string, len(sourceRoles)),
		roles:       make(map[string]*RoleConfig, len(roleConfigs)),
	}
	for src, role := range sourceRoles {
		snap.sourceRoles[src] = role
	}
	for name, cfg := range roleConfigs {
		copied := *cfg
		copied.Name = name
		snap.roles[name] = &copied
	}
	m.current.Store(snap)
}

// RoleFor resolves the role bound to a message source. Unknown sources get
// the zero-permission fallback.
func (m *Manager) RoleFor(source string) *RoleConfig {
	snap := m.current.Load()
	roleName, ok := snap.sourceRoles[source]
	if !ok {
		logger.WarnCF("roles", "No role mapped for source", map[string]any{"source": source})
		return fallbackRole
	}
	role, ok := snap.roles[roleName]
	if !ok {
		logger.WarnCF("roles", "Source maps to undefined role", map[string]any{
			"source": source,
			"role":   roleName,
		})
		return fallbackRole
	}
	return role
}

// Role looks up a role by name.
func (m *Manager) Role(name string) (*RoleConfig, bool) {
	role, ok := m.current.Load().roles[name]
	return role, ok
}

// IsToolAllowed decides tool access for a role. Blocked entries win over
// allowed ones; allowed entries may be "*" or suffix globs like "mama_*".
func (m *Manager) IsToolAllowed(role *RoleConfig, toolName string) bool {
	if role == nil {
		return false
	}
	for _, blocked := range role.BlockedTools {
		if matchToolPattern(blocked, toolName) {
			return false
		}
	}
	for _, allowed := range role.AllowedTools {
		if matchToolPattern(allowed, toolName) {
			return true
		}
	}
	return false
}

func matchToolPattern(pattern, toolName string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(toolName, prefix)
	}
	return pattern == toolName
}

// IsPathAllowed decides whether a role may touch path. Patterns and the
// candidate are compared as absolute paths after ~ expansion.
func (m *Manager) IsPathAllowed(role *RoleConfig, path string) bool {
	if role == nil {
		return false
	}
	if len(role.AllowedPaths) == 0 {
		return true
	}

	candidate := m.expandPath(path)
	for _, pattern := range role.AllowedPaths {
		expanded := m.expandPath(pattern)
		if ok, err := doublestar.Match(expanded, candidate); err == nil && ok {
			return true
		}
		// A bare directory pattern covers its subtree.
		if strings.HasPrefix(candidate, strings.TrimSuffix(expanded, "/")+"/") {
			return true
		}
	}
	return false
}

func (m *Manager) expandPath(path string) string {
	if path == "~" {
		return m.homeDir
	}
	if strings.HasPrefix(path, "~/") {
		path = filepath.Join(m.homeDir, path[2:])
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
