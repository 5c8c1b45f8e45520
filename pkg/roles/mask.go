package roles

import "regexp"

// sensitiveKeyRe matches configuration keys whose values must never be
// exported to a role without sensitive_access: tokens, API keys, bot
// secrets and friends.
var sensitiveKeyRe = regexp.MustCompile(`(?i)(token|api[_-]?key|secret|password|credential|private[_-]?key)`)

const maskedValue = "********"

// MaskSensitive returns a copy of cfg with secret-keyed values replaced,
// recursing into nested maps. Roles with sensitive_access get the
// original back untouched.
func MaskSensitive(role *RoleConfig, cfg map[string]any) map[string]any {
	if role != nil && role.SensitiveAccess {
		return cfg
	}
	return maskMap(cfg)
}

func maskMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		switch v := value.(type) {
		case map[string]any:
			out[key] = maskMap(v)
		case string:
			if v != "" && sensitiveKeyRe.MatchString(key) {
				out[key] = maskedValue
			} else {
				out[key] = v
			}
		default:
			if sensitiveKeyRe.MatchString(key) {
				out[key] = maskedValue
			} else {
				out[key] = value
			}
		}
	}
	return out
}
