package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResolveID normalizes every shape a user identity can take into a plain
// identifier. Identity comparisons go through here and nowhere else.
func ResolveID(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case Ref:
		if t.ID != "" {
			return strings.TrimSpace(t.ID)
		}
		if t.User != nil {
			return strings.TrimSpace(t.User.ID)
		}
		return ""
	case *Ref:
		if t == nil {
			return ""
		}
		return ResolveID(*t)
	case UserRef:
		return strings.TrimSpace(t.ID)
	case *UserRef:
		if t == nil {
			return ""
		}
		return strings.TrimSpace(t.ID)
	case map[string]any:
		if id, ok := t["id"]; ok {
			return ResolveID(id)
		}
		return ResolveID(t["_id"])
	case json.RawMessage:
		var r Ref
		if err := json.Unmarshal(t, &r); err != nil {
			return ""
		}
		return ResolveID(r)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return ""
	}
}

// SameUser reports whether a and b name the same non-empty identity.
func SameUser(a, b any) bool {
	ida := ResolveID(a)
	return ida != "" && ida == ResolveID(b)
}
