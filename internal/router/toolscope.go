package router

import (
	"strings"

	"github.com/cleoai/cleo/internal/protocol"
)

// ToolProfile is the coarse tool-availability tier an agent config selects
// (spec §4.4.3).
type ToolProfile string

const (
	ProfileMinimal ToolProfile = "minimal"
	ProfileCoding  ToolProfile = "coding"
	ProfileFull    ToolProfile = "full"
)

// ToolDescriptor is the minimal shape the scoping resolver needs to know
// about one registered tool.
type ToolDescriptor struct {
	Name     string
	Category protocol.ToolCategory
}

// profileBase lists which categories each profile starts with (spec
// §4.4.3). minimal gets read-only/local concerns; coding adds execution and
// automation; full adds everything else.
var profileBase = map[ToolProfile]map[protocol.ToolCategory]struct{}{
	ProfileMinimal: {
		protocol.ToolCategoryFS:     {},
		protocol.ToolCategoryMemory: {},
		protocol.ToolCategoryTask:   {},
	},
	ProfileCoding: {
		protocol.ToolCategoryFS:         {},
		protocol.ToolCategoryMemory:     {},
		protocol.ToolCategoryTask:       {},
		protocol.ToolCategoryAutomation: {},
		protocol.ToolCategorySkill:      {},
	},
	ProfileFull: {
		protocol.ToolCategoryFS:          {},
		protocol.ToolCategoryMemory:      {},
		protocol.ToolCategoryTask:        {},
		protocol.ToolCategoryAutomation:  {},
		protocol.ToolCategorySkill:       {},
		protocol.ToolCategoryWeb:         {},
		protocol.ToolCategoryMedia:       {},
		protocol.ToolCategoryBrowser:     {},
		protocol.ToolCategoryMessaging:   {},
		protocol.ToolCategoryA2ADelegate: {},
	},
}

// ResolveScope implements spec §4.4.3's resolution procedure: start from the
// profile's base category set, subtract deny, then union allow (deny always
// wins). allow/deny entries are either a literal tool name or "group:<cat>",
// which expands to every tool in that category from the full catalog.
func ResolveScope(profile ToolProfile, catalog []ToolDescriptor, allow, deny []string) []ToolDescriptor {
	base := profileBase[profile]
	if base == nil {
		base = profileBase[ProfileMinimal]
	}

	denyNames, denyGroups := splitNamesAndGroups(deny)
	allowNames, allowGroups := splitNamesAndGroups(allow)

	var out []ToolDescriptor
	seen := map[string]struct{}{}
	add := func(t ToolDescriptor) {
		if _, ok := seen[t.Name]; ok {
			return
		}
		seen[t.Name] = struct{}{}
		out = append(out, t)
	}

	for _, t := range catalog {
		if _, denied := denyNames[t.Name]; denied {
			continue
		}
		if _, denied := denyGroups[t.Category]; denied {
			continue
		}
		if _, inBase := base[t.Category]; inBase {
			add(t)
		}
	}

	for _, t := range catalog {
		if _, denied := denyNames[t.Name]; denied {
			continue
		}
		if _, denied := denyGroups[t.Category]; denied {
			continue
		}
		if _, wanted := allowNames[t.Name]; wanted {
			add(t)
			continue
		}
		if _, wanted := allowGroups[t.Category]; wanted {
			add(t)
		}
	}

	return out
}

// NarrowByHint further restricts scope to only the categories named in a
// SubTaskSpec's tool_hint (spec §4.4.3's last sentence).
func NarrowByHint(scope []ToolDescriptor, hint []protocol.ToolCategory) []ToolDescriptor {
	if len(hint) == 0 {
		return scope
	}
	wanted := map[protocol.ToolCategory]struct{}{}
	for _, c := range hint {
		wanted[c] = struct{}{}
	}
	var out []ToolDescriptor
	for _, t := range scope {
		if _, ok := wanted[t.Category]; ok {
			out = append(out, t)
		}
	}
	return out
}

func splitNamesAndGroups(entries []string) (names map[string]struct{}, groups map[protocol.ToolCategory]struct{}) {
	names = map[string]struct{}{}
	groups = map[protocol.ToolCategory]struct{}{}
	for _, e := range entries {
		if strings.HasPrefix(e, "group:") {
			groups[protocol.ToolCategory(strings.TrimPrefix(e, "group:"))] = struct{}{}
			continue
		}
		names[e] = struct{}{}
	}
	return names, groups
}
