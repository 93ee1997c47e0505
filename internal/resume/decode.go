package resume

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Contact keys also accept the icon-named aliases produced by the generator prompt.
var contactAliases = map[string][]string{
	"email":    {"email", "envelope"},
	"phone":    {"phone"},
	"location": {"location", "map-marker-alt"},
	"linkedin": {"linkedin"},
}

// FromMap decodes a loosely shaped data document. Missing or mistyped fields become zero values.
func FromMap(data map[string]any) Payload {
	var p Payload

	profile := mapField(data, "profile")
	p.Profile.Name = stringField(profile, "name")
	p.Profile.Title = stringField(profile, "title")
	contacts := mapField(profile, "contacts")
	p.Profile.Contacts = Contacts{
		Email:    aliasField(contacts, "email"),
		Phone:    aliasField(contacts, "phone"),
		Location: aliasField(contacts, "location"),
		LinkedIn: aliasField(contacts, "linkedin"),
	}

	p.Summary = stringField(data, "summary")

	for _, raw := range sliceField(data, "experience") {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		p.Experience = append(p.Experience, Experience{
			Company: stringField(entry, "company"),
			Role:    stringField(entry, "role"),
			Start:   stringField(entry, "start"),
			End:     stringField(entry, "end"),
			Bullets: stringSlice(sliceField(entry, "bullets")),
		})
	}

	for _, raw := range sliceField(data, "education") {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		p.Education = append(p.Education, Education{
			School: stringField(entry, "school"),
			Degree: stringField(entry, "degree"),
			Year:   stringField(entry, "year"),
		})
	}

	for _, raw := range sliceField(mapField(data, "skills"), "groups") {
		group, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		p.Skills.Groups = append(p.Skills.Groups, SkillGroup{
			Label: stringField(group, "label"),
			Items: stringSlice(sliceField(group, "items")),
		})
	}

	return p
}

// Decode parses raw JSON into a generic document.
func Decode(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode resume data: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// Normalize returns a copy of data with nulls removed and every well-known
// section present, so templates can walk the structure without nil checks.
// Unknown keys are kept.
func Normalize(data map[string]any) map[string]any {
	out, _ := prune(data).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}

	profile := ensureMap(out, "profile")
	ensureString(profile, "name")
	ensureString(profile, "title")
	contacts := ensureMap(profile, "contacts")
	for key := range contactAliases {
		if _, ok := contacts[key]; !ok {
			contacts[key] = aliasField(contacts, key)
		}
	}

	ensureString(out, "summary")

	for _, entry := range ensureObjects(out, "experience") {
		for _, key := range []string{"company", "role", "start", "end"} {
			ensureString(entry, key)
		}
		ensureSlice(entry, "bullets")
	}

	for _, entry := range ensureObjects(out, "education") {
		for _, key := range []string{"school", "degree", "year"} {
			ensureString(entry, key)
		}
	}

	skills := ensureMap(out, "skills")
	for _, group := range ensureObjects(skills, "groups") {
		ensureString(group, "label")
		ensureSlice(group, "items")
	}

	return out
}

func prune(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			if item == nil {
				continue
			}
			out[key] = prune(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, prune(item))
		}
		return out
	default:
		return v
	}
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if m, ok := parent[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	parent[key] = m
	return m
}

func ensureSlice(parent map[string]any, key string) []any {
	if s, ok := parent[key].([]any); ok {
		return s
	}
	s := []any{}
	parent[key] = s
	return s
}

// ensureObjects keeps only the object entries of parent[key], matching what FromMap reads.
func ensureObjects(parent map[string]any, key string) []map[string]any {
	raw := ensureSlice(parent, key)
	kept := make([]any, 0, len(raw))
	entries := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if entry, ok := item.(map[string]any); ok {
			kept = append(kept, entry)
			entries = append(entries, entry)
		}
	}
	parent[key] = kept
	return entries
}

func ensureString(parent map[string]any, key string) {
	if _, ok := parent[key]; !ok {
		parent[key] = ""
	}
}

func mapField(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return nil
	}
	m, _ := parent[key].(map[string]any)
	return m
}

func sliceField(parent map[string]any, key string) []any {
	if parent == nil {
		return nil
	}
	s, _ := parent[key].([]any)
	return s
}

func aliasField(contacts map[string]any, key string) string {
	for _, alias := range contactAliases[key] {
		if v := stringField(contacts, alias); v != "" {
			return v
		}
	}
	return ""
}

func stringField(parent map[string]any, key string) string {
	if parent == nil {
		return ""
	}
	return toString(parent[key])
}

func stringSlice(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := toString(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case json.Number:
		return value.String()
	case bool:
		return strconv.FormatBool(value)
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}
