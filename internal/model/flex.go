package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FlexStrings accepts the heterogeneous shapes upstream JSON uses for string
// lists: a plain array of strings, a single string, or an array of objects
// carrying a "name"/"id"/"slug" field. Unparseable entries are dropped and
// reported as warnings rather than failing the whole document.
type FlexStrings struct {
	Values   []string
	Warnings []string
}

// UnmarshalJSON implements the tolerant decode.
func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	f.Values = nil
	f.Warnings = nil

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		if v != "" {
			f.Values = []string{v}
		}
		return nil
	case []any:
		for i, item := range v {
			s, ok := flexEntryString(item)
			if !ok {
				f.Warnings = append(f.Warnings, fmt.Sprintf("entry %d: unsupported shape %T", i, item))
				continue
			}
			if s != "" {
				f.Values = append(f.Values, s)
			}
		}
		return nil
	default:
		f.Warnings = append(f.Warnings, fmt.Sprintf("unsupported shape %T", raw))
		return nil
	}
}

func flexEntryString(item any) (string, bool) {
	switch e := item.(type) {
	case string:
		return e, true
	case map[string]any:
		for _, key := range []string{"name", "id", "slug"} {
			if s, ok := e[key].(string); ok && s != "" {
				return s, true
			}
		}
		return "", false
	default:
		return "", false
	}
}

// ParseSlugConfidences decodes a JSON list of classified slugs permissively:
// entries may be `{slug, confidence, reasoning?}` objects or bare strings
// (treated as confidence 1.0, e.g. creator-declared slugs). Entries without
// a usable slug, or with confidence outside [0,1], are dropped with a
// warning.
func ParseSlugConfidences(data []byte) ([]SlugConfidence, []string) {
	if len(data) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, []string{fmt.Sprintf("not a JSON array: %v", err)}
	}

	var (
		out      []SlugConfidence
		warnings []string
	)
	for i, entry := range raw {
		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, SlugConfidence{Slug: s, Confidence: 1.0})
			}
			continue
		}

		var obj struct {
			Slug       string   `json:"slug"`
			Name       string   `json:"name"`
			Confidence *float64 `json:"confidence"`
			Reasoning  string   `json:"reasoning"`
		}
		if err := json.Unmarshal(entry, &obj); err != nil {
			warnings = append(warnings, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}

		slug := strings.TrimSpace(obj.Slug)
		if slug == "" {
			slug = strings.TrimSpace(obj.Name)
		}
		if slug == "" {
			warnings = append(warnings, fmt.Sprintf("entry %d: missing slug", i))
			continue
		}

		conf := 1.0
		if obj.Confidence != nil {
			conf = *obj.Confidence
		}
		if conf < 0 || conf > 1 {
			warnings = append(warnings, fmt.Sprintf("entry %d: confidence %v out of range", i, conf))
			continue
		}

		out = append(out, SlugConfidence{Slug: slug, Confidence: conf, Reasoning: obj.Reasoning})
	}

	return out, warnings
}
