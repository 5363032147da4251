package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/docscan/constants"
)

var entityKinds = []string{"people", "organizations", "dates", "amounts", "addresses", "references"}

var allowedKeys = map[string]struct{}{
	"category": {}, "category_confidence": {}, "summary": {}, "tags": {},
	"entities": {}, "document_date": {}, "key_points": {},
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", "2006.01.02", "2006-1-2", "2006/1/2", "2006年1月2日", time.RFC3339}

// ExtractJSON returns the first top-level JSON object in s, dropping markdown fences
// and any chatter around it.
func ExtractJSON(s []byte) []byte {
	s = bytes.TrimSpace(s)
	start := bytes.IndexByte(s, '{')
	end := bytes.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// NormalizeAndSanitizeJSON
// - Renames camelCase synonyms to the schema keys
// - Maps the category onto the taxonomy
// - Coerces list fields and entities into string arrays
// - Normalizes document_date to YYYY-MM-DD or null
// - Removes unknown keys
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(ExtractJSON(raw), &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->"+to)
		}
	}
	renamed("categoryConfidence", "category_confidence")
	renamed("documentDate", "document_date")
	renamed("date", "document_date")
	renamed("keyPoints", "key_points")

	if v, ok := m["category"].(string); ok {
		if s := strings.TrimSpace(v); s != "" {
			cat, _ := constants.Canonicalize(s)
			m["category"] = string(cat)
		}
	}

	switch v := m["category_confidence"].(type) {
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(v, "%")), 64); err == nil {
			m["category_confidence"] = clampConfidence(f)
		}
	case float64:
		m["category_confidence"] = clampConfidence(v)
	}

	if v, ok := m["summary"]; ok && v == nil {
		m["summary"] = ""
	}
	for _, k := range []string{"tags", "key_points"} {
		if v, ok := m[k]; ok {
			m[k] = toStringList(v)
		}
	}

	if v, ok := m["entities"]; ok {
		ents := map[string]any{}
		src, _ := v.(map[string]any)
		for _, k := range entityKinds {
			ents[k] = toStringList(src[k])
		}
		for k := range src {
			if _, ok := ents[k]; !ok {
				dropped = append(dropped, "entities."+k+"(unknown)")
			}
		}
		m["entities"] = ents
	}

	if v, ok := m["document_date"]; ok {
		m["document_date"] = normalizeDate(v)
		if v != nil && m["document_date"] == nil {
			dropped = append(dropped, "document_date(unparseable)")
		}
	}

	for k := range maps.Clone(m) {
		if _, ok := allowedKeys[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Debug("llm.understand.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

// clampConfidence accepts 0..1 or a 0..100 percentage.
func clampConfidence(f float64) float64 {
	if f > 1 && f <= 100 {
		f /= 100
	}
	return min(max(f, 0), 1)
}

func toStringList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, e := range t {
			switch x := e.(type) {
			case string:
				if s := strings.TrimSpace(x); s != "" {
					out = append(out, s)
				}
			case float64:
				out = append(out, strconv.FormatFloat(x, 'f', -1, 64))
			}
		}
	}
	return out
}

func normalizeDate(v any) any {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return nil
}
