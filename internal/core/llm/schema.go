package llm

// BuildUnderstandingSchema returns the JSON-Schema every provider response is validated against.
// Category is left free-form here; normalization maps it onto the taxonomy first.
func BuildUnderstandingSchema() map[string]any {
	stringList := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	entityKinds := []string{"people", "organizations", "dates", "amounts", "addresses", "references"}

	entityProps := make(map[string]any, len(entityKinds))
	for _, k := range entityKinds {
		entityProps[k] = stringList
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"category":            map[string]any{"type": "string", "minLength": 1},
			"category_confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"summary":             map[string]any{"type": "string"},
			"tags":                stringList,
			"entities": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties":           entityProps,
				"required":             entityKinds,
			},
			"document_date": map[string]any{
				"type":    []any{"string", "null"},
				"pattern": `^\d{4}-\d{2}-\d{2}$`,
			},
			"key_points": stringList,
		},
		"required": []string{"category", "category_confidence", "summary", "tags", "entities", "document_date", "key_points"},
	}
}
