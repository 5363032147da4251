package llm

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/docscan/internal/entity"
)

// ParseResponse turns raw model content into an Outcome. It never returns an error:
// anything that cannot be normalized into the schema is SchemaInvalid.
func ParseResponse(content []byte, logger *slog.Logger) Outcome {
	if logger == nil {
		logger = slog.Default()
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Outcome{Kind: SchemaInvalid, Raw: content, Reason: "empty response"}
	}

	cleaned, _, err := NormalizeAndSanitizeJSON(content, logger)
	if err != nil {
		return Outcome{Kind: SchemaInvalid, Raw: content, Reason: err.Error()}
	}

	schema, err := understandingSchema()
	if err != nil {
		logger.Error("llm.schema.compile_failed", "error", err)
		return Outcome{Kind: SchemaInvalid, Raw: content, Reason: err.Error()}
	}
	if err := validate(schema, cleaned); err != nil {
		return Outcome{Kind: SchemaInvalid, Raw: content, Reason: err.Error()}
	}

	var u entity.Understanding
	if err := json.Unmarshal(cleaned, &u); err != nil {
		return Outcome{Kind: SchemaInvalid, Raw: content, Reason: err.Error()}
	}
	return Outcome{Kind: Parsed, Result: &u, Raw: cleaned}
}
