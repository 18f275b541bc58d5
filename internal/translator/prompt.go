package translator

import (
	_ "embed"
	"encoding/json"
	"strings"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

//go:embed prompt.txt
var promptTemplate string

// BuildPrompt renders the model prompt for one instruction.
func BuildPrompt(instruction string, schema sheet.Schema) string {
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		schemaJSON = []byte("{}")
	}

	// Single pass so placeholder text inside the data is left alone.
	return strings.NewReplacer(
		"{{SCHEMA}}", string(schemaJSON),
		"{{INSTRUCTION}}", strings.TrimSpace(instruction),
	).Replace(promptTemplate)
}
