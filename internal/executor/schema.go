package executor

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

// ValidateOutput checks agent output against the agent's declared output
// schema. A nil or empty schema accepts everything. Violations come back as a
// *models.SchemaValidationError so callers can record them distinctly from
// plain execution failures.
func ValidateOutput(agent *models.Agent, output map[string]interface{}) error {
	if agent == nil || len(agent.OutputSchema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(agent.OutputSchema),
		gojsonschema.NewGoLoader(output),
	)
	if err != nil {
		return &models.SchemaValidationError{AgentID: agent.ID, Detail: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	var details []string
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return &models.SchemaValidationError{AgentID: agent.ID, Detail: strings.Join(details, "; ")}
}
