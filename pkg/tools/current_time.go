package tools

import (
	"context"
	"time"
)

// CurrentTimeTool reports the current time in a requested IANA zone.
type CurrentTimeTool struct {
	now func() time.Time
}

// NewCurrentTimeTool creates a current_time tool.
func NewCurrentTimeTool(env Env) *CurrentTimeTool {
	now := env.Now
	if now == nil {
		now = time.Now
	}
	return &CurrentTimeTool{now: now}
}

func (t *CurrentTimeTool) Name() string {
	return ToolCurrentTime
}

func (t *CurrentTimeTool) Definition() ToolDefinition {
	return currentTimeDefinition()
}

func currentTimeDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolCurrentTime,
		Description: "Get the current date and time in ISO 8601 format for a timezone.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"timezone": {
					Type:        "string",
					Description: "IANA timezone such as America/New_York. Defaults to UTC.",
				},
			},
		},
	}
}

func (t *CurrentTimeTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	zone := "UTC"
	if z, ok := stringArg(args, "timezone"); ok {
		zone = z
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return errorResult("unknown timezone: " + zone)
	}

	now := t.now().In(loc)
	return jsonResult(map[string]any{
		"success":  true,
		"timezone": zone,
		"time":     now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
	})
}
