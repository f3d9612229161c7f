// Package prompts holds the built-in agent profiles: a system prompt
// template and the tools the prompt is written for.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"chatagent/pkg/tools"
)

//go:embed *.tpl.md
var promptFS embed.FS

// Profile names.
const (
	ProfileOffice         = "office"
	ProfileWeather        = "weather"
	ProfileWeatherGuarded = "weather-guarded"
)

// Profile is a named system prompt plus its default tool set.
type Profile struct {
	Name        string
	Description string
	Template    string
	Tools       []string
	Guarded     bool
}

// Data is passed to prompt templates.
type Data struct {
	Tools   []tools.ToolMeta
	Guarded bool
}

//nolint:gochecknoglobals // static profile table
var profiles = map[string]Profile{
	ProfileOffice: {
		Name:        ProfileOffice,
		Description: "personal assistant for local file and office tasks",
		Template:    "office.tpl.md",
		Tools:       []string{tools.ToolFileRead, tools.ToolFileWrite},
	},
	ProfileWeather: {
		Name:        ProfileWeather,
		Description: "National Weather Service assistant",
		Template:    "weather.tpl.md",
		Tools:       []string{tools.ToolFileRead, tools.ToolFileWrite, tools.ToolHTTPRequest, tools.ToolCurrentTime},
	},
	ProfileWeatherGuarded: {
		Name:        ProfileWeatherGuarded,
		Description: "weather assistant with security constraints, as deployed behind a guardrail",
		Template:    "weather.tpl.md",
		Tools:       []string{tools.ToolHTTPRequest, tools.ToolCurrentTime},
		Guarded:     true,
	},
}

// Lookup returns the named profile.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown agent profile '%s' (available: %s)", name, strings.Join(Names(), ", "))
	}
	p.Tools = append([]string(nil), p.Tools...)
	return p, nil
}

// Names lists the profiles in sorted order.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the profile's template.
func (p Profile) Render(toolMeta []tools.ToolMeta) (string, error) {
	raw, err := promptFS.ReadFile(p.Template)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt template %s: %w", p.Template, err)
	}

	tmpl, err := template.New(p.Template).Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt template %s: %w", p.Template, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, Data{Tools: toolMeta, Guarded: p.Guarded}); err != nil {
		return "", fmt.Errorf("failed to render prompt template %s: %w", p.Template, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Source selects where the system prompt text comes from.
type Source struct {
	Profile    Profile
	Inline     string // used verbatim when set
	File       string // read when Inline is empty
	ToolsInUse []tools.ToolMeta
}

// SystemPrompt resolves the prompt: inline text, then a prompt file, then
// the profile template.
func (s Source) SystemPrompt() (string, error) {
	if strings.TrimSpace(s.Inline) != "" {
		return strings.TrimSpace(s.Inline), nil
	}
	if s.File != "" {
		data, err := os.ReadFile(s.File)
		if err != nil {
			return "", fmt.Errorf("failed to read system prompt file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return s.Profile.Render(s.ToolsInUse)
}
