package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Built-in template names.
const (
	TemplateProjectTracking = "project_tracking"
	TemplateContextTransfer = "context_transfer"
)

// Template parameterizes the assistant. TrackProgress decides whether goals,
// success criteria and progress tracking exist at all.
type Template struct {
	Name                    string `yaml:"name"`
	TrackProgress           bool   `yaml:"track_progress"`
	WelcomeCoordinator      string `yaml:"welcome_coordinator"`
	WelcomeTeam             string `yaml:"welcome_team"`
	SystemPromptCoordinator string `yaml:"system_prompt_coordinator"`
	SystemPromptTeam        string `yaml:"system_prompt_team"`
	WhiteboardPrompt        string `yaml:"whiteboard_prompt"`
}

type templatesFile struct {
	Templates []Template `yaml:"templates"`
}

// Templates maps template name to template.
type Templates map[string]Template

// Get returns the named template.
func (t Templates) Get(name string) (Template, error) {
	tpl, ok := t[name]
	if !ok {
		return Template{}, fmt.Errorf("config: unknown template %q", name)
	}
	return tpl, nil
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() Templates {
	return Templates{
		TemplateProjectTracking: {
			Name:          TemplateProjectTracking,
			TrackProgress: true,
			WelcomeCoordinator: "Welcome! I'll help you plan this project. Start by describing it, " +
				"then we'll write a brief, set goals and share a link with your team.",
			WelcomeTeam: "Welcome to the team! I'll keep you in sync with the coordinator. " +
				"Ask me anything about the project or raise an information request when you're blocked.",
			SystemPromptCoordinator: "You assist the project coordinator. Help define the brief, goals and " +
				"success criteria, and resolve information requests raised by the team.",
			SystemPromptTeam: "You assist a team member. Help them understand the project, report progress " +
				"by marking success criteria completed, and raise information requests when blocked.",
			WhiteboardPrompt: defaultWhiteboardPrompt,
		},
		TemplateContextTransfer: {
			Name:          TemplateContextTransfer,
			TrackProgress: false,
			WelcomeCoordinator: "Welcome! Share the knowledge you want to transfer and I'll prepare it " +
				"for the people you invite.",
			WelcomeTeam: "Welcome! I hold the context the owner shared. Ask me anything about it.",
			SystemPromptCoordinator: "You help the owner capture knowledge clearly and answer questions " +
				"forwarded from recipients.",
			SystemPromptTeam: "You help a recipient understand the shared knowledge. Raise an information " +
				"request when something is missing.",
			WhiteboardPrompt: defaultWhiteboardPrompt,
		},
	}
}

const defaultWhiteboardPrompt = "Summarize the key facts, decisions and open questions from this conversation " +
	"as concise markdown. Wrap the result in <WHITEBOARD></WHITEBOARD> tags."

// LoadTemplates reads templates from a YAML file and merges them over the
// built-ins. An empty path returns the built-ins.
func LoadTemplates(path string) (Templates, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	tpls, err := LoadTemplatesBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return tpls, nil
}

// LoadTemplatesBytes parses templates from YAML bytes, expanding env vars.
func LoadTemplatesBytes(data []byte) (Templates, error) {
	var f templatesFile
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &f); err != nil {
		return nil, err
	}

	out := DefaultTemplates()
	for _, t := range f.Templates {
		if t.Name == "" {
			return nil, fmt.Errorf("template without name")
		}
		base, ok := out[t.Name]
		if ok {
			t = mergeTemplate(base, t)
		} else if t.WhiteboardPrompt == "" {
			t.WhiteboardPrompt = defaultWhiteboardPrompt
		}
		out[t.Name] = t
	}
	return out, nil
}

// mergeTemplate overlays non-empty text fields of o onto base. TrackProgress
// always comes from o.
func mergeTemplate(base, o Template) Template {
	base.TrackProgress = o.TrackProgress
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&base.WelcomeCoordinator, o.WelcomeCoordinator)
	set(&base.WelcomeTeam, o.WelcomeTeam)
	set(&base.SystemPromptCoordinator, o.SystemPromptCoordinator)
	set(&base.SystemPromptTeam, o.SystemPromptTeam)
	set(&base.WhiteboardPrompt, o.WhiteboardPrompt)
	return base
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the environment value.
// Missing vars expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
