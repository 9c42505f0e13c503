package detector

// RuleSpec has the same fields as engine.RuleSpec (name, type, config,
// dependencies). It is a separate type; this package does not convert
// it into an engine.RuleSpec.
type RuleSpec struct {
	Name         string                 `json:"name"`
	Type         string                 `json:"type"`
	Config       map[string]interface{} `json:"config"`
	Dependencies []string               `json:"dependencies,omitempty"`
}

// stackSensitiveFiles lists the non-required candidate files worth
// offering for each project type.
var stackSensitiveFiles = map[string][]string{
	"rails":      {"config/master.key", "config/credentials.yml.enc", ".env"},
	"ruby":       {".env"},
	"nextjs":     {".env.local", ".env.production"},
	"react":      {".env.local"},
	"nodejs":     {".env"},
	"javascript": {".env"},
	"typescript": {".env"},
	"django":     {".env", "config/database.yml"},
	"python":     {".env"},
	"go":         {".env"},
	"rust":       {".env"},
}

var installCommands = map[string][][]string{
	"bundle": {{"bundle", "install"}},
	"npm":    {{"npm", "install"}},
	"yarn":   {{"yarn", "install"}},
	"pnpm":   {{"pnpm", "install"}},
	"pip":    {{"pip", "install", "-r", "requirements.txt"}},
	"pipenv": {{"pipenv", "install"}},
	"poetry": {{"poetry", "install"}},
	"cargo":  {{"cargo", "build"}},
	"go":     {{"go", "build", "./..."}},
}

var migrationCommands = map[string][][]string{
	"rails":  {{"bundle", "exec", "rake", "db:migrate"}},
	"django": {{"python3", "manage.py", "migrate"}},
}

// DefaultRules proposes a copy_files rule for sensitive files, a
// setup_commands rule for install + migration steps, and a template
// rule for a session-info document, per the detected profile.
func DefaultRules(p *Profile) []RuleSpec {
	var specs []RuleSpec

	if files := stackSensitiveFiles[p.Type]; len(files) > 0 {
		entries := make([]map[string]interface{}, 0, len(files))
		for _, f := range files {
			entries = append(entries, map[string]interface{}{
				"source":   f,
				"strategy": "copy",
				"required": false,
			})
		}
		specs = append(specs, RuleSpec{
			Name: "copy_sensitive_files",
			Type: "copy_files",
			Config: map[string]interface{}{
				"files": entries,
			},
		})
	}

	var commands []map[string]interface{}
	for _, argv := range installCommands[p.PackageManager] {
		commands = append(commands, map[string]interface{}{"command": argv})
	}
	for _, argv := range migrationCommands[p.Type] {
		commands = append(commands, map[string]interface{}{"command": argv})
	}
	if len(commands) > 0 {
		specs = append(specs, RuleSpec{
			Name:         "setup_project",
			Type:         "setup_commands",
			Config:       map[string]interface{}{"commands": commands},
			Dependencies: dependsOn(specs, "copy_sensitive_files"),
		})
	}

	specs = append(specs, RuleSpec{
		Name: "session_info",
		Type: "template",
		Config: map[string]interface{}{
			"templates": []map[string]interface{}{
				{
					"source":      "session_info.md.tmpl",
					"destination": "SESSION_INFO.md",
					"overwrite":   true,
				},
			},
		},
	})

	return specs
}

func dependsOn(existing []RuleSpec, name string) []string {
	for _, s := range existing {
		if s.Name == name {
			return []string{name}
		}
	}
	return nil
}
