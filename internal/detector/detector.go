// Package detector classifies a project directory into a project type
// and proposes a default rule set for the engine to apply.
package detector

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	yaml "gopkg.in/yaml.v3"
)

// Confidence weights a criterion's base score.
type Confidence int

const (
	Low Confidence = iota
	Medium
	MediumHigh
	High
)

func (c Confidence) multiplier() float64 {
	switch c {
	case Low:
		return 0.8
	case MediumHigh:
		return 1.1
	case High:
		return 1.2
	default:
		return 1.0
	}
}

// Patterns names the content-pattern categories a criterion may check.
type Patterns struct {
	GemfileContains      []string
	PackageJSONDeps      []string
	RequirementsContains []string
}

func (p Patterns) empty() bool {
	return len(p.GemfileContains) == 0 && len(p.PackageJSONDeps) == 0 && len(p.RequirementsContains) == 0
}

// Criterion is one project-type rule in the scoring table.
type Criterion struct {
	Type       string
	Files      []string
	Patterns   Patterns
	Confidence Confidence
}

// typeOrder breaks score ties; earlier entries win.
var typeOrder = []string{
	"rails", "ruby", "nextjs", "react", "nodejs", "javascript",
	"typescript", "django", "python", "go", "rust",
}

var criteria = []Criterion{
	{Type: "rails", Files: []string{"Gemfile", "config/application.rb", "app/controllers"}, Confidence: High,
		Patterns: Patterns{GemfileContains: []string{"rails"}}},
	{Type: "ruby", Files: []string{"Gemfile"}, Confidence: Medium},
	{Type: "nextjs", Files: []string{"package.json", "next.config.js"}, Confidence: High,
		Patterns: Patterns{PackageJSONDeps: []string{"next"}}},
	{Type: "react", Files: []string{"package.json"}, Confidence: MediumHigh,
		Patterns: Patterns{PackageJSONDeps: []string{"react"}}},
	{Type: "nodejs", Files: []string{"package.json"}, Confidence: Medium},
	{Type: "javascript", Files: []string{"package.json"}, Confidence: Low},
	{Type: "typescript", Files: []string{"tsconfig.json"}, Confidence: Medium},
	{Type: "django", Files: []string{"manage.py", "requirements.txt"}, Confidence: High,
		Patterns: Patterns{RequirementsContains: []string{"django"}}},
	{Type: "python", Files: []string{"requirements.txt", "pyproject.toml", "setup.py"}, Confidence: Low},
	{Type: "go", Files: []string{"go.mod"}, Confidence: High},
	{Type: "rust", Files: []string{"Cargo.toml"}, Confidence: High},
}

var nodeIndicatorRE = regexp.MustCompile(`(?i)express|fastify|koa|nodemon|pm2|@types/node|typescript|ts-node|eslint|jest|mocha|webpack`)
var nodeScriptRE = regexp.MustCompile(`(?i)^(start|dev|server|build|test)$`)

// Profile is the emitted classification.
type Profile struct {
	Type           string
	Language       string
	PackageManager string
	Framework      string
	HasDocker      bool
	HasTests       bool
	HasCI          bool
	Database       string
	SensitiveFiles []string
}

// Detect classifies dir into a Profile.
func Detect(dir string) (*Profile, error) {
	fileSet := map[string]bool{}
	walkShallow(dir, fileSet)

	gemfile := readFileIfExists(filepath.Join(dir, "Gemfile"))
	pkgJSON := readFileIfExists(filepath.Join(dir, "package.json"))
	requirements := readFileIfExists(filepath.Join(dir, "requirements.txt"))

	pkgDeps := parsePackageJSONDeps(pkgJSON)

	best := ""
	bestScore := 0.0
	for _, c := range criteria {
		score := scoreCriterion(c, dir, fileSet, gemfile, pkgDeps, requirements)
		if c.Type == "nodejs" && fileSet["package.json"] && nodeIndicators(pkgJSON, pkgDeps) {
			score += 50
		}
		score *= c.Confidence.multiplier()
		if score <= 0 {
			continue
		}
		if score > bestScore || (score == bestScore && rank(c.Type) < rank(best)) {
			bestScore = score
			best = c.Type
		}
	}

	p := &Profile{Type: best}
	p.Language = languageFor(best)
	p.PackageManager = packageManagerFor(dir, best, fileSet)
	p.Framework = frameworkFor(best)
	if best == "rust" {
		p.Framework = rustFramework(dir)
	}
	p.HasDocker = fileSet["Dockerfile"] || fileSet["docker-compose.yml"] || fileSet["docker-compose.yaml"]
	p.HasTests = hasTests(dir, fileSet)
	p.HasCI = hasCI(dir)
	p.Database = detectDatabase(dir, gemfile, requirements, pkgDeps)
	p.SensitiveFiles = detectSensitiveFiles(dir)

	return p, nil
}

func rank(t string) int {
	for i, v := range typeOrder {
		if v == t {
			return i
		}
	}
	return len(typeOrder) + 1
}

func scoreCriterion(c Criterion, dir string, fileSet map[string]bool, gemfile string, pkgDeps map[string]bool, requirements string) float64 {
	found := 0
	for _, f := range c.Files {
		if fileSet[f] {
			found++
		}
	}
	score := float64(10 * found)
	allPresent := found == len(c.Files) && len(c.Files) > 0
	if allPresent {
		score += 20
	}

	hits := patternHits(c.Patterns, gemfile, pkgDeps, requirements)

	if c.Confidence == High && !c.Patterns.empty() {
		if !allPresent || hits < patternCategoryCount(c.Patterns) {
			return 0
		}
	}
	score += float64(30 * hits)
	return score
}

func patternCategoryCount(p Patterns) int {
	n := 0
	if len(p.GemfileContains) > 0 {
		n++
	}
	if len(p.PackageJSONDeps) > 0 {
		n++
	}
	if len(p.RequirementsContains) > 0 {
		n++
	}
	return n
}

func patternHits(p Patterns, gemfile string, pkgDeps map[string]bool, requirements string) int {
	hits := 0
	if len(p.GemfileContains) > 0 && containsAny(gemfile, p.GemfileContains) {
		hits++
	}
	if len(p.PackageJSONDeps) > 0 && depsContainAny(pkgDeps, p.PackageJSONDeps) {
		hits++
	}
	if len(p.RequirementsContains) > 0 && containsAny(strings.ToLower(requirements), p.RequirementsContains) {
		hits++
	}
	return hits
}

func containsAny(haystack string, needles []string) bool {
	h := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(h, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func depsContainAny(deps map[string]bool, needles []string) bool {
	for _, n := range needles {
		if deps[n] {
			return true
		}
	}
	return false
}

func nodeIndicators(pkgJSON string, deps map[string]bool) bool {
	if nodeIndicatorRE.MatchString(pkgJSON) {
		return true
	}
	for dep := range deps {
		if nodeIndicatorRE.MatchString(dep) {
			return true
		}
	}
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(pkgJSON), &raw); err == nil {
		if scripts, ok := raw["scripts"].(map[string]interface{}); ok {
			for name := range scripts {
				if nodeScriptRE.MatchString(name) {
					return true
				}
			}
		}
		if _, ok := raw["main"]; ok {
			return true
		}
		if _, ok := raw["module"]; ok {
			return true
		}
		if _, ok := raw["exports"]; ok {
			return true
		}
	}
	return false
}

func walkShallow(dir string, out map[string]bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		out[e.Name()] = true
	}
	for _, nested := range []string{"config/application.rb", "app/controllers"} {
		if _, err := os.Stat(filepath.Join(dir, nested)); err == nil {
			out[nested] = true
		}
	}
}

// parsePackageJSONDeps parses package.json's dependencies and
// devDependencies into a flat name set.
func parsePackageJSONDeps(pkgJSON string) map[string]bool {
	if pkgJSON == "" {
		return nil
	}
	var doc struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(pkgJSON), &doc); err != nil {
		return nil
	}
	out := make(map[string]bool, len(doc.Dependencies)+len(doc.DevDependencies))
	for name := range doc.Dependencies {
		out[name] = true
	}
	for name := range doc.DevDependencies {
		out[name] = true
	}
	return out
}

func readFileIfExists(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func languageFor(projectType string) string {
	switch projectType {
	case "rails", "ruby":
		return "ruby"
	case "nextjs", "react", "nodejs", "javascript":
		return "javascript"
	case "typescript":
		return "typescript"
	case "django", "python":
		return "python"
	case "go":
		return "go"
	case "rust":
		return "rust"
	default:
		return ""
	}
}

func frameworkFor(projectType string) string {
	switch projectType {
	case "rails":
		return "rails"
	case "nextjs":
		return "nextjs"
	case "react":
		return "react"
	case "django":
		return "django"
	default:
		return ""
	}
}

// rustFramework inspects Cargo.toml's [dependencies] table (parsed via
// go-toml, not substring matching) for a recognized web framework.
func rustFramework(dir string) string {
	deps := cargoDependencyNames(dir)
	for _, fw := range []string{"actix-web", "axum", "rocket", "warp"} {
		if deps[fw] {
			return fw
		}
	}
	return ""
}

func packageManagerFor(dir, projectType string, fileSet map[string]bool) string {
	switch projectType {
	case "rails", "ruby":
		return "bundle"
	case "nextjs", "react", "nodejs", "javascript", "typescript":
		if fileSet["pnpm-lock.yaml"] {
			return "pnpm"
		}
		if fileSet["yarn.lock"] {
			return "yarn"
		}
		return "npm"
	case "django", "python":
		if fileSet["pyproject.toml"] && usesPoetry(dir) {
			return "poetry"
		}
		if fileSet["Pipfile"] {
			return "pipenv"
		}
		return "pip"
	case "go":
		return "go"
	case "rust":
		return "cargo"
	default:
		return ""
	}
}

// usesPoetry parses pyproject.toml (via go-toml) looking for the
// [tool.poetry] table, giving higher-fidelity detection than a glob.
func usesPoetry(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, "pyproject.toml"))
	if err != nil {
		return false
	}
	var doc map[string]interface{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return false
	}
	tool, ok := doc["tool"].(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = tool["poetry"]
	return ok
}

// cargoDependencyNames parses Cargo.toml's [dependencies] table.
func cargoDependencyNames(dir string) map[string]bool {
	data, err := os.ReadFile(filepath.Join(dir, "Cargo.toml"))
	if err != nil {
		return nil
	}
	var doc map[string]interface{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil
	}
	deps, ok := doc["dependencies"].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]bool, len(deps))
	for k := range deps {
		out[k] = true
	}
	return out
}

func hasTests(dir string, fileSet map[string]bool) bool {
	for _, name := range []string{"test", "tests", "spec", "__tests__"} {
		if fileSet[name] {
			return true
		}
	}
	_ = dir
	return false
}

// hasCI inspects .github/workflows (parsed as YAML) and common CI
// config files for a CI pipeline definition.
func hasCI(dir string) bool {
	workflowsDir := filepath.Join(dir, ".github", "workflows")
	if entries, err := os.ReadDir(workflowsDir); err == nil && len(entries) > 0 {
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".yml") || strings.HasSuffix(e.Name(), ".yaml") {
				if isParsableYAML(filepath.Join(workflowsDir, e.Name())) {
					return true
				}
			}
		}
	}
	for _, name := range []string{".gitlab-ci.yml", ".circleci/config.yml", ".travis.yml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func isParsableYAML(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var doc map[string]interface{}
	return yaml.Unmarshal(data, &doc) == nil
}

func detectDatabase(dir, gemfile, requirements string, pkgDeps map[string]bool) string {
	compose := readFileIfExists(filepath.Join(dir, "docker-compose.yml"))
	if compose == "" {
		compose = readFileIfExists(filepath.Join(dir, "docker-compose.yaml"))
	}
	var composeServices map[string]interface{}
	if compose != "" {
		var doc struct {
			Services map[string]interface{} `yaml:"services"`
		}
		if yaml.Unmarshal([]byte(compose), &doc) == nil {
			composeServices = doc.Services
		}
	}

	checks := []struct {
		name     string
		gemfile  string
		req      string
		dep      string
		compose  string
	}{
		{"postgresql", "pg", "psycopg2", "pg", "postgres"},
		{"mysql", "mysql2", "mysqlclient", "mysql2", "mysql"},
		{"sqlite", "sqlite3", "sqlite", "sqlite3", "sqlite"},
		{"redis", "redis", "redis", "redis", "redis"},
		{"mongodb", "mongo", "pymongo", "mongodb", "mongo"},
	}
	for _, c := range checks {
		if containsAny(gemfile, []string{c.gemfile}) {
			return c.name
		}
		if containsAny(strings.ToLower(requirements), []string{c.req}) {
			return c.name
		}
		if pkgDeps[c.dep] {
			return c.name
		}
		if composeServices != nil {
			for svc := range composeServices {
				if strings.Contains(strings.ToLower(svc), c.compose) {
					return c.name
				}
			}
		}
	}
	return ""
}

var sensitiveFileNames = []string{
	"config/master.key", ".env", ".env.local", ".env.production",
	"config/credentials.yml.enc", "config/database.yml",
}

func detectSensitiveFiles(dir string) []string {
	var found []string
	for _, rel := range sensitiveFileNames {
		if _, err := os.Stat(filepath.Join(dir, rel)); err == nil {
			found = append(found, rel)
		}
	}
	sort.Strings(found)
	return found
}
