package detector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDetectGo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example.com/foo\n\ngo 1.25\n")

	p, err := Detect(dir)
	require.NoError(t, err)
	require.Equal(t, "go", p.Type)
	require.Equal(t, "go", p.PackageManager)
	require.Equal(t, "go", p.Language)
}

func TestDetectRails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Gemfile", "source 'https://rubygems.org'\ngem 'rails', '~> 7.0'\n")
	writeFile(t, dir, "config/application.rb", "module App; end")
	writeFile(t, dir, "app/controllers/.keep", "")

	p, err := Detect(dir)
	require.NoError(t, err)
	require.Equal(t, "rails", p.Type)
	require.Equal(t, "bundle", p.PackageManager)
	require.Equal(t, "rails", p.Framework)
}

func TestDetectReactOverJavaScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"name":"app","dependencies":{"react":"^18.0.0"}}`)

	p, err := Detect(dir)
	require.NoError(t, err)
	require.Equal(t, "react", p.Type)
}

func TestDetectNodejsIndicators(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"name":"svc","dependencies":{"express":"^4.0.0"},"scripts":{"start":"node index.js"}}`)

	p, err := Detect(dir)
	require.NoError(t, err)
	require.Equal(t, "nodejs", p.Type)
	require.Equal(t, "npm", p.PackageManager)
}

func TestDetectRustWithFramework(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", "[package]\nname = \"svc\"\nversion = \"0.1.0\"\n\n[dependencies]\naxum = \"0.7\"\n")

	p, err := Detect(dir)
	require.NoError(t, err)
	require.Equal(t, "rust", p.Type)
	require.Equal(t, "cargo", p.PackageManager)
	require.Equal(t, "axum", p.Framework)
}

func TestDetectDockerAndCI(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example.com/foo\n\ngo 1.25\n")
	writeFile(t, dir, "Dockerfile", "FROM golang:1.25\n")
	writeFile(t, dir, ".github/workflows/ci.yml", "name: CI\non: [push]\njobs:\n  build:\n    runs-on: ubuntu-latest\n")

	p, err := Detect(dir)
	require.NoError(t, err)
	require.True(t, p.HasDocker)
	require.True(t, p.HasCI)
}

func TestDetectDatabaseFromCompose(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example.com/foo\n\ngo 1.25\n")
	writeFile(t, dir, "docker-compose.yml", "services:\n  postgres:\n    image: postgres:16\n")

	p, err := Detect(dir)
	require.NoError(t, err)
	require.Equal(t, "postgresql", p.Database)
}

func TestDefaultRulesRails(t *testing.T) {
	p := &Profile{Type: "rails", PackageManager: "bundle"}
	specs := DefaultRules(p)

	var haveCopy, haveSetup, haveTemplate bool
	for _, s := range specs {
		switch s.Type {
		case "copy_files":
			haveCopy = true
		case "setup_commands":
			haveSetup = true
			require.Contains(t, s.Dependencies, "copy_sensitive_files")
		case "template":
			haveTemplate = true
		}
	}
	require.True(t, haveCopy)
	require.True(t, haveSetup)
	require.True(t, haveTemplate)
}
