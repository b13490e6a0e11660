// Package readiness validates deployment artifacts before a release: env
// templates, Dockerfile and compose files are checked for placeholder values
// and local-only addresses, and the whole source tree is scanned for
// forbidden patterns that must never reach production.
package readiness

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity grades a finding. Errors block a release; warnings do not.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one problem detected in a deployment artifact.
type Finding struct {
	File     string   `json:"file"`
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Report is the outcome of a validation run.
type Report struct {
	CheckedFiles int       `json:"checked_files"`
	ScannedFiles int       `json:"scanned_files"`
	Findings     []Finding `json:"findings"`
}

// HasErrors reports whether any finding is release-blocking.
func (r *Report) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// localFragments are address fragments that indicate a config still points
// at a developer machine. They mirror the gateway's upstream blocklist.
var localFragments = []string{"localhost", "127.0.0.1", "[::1]", "0.0.0.0"}

// placeholderFragments are values that suggest a template was never filled
// in.
var placeholderFragments = []string{"changeme", "change-me", "your-", "placeholder", "example.com", "xxx"}

// forbiddenPatterns flag lines anywhere in the tree that must never reach
// production: local-only addresses and unreplaced mock or placeholder
// markers. The word checks require a trailing non-letter so identifiers like
// "mockingbird" pass.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)localhost`),
	regexp.MustCompile(`(?i)127\.0\.0\.1`),
	regexp.MustCompile(`(?i)mock[^a-zA-Z]`),
	regexp.MustCompile(`(?i)placeholder[^a-zA-Z]`),
}

// scanExtensions selects which files the tree scan reads. Env files are
// matched by prefix instead, since ".env.example" has no useful extension.
var scanExtensions = map[string]bool{
	".py":   true,
	".js":   true,
	".ts":   true,
	".go":   true,
	".yml":  true,
	".yaml": true,
	".txt":  true,
	".md":   true,
}

// Validator runs readiness checks against a project root.
type Validator struct {
	root string
}

// New creates a validator for the given directory.
func New(root string) *Validator {
	return &Validator{root: root}
}

// Run executes all checks and collects their findings.
func (v *Validator) Run() (*Report, error) {
	report := &Report{}

	v.checkEnvExample(report)
	v.checkDockerfile(report)
	v.checkCompose(report)
	v.checkTree(report)

	return report, nil
}

// checkTree walks the whole project and flags every line matching a
// forbidden pattern. Unlike the artifact checks above, this one does not
// distinguish comments from code: a local address in a comment is still a
// local address someone may copy into a config.
func (v *Validator) checkTree(report *Report) {
	_ = filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "node_modules", "vendor":
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !scanExtensions[filepath.Ext(name)] && !strings.HasPrefix(name, ".env") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		report.ScannedFiles++

		rel, relErr := filepath.Rel(v.root, path)
		if relErr != nil {
			rel = path
		}
		for i, line := range strings.Split(string(data), "\n") {
			for _, pattern := range forbiddenPatterns {
				if pattern.MatchString(line) {
					report.Findings = append(report.Findings, Finding{
						File:     rel,
						Check:    "forbidden-pattern",
						Severity: SeverityError,
						Message:  fmt.Sprintf("line %d: matches %s: %s", i+1, pattern, strings.TrimSpace(line)),
					})
					break // one finding per line
				}
			}
		}
		return nil
	})
}

// checkEnvExample requires an .env.example template and scans it for values
// that must not ship.
func (v *Validator) checkEnvExample(report *Report) {
	name := ".env.example"
	data, err := os.ReadFile(filepath.Join(v.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			report.Findings = append(report.Findings, Finding{
				File:     name,
				Check:    "env-template",
				Severity: SeverityError,
				Message:  ".env.example is missing; deployments cannot be reproduced without it",
			})
		}
		return
	}
	report.CheckedFiles++

	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, value, ok := strings.Cut(trimmed, "=")
		if !ok || value == "" {
			continue
		}

		lower := strings.ToLower(value)
		for _, fragment := range localFragments {
			if strings.Contains(lower, fragment) {
				report.Findings = append(report.Findings, Finding{
					File:     name,
					Check:    "local-address",
					Severity: SeverityError,
					Message:  fmt.Sprintf("line %d: %s points at a local address (%s)", i+1, key, fragment),
				})
			}
		}
	}
}

// checkDockerfile verifies the build image is present and pinned.
func (v *Validator) checkDockerfile(report *Report) {
	name := "Dockerfile"
	data, err := os.ReadFile(filepath.Join(v.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			report.Findings = append(report.Findings, Finding{
				File:     name,
				Check:    "dockerfile",
				Severity: SeverityError,
				Message:  "Dockerfile is missing",
			})
		}
		return
	}
	report.CheckedFiles++

	sawFrom := false
	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToUpper(trimmed), "FROM ") {
			continue
		}
		sawFrom = true

		image := strings.Fields(trimmed)[1]
		if strings.HasSuffix(image, ":latest") || !strings.Contains(image, ":") {
			report.Findings = append(report.Findings, Finding{
				File:     name,
				Check:    "image-pin",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("line %d: base image %q is not pinned to a version", i+1, image),
			})
		}
	}

	if !sawFrom {
		report.Findings = append(report.Findings, Finding{
			File:     name,
			Check:    "dockerfile",
			Severity: SeverityError,
			Message:  "Dockerfile has no FROM instruction",
		})
	}
}

// composeFile is the subset of a compose document the checks care about.
type composeFile struct {
	Services map[string]struct {
		Image       string    `yaml:"image"`
		Environment yaml.Node `yaml:"environment"`
	} `yaml:"services"`
}

// checkCompose parses docker-compose.yml (or compose.yaml) when present and
// scans service environments for placeholder or local-only values.
func (v *Validator) checkCompose(report *Report) {
	var name string
	var data []byte
	for _, candidate := range []string{"docker-compose.yml", "docker-compose.yaml", "compose.yaml"} {
		b, err := os.ReadFile(filepath.Join(v.root, candidate))
		if err == nil {
			name, data = candidate, b
			break
		}
	}
	if name == "" {
		return // compose is optional
	}
	report.CheckedFiles++

	var doc composeFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		report.Findings = append(report.Findings, Finding{
			File:     name,
			Check:    "compose-parse",
			Severity: SeverityError,
			Message:  "failed to parse compose file: " + err.Error(),
		})
		return
	}

	for serviceName, service := range doc.Services {
		if strings.HasSuffix(service.Image, ":latest") {
			report.Findings = append(report.Findings, Finding{
				File:     name,
				Check:    "image-pin",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("service %s: image %q is not pinned to a version", serviceName, service.Image),
			})
		}

		for _, value := range environmentValues(service.Environment) {
			lower := strings.ToLower(value)
			for _, fragment := range placeholderFragments {
				if strings.Contains(lower, fragment) {
					report.Findings = append(report.Findings, Finding{
						File:     name,
						Check:    "placeholder-value",
						Severity: SeverityError,
						Message:  fmt.Sprintf("service %s: environment value %q looks like an unfilled placeholder", serviceName, value),
					})
				}
			}
		}
	}
}

// environmentValues flattens the two compose environment forms (mapping and
// KEY=value list) into the values alone.
func environmentValues(node yaml.Node) []string {
	var values []string

	switch node.Kind {
	case yaml.MappingNode:
		for i := 1; i < len(node.Content); i += 2 {
			values = append(values, node.Content[i].Value)
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if _, value, ok := strings.Cut(item.Value, "="); ok {
				values = append(values, value)
			}
		}
	}
	return values
}
