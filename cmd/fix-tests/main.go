// fix-tests rewrites the up and down expectations of failing TestApply scenarios from
// the output of `go test -json`.
//
// Usage:
//
//	go test ./cmd/schemadiff -run TestApply -json > results.json
//	go run ./cmd/fix-tests ./cmd/schemadiff results.json
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

type testEvent struct {
	Action string `json:"Action"`
	Test   string `json:"Test"`
	Output string `json:"Output"`
}

// failure is one mismatched script of a scenario.
type failure struct {
	Test   string
	Field  string
	Actual string
}

// phaseFields maps assertion labels to the scenario field they check.
var phaseFields = map[string]string{
	"[Phase 1: Forward Migration]": "up",
	"[Phase 4: Reverse Migration]": "down",
}

var (
	expectedPattern = regexp.MustCompile(`expected: ("(?:[^"\\]|\\.)*")`)
	actualPattern   = regexp.MustCompile(`actual  : ("(?:[^"\\]|\\.)*")`)
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string) error {
	pkg := "./cmd/schemadiff"
	if len(args) > 0 && !strings.HasSuffix(args[0], ".json") {
		pkg, args = args[0], args[1:]
	}

	var output []byte
	var err error
	if len(args) > 0 {
		output, err = os.ReadFile(args[0])
	} else {
		output, err = runTests(pkg)
	}
	if err != nil {
		return err
	}

	failures := parseTestResults(output)
	fmt.Printf("Found %d mismatched scripts\n", len(failures))

	files, err := filepath.Glob(filepath.Join(pkg, "tests*.yml"))
	if err != nil {
		return err
	}
	fixed := 0
	for _, f := range failures {
		file, err := findYamlFile(files, f.Test)
		if err != nil {
			log.Printf("Failed to fix %s: %v", f.Test, err)
			continue
		}
		if err := updateYamlFile(file, f); err != nil {
			log.Printf("Failed to fix %s: %v", f.Test, err)
			continue
		}
		fmt.Printf("Fixed %s.%s in %s\n", f.Test, f.Field, filepath.Base(file))
		fixed++
	}
	fmt.Printf("Fixed: %d, failed to fix: %d\n", fixed, len(failures)-fixed)
	return nil
}

func runTests(pkg string) ([]byte, error) {
	output, err := exec.Command("go", "test", pkg, "-run", "TestApply", "-json").CombinedOutput()
	// failing tests are the point; only an empty output means go test itself failed
	if err != nil && len(output) == 0 {
		return nil, fmt.Errorf("failed to run tests: %w", err)
	}
	return output, nil
}

// parseTestResults collects the scripts that TestApply scenarios expected differently.
func parseTestResults(output []byte) []failure {
	outputs := map[string]*strings.Builder{}
	var failed []string

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var event testEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		name, ok := strings.CutPrefix(event.Test, "TestApply/")
		if !ok {
			continue
		}
		switch event.Action {
		case "output":
			if outputs[name] == nil {
				outputs[name] = &strings.Builder{}
			}
			outputs[name].WriteString(event.Output)
		case "fail":
			failed = append(failed, name)
		}
	}

	var failures []failure
	for _, name := range failed {
		if outputs[name] == nil {
			continue
		}
		failures = append(failures, parseFailure(name, outputs[name].String())...)
	}
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Test < failures[j].Test })
	return failures
}

// parseFailure splits a test's output into testify error reports and keeps the ones
// comparing a whole script.
func parseFailure(name, output string) []failure {
	var failures []failure
	for _, report := range strings.Split(output, "Error Trace:")[1:] {
		var field string
		for label, f := range phaseFields {
			if strings.Contains(report, label) {
				field = f
			}
		}
		if field == "" {
			continue
		}
		if expectedPattern.FindStringSubmatch(report) == nil {
			continue
		}
		match := actualPattern.FindStringSubmatch(report)
		if match == nil {
			continue
		}
		actual, err := strconv.Unquote(match[1])
		if err != nil {
			continue
		}
		failures = append(failures, failure{Test: name, Field: field, Actual: actual})
	}
	return failures
}

func findYamlFile(files []string, test string) (string, error) {
	for _, file := range files {
		buf, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		var tests map[string]any
		if err := yaml.Unmarshal(buf, &tests); err != nil {
			return "", fmt.Errorf("%s: %w", file, err)
		}
		if _, ok := tests[test]; ok {
			return file, nil
		}
	}
	return "", fmt.Errorf("no YAML file defines %s", test)
}

func updateYamlFile(file string, f failure) error {
	buf, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	updated, err := replaceField(string(buf), f.Test, f.Field, f.Actual)
	if err != nil {
		return err
	}
	return os.WriteFile(file, []byte(updated), 0o644)
}

// replaceField rewrites one field of a top-level scenario in place, keeping the rest of
// the document byte for byte. A missing field is appended to the scenario.
func replaceField(doc, test, field, value string) (string, error) {
	lines := strings.Split(doc, "\n")

	start := -1
	for i, line := range lines {
		if line == test+":" {
			start = i
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("%s is not a top-level key", test)
	}
	end := start + 1
	for end < len(lines) && (strings.TrimSpace(lines[end]) == "" || indent(lines[end]) > 0) {
		end++
	}
	for end > start+1 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}

	fieldIndent := 2
	from, to := end, end
	for i := start + 1; i < end; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, field+":") {
			continue
		}
		fieldIndent = indent(lines[i])
		from, to = i, i+1
		for to < end && (strings.TrimSpace(lines[to]) == "" || indent(lines[to]) > fieldIndent) {
			to++
		}
		for to > from+1 && strings.TrimSpace(lines[to-1]) == "" {
			to--
		}
		break
	}

	replacement := renderField(field, value, fieldIndent)
	result := make([]string, 0, len(lines)+len(replacement))
	result = append(result, lines[:from]...)
	result = append(result, replacement...)
	result = append(result, lines[to:]...)
	return strings.Join(result, "\n"), nil
}

func renderField(field, value string, n int) []string {
	prefix := strings.Repeat(" ", n)
	value = strings.TrimSpace(value)
	if value == "" {
		return []string{prefix + field + `: ""`}
	}
	result := []string{prefix + field + ": |"}
	for _, line := range strings.Split(value, "\n") {
		if line == "" {
			result = append(result, "")
		} else {
			result = append(result, prefix+"  "+line)
		}
	}
	return result
}

func indent(line string) int {
	return len(line) - len(strings.TrimLeft(line, " "))
}
