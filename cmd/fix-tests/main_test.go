package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarios = `AddColumn:
  current: |
    CREATE TABLE users (id integer);
  desired: |
    CREATE TABLE users (id integer, name text);
  up: |
    SET search_path = pg_catalog;

    ALTER TABLE public.users ADD COLUMN nme text;
  down: ""
Other:
  current: ""
  desired: ""
`

func events(t *testing.T, test string, lines ...string) []byte {
	t.Helper()
	var out strings.Builder
	encode := func(e testEvent) {
		buf, err := json.Marshal(e)
		require.NoError(t, err)
		out.Write(buf)
		out.WriteString("\n")
	}
	encode(testEvent{Action: "run", Test: test})
	for _, line := range lines {
		encode(testEvent{Action: "output", Test: test, Output: line + "\n"})
	}
	encode(testEvent{Action: "fail", Test: test})
	return []byte(out.String())
}

func TestParseTestResults(t *testing.T) {
	output := events(t, "TestApply/AddColumn",
		"    testutil.go:189: ",
		"        \tError Trace:\ttestutil.go:189",
		"        \tError:      \tNot equal: ",
		`        \t            \texpected: "SET search_path = pg_catalog;\n\nALTER TABLE public.users ADD COLUMN nme text;"`,
		`        \t            \tactual  : "SET search_path = pg_catalog;\n\nALTER TABLE public.users ADD COLUMN name text;"`,
		"        \tMessages:   \t[Phase 1: Forward Migration] current → desired should produce 'up' script",
		"    testutil.go:214: [Phase 3: Idempotency Check] desired → desired should produce no script",
		"        \tError Trace:\ttestutil.go:223",
		"        \tError:      \tNot equal: ",
		`        \t            \texpected: ""`,
		`        \t            \tactual  : "SET search_path = pg_catalog;\n\nALTER TABLE public.\"Users\" DROP COLUMN name;"`,
		"        \tMessages:   \t[Phase 4: Reverse Migration] desired → current should produce 'down' script",
	)
	output = append(output, events(t, "TestParse")...)

	failures := parseTestResults(output)
	assert.Equal(t, []failure{
		{Test: "AddColumn", Field: "up", Actual: "SET search_path = pg_catalog;\n\nALTER TABLE public.users ADD COLUMN name text;"},
		{Test: "AddColumn", Field: "down", Actual: "SET search_path = pg_catalog;\n\nALTER TABLE public.\"Users\" DROP COLUMN name;"},
	}, failures)
}

func TestReplaceField(t *testing.T) {
	tests := map[string]struct {
		test, field, value string
		expected           string
	}{
		"block": {
			test:     "AddColumn",
			field:    "up",
			value:    "SET search_path = pg_catalog;\n\nALTER TABLE public.users ADD COLUMN name text;\n",
			expected: strings.Replace(scenarios, "ADD COLUMN nme", "ADD COLUMN name", 1),
		},
		"empty to block": {
			test:     "AddColumn",
			field:    "down",
			value:    "DROP TABLE t;",
			expected: strings.Replace(scenarios, "  down: \"\"\n", "  down: |\n    DROP TABLE t;\n", 1),
		},
		"block to empty": {
			test:     "AddColumn",
			field:    "up",
			value:    "",
			expected: strings.Replace(scenarios,
				"  up: |\n    SET search_path = pg_catalog;\n\n    ALTER TABLE public.users ADD COLUMN nme text;\n",
				"  up: \"\"\n", 1),
		},
		"missing field": {
			test:     "Other",
			field:    "up",
			value:    "",
			expected: scenarios[:len(scenarios)-1] + "\n  up: \"\"\n",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			actual, err := replaceField(scenarios, tc.test, tc.field, tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}

	_, err := replaceField(scenarios, "Missing", "up", "")
	assert.EqualError(t, err, "Missing is not a top-level key")
}

func TestFindYamlFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "tests.yml")
	second := filepath.Join(dir, "tests_more.yml")
	require.NoError(t, os.WriteFile(first, []byte(scenarios), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("Extra:\n  current: \"\"\n"), 0o644))

	file, err := findYamlFile([]string{first, second}, "Extra")
	require.NoError(t, err)
	assert.Equal(t, second, file)

	_, err = findYamlFile([]string{first, second}, "Nope")
	assert.EqualError(t, err, "no YAML file defines Nope")
}
