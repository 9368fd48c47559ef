// Package envfile parses line-separated KEY=VALUE environment files.
// This is part of the Functional Core - all functions are pure with no I/O
// beyond the supplied reader.
package envfile

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// Env File Parsing
// =============================================================================

// Pair is one parsed entry. For secret entries Value holds the reference the
// platform resolves (an ARN), not the secret material itself.
type Pair struct {
	Name  string
	Value string
}

// SkippedLine records an input line that was not parseable, so the caller
// can warn without aborting the run.
type SkippedLine struct {
	Number int
	Text   string
}

// Parse reads KEY=VALUE lines and splits them into plain environment pairs
// and secret references.
//
// Behavior:
//   - blank lines and lines starting with # are ignored
//   - a leading "export " is stripped
//   - the line splits on the first "=" only
//   - surrounding single or double quotes around the value are stripped
//   - keys starting with secretPrefix (when non-empty) become secret entries
//   - lines without "=" are returned as skipped, never an error
func Parse(r io.Reader, secretPrefix string) (env []Pair, secrets []Pair, skipped []SkippedLine, err error) {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()

		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "export "); ok {
			line = strings.TrimSpace(rest)
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			skipped = append(skipped, SkippedLine{Number: lineNo, Text: raw})
			continue
		}

		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if secretPrefix != "" && strings.HasPrefix(key, secretPrefix) {
			secrets = append(secrets, Pair{Name: key, Value: value})
		} else {
			env = append(env, Pair{Name: key, Value: value})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return env, secrets, skipped, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
