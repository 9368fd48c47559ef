package registry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// Engine Stream Handling
// =============================================================================

// engineMessage is one JSON object from the engine's build or push stream.
// The engine reports failures inside the stream with a 200 response, so the
// stream has to be decoded rather than drained.
type engineMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	ErrorText   string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func drainEngineStream(r io.Reader, logger *slog.Logger, op string) error {
	dec := json.NewDecoder(r)
	for {
		var msg engineMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read %s stream: %w", op, err)
		}

		if msg.ErrorText != "" || msg.ErrorDetail.Message != "" {
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.ErrorText
			}
			return fmt.Errorf("%s reported: %s", op, detail)
		}

		if line := strings.TrimSpace(msg.Stream); line != "" {
			logger.Debug(op+" output", "line", line)
		}
	}
}

// =============================================================================
// Build Context Exclusions
// =============================================================================

// readDockerignore loads exclusion patterns from the context's .dockerignore
// file. A missing file means no exclusions.
func readDockerignore(contextDir string) ([]string, error) {
	f, err := os.Open(filepath.Join(contextDir, ".dockerignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read .dockerignore: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read .dockerignore: %w", err)
	}
	return patterns, nil
}
