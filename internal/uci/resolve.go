package uci

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ResolveExecutable picks the first usable engine binary from a
// comma-separated candidate list. Candidates are looked up on PATH and
// as relative paths, then absolutized so a later working-directory
// change cannot break the session.
func ResolveExecutable(candidates string) (string, error) {
	for _, cand := range strings.Split(candidates, ",") {
		cand = strings.TrimSpace(cand)
		if cand == "" {
			continue
		}
		path, err := exec.LookPath(cand)
		if err != nil {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("absolutize %q: %w", path, err)
		}
		return abs, nil
	}
	return "", fmt.Errorf("no engine executable found among %q", candidates)
}
