package personality

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	FileName = "PERSONALITY.md"
	Default  = "You are a general-purpose agent operated from a browser control panel.\n\nBehavior guidelines:\n- Work through programming, information retrieval, file handling and web browsing tasks step by step.\n- Use the browser, search and sandbox settings described below as authoritative.\n- Be concise and action-oriented; report what you did and what you found.\n- Ask clarifying questions when the request is ambiguous."
)

// Resolve returns the PERSONALITY.md found in the working directory or one
// of its parents, falling back to Default.
func Resolve() string {
	content, err := ReadFromDisk()
	if err != nil || content == "" {
		return Default
	}
	return content
}

func ReadFromDisk() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	path, err := findInParents(cwd, FileName)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func findInParents(startDir string, filename string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
