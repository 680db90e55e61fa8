package chat

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// NoPrompt selects a conversation without a system prompt.
const NoPrompt = "none"

// ErrPromptNotFound is returned for a prompt name with no file.
var ErrPromptNotFound = errors.New("prompt not found")

// Prompts is the catalog of system prompt files, the *.md files of one
// directory.
type Prompts struct {
	dir string
}

// NewPrompts returns the catalog rooted at dir. The directory need not
// exist; a missing directory is an empty catalog.
func NewPrompts(dir string) *Prompts {
	return &Prompts{dir: dir}
}

// List returns the prompt file names, sorted.
func (p *Prompts) List() ([]string, error) {
	out := []string{}
	if p == nil || p.dir == "" {
		return out, nil
	}
	entries, err := os.ReadDir(p.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading prompts directory: %w", err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".md") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Load resolves name to a prompt file and returns the file name and its
// text. "" and NoPrompt yield no prompt. The ".md" suffix is optional.
func (p *Prompts) Load(name string) (file, text string, err error) {
	name = strings.TrimSpace(name)
	if name == "" || name == NoPrompt {
		return "", "", nil
	}
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", "", fmt.Errorf("%w: invalid prompt name %q", ErrPromptNotFound, name)
	}
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	if p == nil || p.dir == "" {
		return "", "", fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}

	data, err := os.ReadFile(filepath.Join(p.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}
	if err != nil {
		return "", "", fmt.Errorf("reading prompt %s: %w", name, err)
	}
	return name, string(data), nil
}
