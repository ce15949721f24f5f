package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const personaFileExt = ".md"

var errInvalidPersonaYAML = errors.New("invalid persona YAML frontmatter")

// LoadDir reads persona override files from dir. Each file is markdown with
// YAML front-matter naming the agent; the body replaces its system prompt.
// A missing directory yields no overrides.
func LoadDir(dir string) ([]Persona, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat personas dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("personas path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read personas dir %q: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	out := make([]Persona, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), personaFileExt) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		p, skip, err := parsePersonaFile(path)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		if prev, exists := seen[p.ID]; exists {
			return nil, fmt.Errorf("duplicate persona %q in %s (already in %s)", p.ID, path, prev)
		}
		seen[p.ID] = path
		out = append(out, p)
	}
	return out, nil
}

func parsePersonaFile(path string) (Persona, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, false, fmt.Errorf("read persona %q: %w", path, err)
	}

	p, body, err := parseFrontmatter(content)
	if err != nil {
		if errors.Is(err, errInvalidPersonaYAML) {
			log.Printf("[persona] warning: skip invalid YAML persona %s: %v", path, err)
			return Persona{}, true, nil
		}
		return Persona{}, false, fmt.Errorf("parse persona %q: %w", path, err)
	}

	p.ID = strings.ToUpper(strings.TrimSpace(p.ID))
	if p.ID == "" {
		return Persona{}, false, fmt.Errorf("parse persona %q: missing id", path)
	}
	if !agentIDPattern.MatchString(p.ID) {
		return Persona{}, false, fmt.Errorf("parse persona %q: malformed id %q", path, p.ID)
	}
	p.SystemPrompt = strings.TrimSpace(body)
	return p, false, nil
}

func parseFrontmatter(content []byte) (Persona, string, error) {
	text := strings.TrimPrefix(string(content), "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return Persona{}, "", errors.New("missing YAML frontmatter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return Persona{}, "", errors.New("missing closing frontmatter separator")
	}

	var p Persona
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &p); err != nil {
		return Persona{}, "", fmt.Errorf("%w: %v", errInvalidPersonaYAML, err)
	}
	return p, strings.Join(lines[end+1:], "\n"), nil
}

// Load returns the built-in registry with overrides from dir applied.
func Load(dir string) (*Registry, error) {
	overrides, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return Builtin().With(overrides)
}
