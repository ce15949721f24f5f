package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrMemoryExists is returned by ImportFile when the store already holds
// persisted state and force is false.
var ErrMemoryExists = errors.New("memory: persisted state already exists")

// ImportFile loads a memory document exported as JSON (for example a
// browser localStorage dump) and persists it. Unless force is set, an
// existing persisted document is left untouched.
func ImportFile(ctx context.Context, s *Store, path string, force bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return fmt.Errorf("import %s: empty file", path)
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if !force {
		if _, found := s.read(ctx); found {
			return ErrMemoryExists
		}
	}

	s.replace(doc)
	if err := s.Save(ctx); err != nil {
		return fmt.Errorf("save imported memory: %w", err)
	}
	return nil
}

// dedupFacts applies the fact rules to an imported list.
func dedupFacts(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, f := range in {
		f = strings.TrimSpace(f)
		if len([]rune(f)) <= MinFactLen {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
