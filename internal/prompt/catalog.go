package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ashureev/inkwell/internal/domain"
	"github.com/pelletier/go-toml/v2"
)

// Sink receives catalog prompts.
type Sink interface {
	UpsertPrompt(ctx context.Context, prompt *domain.Prompt) error
}

type catalogFile struct {
	Prompts []catalogEntry `toml:"prompt"`
}

type catalogEntry struct {
	ID      string   `toml:"id"`
	Mode    string   `toml:"mode"`
	Title   string   `toml:"title"`
	Body    string   `toml:"body"`
	Options []string `toml:"options"`
}

// ParseCatalog decodes a TOML prompt catalog of the form
//
//	[[prompt]]
//	id = "letters-01"
//	mode = "practice"
//	title = "A letter to your past self"
//	body = "..."
//	options = ["age 10", "age 18"]
//
// Entries keep file order through their CreatedAt, one second apart from base.
func ParseCatalog(data []byte, base time.Time) ([]*domain.Prompt, error) {
	var f catalogFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode prompt catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Prompts))
	prompts := make([]*domain.Prompt, 0, len(f.Prompts))
	for i, e := range f.Prompts {
		if strings.TrimSpace(e.ID) == "" {
			return nil, fmt.Errorf("prompt %d: id is required", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("prompt %q: duplicate id", e.ID)
		}
		seen[e.ID] = true

		mode, err := domain.ParseMode(e.Mode)
		if err != nil {
			return nil, fmt.Errorf("prompt %q: %w", e.ID, err)
		}
		if err := domain.ValidateContent(e.Body); err != nil {
			return nil, fmt.Errorf("prompt %q body: %w", e.ID, err)
		}
		prompts = append(prompts, &domain.Prompt{
			ID:        e.ID,
			Mode:      mode,
			Title:     e.Title,
			Body:      e.Body,
			Options:   e.Options,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	return prompts, nil
}

// LoadCatalog reads the catalog at path and upserts every prompt into sink.
// Re-running it with the same file is a no-op apart from edited text.
func LoadCatalog(ctx context.Context, path string, sink Sink, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read prompt catalog: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat prompt catalog: %w", err)
	}
	prompts, err := ParseCatalog(data, info.ModTime().Truncate(time.Second))
	if err != nil {
		return 0, err
	}

	for _, p := range prompts {
		if err := sink.UpsertPrompt(ctx, p); err != nil {
			return 0, fmt.Errorf("seed prompt %q: %w", p.ID, err)
		}
	}
	logger.Info("Prompt catalog loaded", "path", path, "prompts", len(prompts))
	return len(prompts), nil
}
