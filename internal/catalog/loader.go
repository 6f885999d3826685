package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// Summary describes one applied catalog file.
type Summary struct {
	Path      string `json:"path"`
	Hash      string `json:"hash"`
	Sources   int    `json:"sources"`
	Templates int    `json:"templates"`
	Rules     int    `json:"rules"`
}

// Loader reads the catalog file and upserts it into a domain.CatalogStore.
// Entries are matched by name, so reloading the same file is idempotent and
// ids stay stable across reloads.
type Loader struct {
	path   string
	store  domain.CatalogStore
	audit  domain.AuditStore
	logger *slog.Logger

	mu       sync.Mutex
	lastHash string
}

// NewLoader creates a Loader. audit may be nil.
func NewLoader(path string, store domain.CatalogStore, audit domain.AuditStore, logger *slog.Logger) *Loader {
	return &Loader{
		path:   path,
		store:  store,
		audit:  audit,
		logger: logger.With(slog.String("component", "catalog")),
	}
}

// Path returns the catalog file path.
func (l *Loader) Path() string { return l.path }

// Load reads, validates and applies the file. A file identical to the last
// one applied is skipped and reported with changed=false.
func (l *Loader) Load(ctx context.Context) (Summary, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return Summary{}, false, fmt.Errorf("catalog: read %s: %w", l.path, err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if hash == l.lastHash {
		return Summary{Path: l.path, Hash: hash}, false, nil
	}

	f, err := Parse(data)
	if err != nil {
		return Summary{}, false, fmt.Errorf("%w (file %s)", err, l.path)
	}
	s, err := Apply(ctx, l.store, f)
	if err != nil {
		return Summary{}, false, err
	}
	s.Path = l.path
	s.Hash = hash
	l.lastHash = hash

	l.logger.InfoContext(ctx, "catalog applied",
		slog.String("path", l.path),
		slog.Int("sources", s.Sources),
		slog.Int("templates", s.Templates),
		slog.Int("rules", s.Rules),
	)
	if l.audit != nil {
		err := l.audit.Log(ctx, "catalog.reload", map[string]any{
			"path":      l.path,
			"hash":      hash,
			"sources":   s.Sources,
			"templates": s.Templates,
			"rules":     s.Rules,
		})
		if err != nil {
			l.logger.WarnContext(ctx, "audit catalog reload failed", slog.String("error", err.Error()))
		}
	}
	return s, true, nil
}

// Apply upserts a validated file: sources first, then templates, then rules
// with their names resolved to the stored ids.
func Apply(ctx context.Context, store domain.CatalogStore, f File) (Summary, error) {
	sourceIDs := make(map[string]string, len(f.Sources))
	for _, s := range f.Sources {
		src, err := store.UpsertSource(ctx, domain.EventSource{
			Name:        s.Name,
			Description: s.Description,
			Schema:      s.Schema,
			Active:      boolOr(s.Active, true),
		})
		if err != nil {
			return Summary{}, fmt.Errorf("catalog: upsert source %q: %w", s.Name, err)
		}
		sourceIDs[s.Name] = src.ID
	}

	templateIDs := make(map[string]string, len(f.Templates))
	for _, t := range f.Templates {
		ch, err := domain.ParseChannel(t.Channel)
		if err != nil {
			return Summary{}, fmt.Errorf("catalog: template %q: %w", t.Name, err)
		}
		tpl, err := store.UpsertTemplate(ctx, domain.Template{
			Name:    t.Name,
			Channel: ch,
			Subject: t.Subject,
			Body:    t.Body,
		})
		if err != nil {
			return Summary{}, fmt.Errorf("catalog: upsert template %q: %w", t.Name, err)
		}
		templateIDs[t.Name] = tpl.ID
	}

	for _, r := range f.Rules {
		ch, err := domain.ParseChannel(r.Channel)
		if err != nil {
			return Summary{}, fmt.Errorf("catalog: rule %q: %w", r.Name, err)
		}
		srcID, ok := sourceIDs[r.Source]
		if !ok {
			return Summary{}, fmt.Errorf("catalog: rule %q: unknown source %q", r.Name, r.Source)
		}
		tplID, ok := templateIDs[r.Template]
		if !ok {
			return Summary{}, fmt.Errorf("catalog: rule %q: unknown template %q", r.Name, r.Template)
		}
		_, err = store.UpsertRule(ctx, domain.Rule{
			Name:          r.Name,
			EventSourceID: srcID,
			TemplateID:    tplID,
			Channel:       ch,
			Conditions:    r.Conditions,
			Recipients: domain.RecipientConfig{
				Email:      r.Recipients.Email,
				Phone:      r.Recipients.Phone,
				WebhookURL: r.Recipients.WebhookURL,
				Field:      r.Recipients.Field,
			},
			Active: boolOr(r.Active, true),
		})
		if err != nil {
			return Summary{}, fmt.Errorf("catalog: upsert rule %q: %w", r.Name, err)
		}
	}

	return Summary{
		Sources:   len(f.Sources),
		Templates: len(f.Templates),
		Rules:     len(f.Rules),
	}, nil
}
