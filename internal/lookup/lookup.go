// Package lookup finds short community names for activity labels.
//
// Candidates come back in preference order and are not validated here;
// the naming resolver decides which one (if any) is close enough.
package lookup

import (
	"context"
	"log/slog"
)

// Entry is one curated label → short name pair in the catalog index.
type Entry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Short string `json:"short"`
}

// Service tries the Meilisearch catalog while it is healthy and falls back
// to Google Custom Search when the catalog has no entry for the label.
type Service struct {
	meili  *Meili
	google *Google
	logger *slog.Logger
}

// NewService wires the backends. Either may be nil when not configured.
func NewService(meili *Meili, google *Google, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{meili: meili, google: google, logger: logger}
}

// Lookup returns candidate short names for label. No backend, or no
// result from any backend, yields an empty slice and a nil error.
func (s *Service) Lookup(ctx context.Context, label string) ([]string, error) {
	if s.meili != nil && s.meili.Healthy() {
		candidates, err := s.meili.Lookup(ctx, label)
		if err == nil && len(candidates) > 0 {
			return candidates, nil
		}
		if err != nil {
			s.logger.Warn("lookup: meilisearch error, falling back to google", "label", label, "err", err)
		}
		if err == nil {
			s.logger.Debug("lookup: not catalogued, asking google", "label", label)
		}
	}

	if s.google == nil {
		return nil, nil
	}
	return s.google.Lookup(ctx, label)
}

// Remember pushes an accepted mapping into the catalog (fire-and-forget).
func (s *Service) Remember(label, short string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Index([]Entry{NewEntry(label, short)}); err != nil {
			s.logger.Warn("lookup: index entry", "label", label, "err", err)
		}
	}()
}

// Seed bulk-loads known mappings into the catalog. Called during bootstrap
// so names learned before the index existed become searchable.
func (s *Service) Seed(entries map[string]string) {
	if s.meili == nil || !s.meili.Healthy() || len(entries) == 0 {
		return
	}
	docs := make([]Entry, 0, len(entries))
	for label, short := range entries {
		docs = append(docs, NewEntry(label, short))
	}
	if err := s.meili.Index(docs); err != nil {
		s.logger.Warn("lookup: seed catalog", "entries", len(docs), "err", err)
	}
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
