package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	meili "github.com/meilisearch/meilisearch-go"
)

const idxNames = "roompool_names"

// Meili serves candidates from a curated catalog index of short names.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates the client and configures the catalog index. An
// unreachable server is not an error; the health loop keeps retrying.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("lookup: meilisearch unavailable", "url", url, "err", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxNames,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("lookup: create index (may already exist)", "index", idxNames, "err", err)
	}

	searchable := []string{"title"}
	if _, err := m.client.Index(idxNames).UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("lookup: update searchable attrs", "index", idxNames, "err", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("lookup: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Lookup returns the short names catalogued under exactly label (ignoring
// case and surrounding space). Search ranks fuzzy neighbours too; those
// belong to other activities and are dropped.
func (m *Meili) Lookup(ctx context.Context, label string) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.Index(idxNames).SearchWithContext(ctx, label, &meili.SearchRequest{
		Limit: 5,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	var candidates []string
	for _, hit := range resp.Hits {
		if !sameTitle(decodeString(hit, "title"), label) {
			continue
		}
		if short := decodeString(hit, "short"); short != "" {
			candidates = append(candidates, short)
		}
	}
	return candidates, nil
}

// Index adds or updates catalog entries.
func (m *Meili) Index(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := m.client.Index(idxNames).AddDocuments(entries, nil)
	return err
}

// NewEntry derives a stable document id from the label so re-indexing the
// same label replaces its entry.
func NewEntry(label, short string) Entry {
	return Entry{
		ID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte("roompool:"+label)).String(),
		Title: label,
		Short: short,
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func sameTitle(title, label string) bool {
	return strings.EqualFold(strings.TrimSpace(title), strings.TrimSpace(label))
}
