// Package naming picks the display name of an occupied room from what its
// occupants are doing.
package naming

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"roompool/bot/internal/platform"
)

const discoverTimeout = 30 * time.Second

// Cache is the persistent label → short name mapping.
type Cache interface {
	Get(label string) (string, bool)
	Put(ctx context.Context, label, short string) error
}

// Lookup returns candidate short names for a label, best first.
type Lookup interface {
	Lookup(ctx context.Context, label string) ([]string, error)
}

type Config struct {
	// Prefix names rooms nobody is doing anything in, "<Prefix> <n>".
	Prefix string
	// Learned, when set, is called after a candidate is accepted and cached.
	Learned func(label, short string)
	Logger  *slog.Logger
}

type Resolver struct {
	cache   Cache
	lookup  Lookup
	prefix  string
	learned func(label, short string)
	logger  *slog.Logger
	group   singleflight.Group
}

func NewResolver(cache Cache, lookup Lookup, cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		cache:   cache,
		lookup:  lookup,
		prefix:  cfg.Prefix,
		learned: cfg.Learned,
		logger:  cfg.Logger,
	}
}

// Resolve returns the name room should carry. fallbackIndex is the room's
// 1-based position among occupied rooms and is only used when no occupant
// reports an activity.
func (r *Resolver) Resolve(ctx context.Context, room platform.Room, fallbackIndex int) string {
	label := DominantActivity(room.Occupants)
	if label == "" {
		return r.prefix + " " + strconv.Itoa(fallbackIndex)
	}
	return r.shortName(ctx, label)
}

func (r *Resolver) shortName(ctx context.Context, label string) string {
	if short, ok := r.cache.Get(label); ok {
		return short
	}

	v, _, _ := r.group.Do(label, func() (any, error) {
		// Another caller may have filled the cache while we waited.
		if short, ok := r.cache.Get(label); ok {
			return short, nil
		}
		// Shared by every waiter, so it must outlive the first caller.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discoverTimeout)
		defer cancel()
		return r.discover(ctx, label), nil
	})
	return v.(string)
}

func (r *Resolver) discover(ctx context.Context, label string) string {
	if r.lookup == nil {
		return label
	}

	candidates, err := r.lookup.Lookup(ctx, label)
	if err != nil {
		r.logger.Warn("naming: lookup failed", "label", label, "err", err)
		return label
	}

	for _, candidate := range candidates {
		if !IsMatch(candidate, label) {
			r.logger.Debug("naming: candidate rejected", "label", label, "candidate", candidate)
			continue
		}
		if err := r.cache.Put(ctx, label, candidate); err != nil {
			r.logger.Error("naming: persist short name", "label", label, "short", candidate, "err", err)
		}
		if r.learned != nil {
			r.learned(label, candidate)
		}
		r.logger.Info("naming: short name found", "label", label, "short", candidate)
		return candidate
	}

	r.logger.Debug("naming: no matching short name", "label", label, "candidates", len(candidates))
	return label
}

// DominantActivity returns the most common activity label among non-bot
// occupants. Ties go to the label seen first; "" means nobody reports one.
func DominantActivity(occupants []platform.Occupant) string {
	counts := map[string]int{}
	var order []string
	for _, o := range occupants {
		if o.Bot || o.Activity == "" {
			continue
		}
		if counts[o.Activity] == 0 {
			order = append(order, o.Activity)
		}
		counts[o.Activity]++
	}

	best, bestCount := "", 0
	for _, label := range order {
		if counts[label] > bestCount {
			best, bestCount = label, counts[label]
		}
	}
	return best
}
