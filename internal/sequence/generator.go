// Package sequence mints globally unique, time-ordered 64-bit ids.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/planet42129/hdmp-redis/internal/port"
)

const (
	counterKeyPrefix = "icr:"
	counterBits      = 32
)

// epoch anchors the timestamp half of every id.
var epoch = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator packs seconds-since-epoch into the high 31 bits and a per-day
// atomic counter into the low 32 bits. Ids are strictly increasing within a
// calendar-day bucket and collision-free below 2^32 ids per day, so they are
// safe as primary keys and as "recently created" sort keys.
type Generator struct {
	store port.CacheStore
}

func New(store port.CacheStore) *Generator {
	return &Generator{store: store}
}

func (g *Generator) NextID(ctx context.Context, bizTag string) (int64, error) {
	now := time.Now().UTC()
	elapsed := now.Unix() - epoch.Unix()

	day := now.Format("2006:01:02")
	count, err := g.store.Increment(ctx, counterKeyPrefix+bizTag+":"+day)
	if err != nil {
		return 0, fmt.Errorf("increment %s counter: %w", bizTag, err)
	}

	return elapsed<<counterBits | count, nil
}
