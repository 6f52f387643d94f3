package registry

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/tachyon/internal/core/models"
)

// DefaultShardCount is used when NewViewedEntities is given a non-positive count.
const DefaultShardCount = 16

type viewedShard struct {
	mu       sync.RWMutex
	entities map[models.ViewID]models.Viewed
}

// ViewedEntities maps view identities to viewed entities. Keys are spread over
// shards by xxhash so sockets touching unrelated entities do not contend on one lock.
type ViewedEntities struct {
	shards []*viewedShard
}

func NewViewedEntities(shardCount int) *ViewedEntities {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}

	shards := make([]*viewedShard, shardCount)
	for i := range shards {
		shards[i] = &viewedShard{entities: make(map[models.ViewID]models.Viewed)}
	}

	return &ViewedEntities{shards: shards}
}

func (v *ViewedEntities) shardFor(id models.ViewID) *viewedShard {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], uint64(id))
	return v.shards[xxhash.Sum64(key[:])%uint64(len(v.shards))]
}

// Watch stores entity under its view identity, replacing any entity already
// stored under the same identity.
func (v *ViewedEntities) Watch(entity models.Viewed) {
	id := entity.View().EntityViewID
	shard := v.shardFor(id)

	shard.mu.Lock()
	shard.entities[id] = entity
	shard.mu.Unlock()
}

// Unwatch removes the entity with the given view identity or fails with ErrNotFound.
func (v *ViewedEntities) Unwatch(id models.ViewID) error {
	shard := v.shardFor(id)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.entities[id]; !ok {
		return fmt.Errorf("%w: viewed entity with view ID %d", ErrNotFound, id)
	}
	delete(shard.entities, id)
	return nil
}

// Get returns the entity watched under id.
func (v *ViewedEntities) Get(id models.ViewID) (models.Viewed, bool) {
	shard := v.shardFor(id)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entity, ok := shard.entities[id]
	return entity, ok
}

func (v *ViewedEntities) Len() int {
	total := 0
	for _, shard := range v.shards {
		shard.mu.RLock()
		total += len(shard.entities)
		shard.mu.RUnlock()
	}
	return total
}

// Snapshot returns the watched entities ordered by view identity.
func (v *ViewedEntities) Snapshot() []models.Viewed {
	var entities []models.Viewed
	for _, shard := range v.shards {
		shard.mu.RLock()
		for _, entity := range shard.entities {
			entities = append(entities, entity)
		}
		shard.mu.RUnlock()
	}

	sort.Slice(entities, func(i, j int) bool {
		return entities[i].View().EntityViewID < entities[j].View().EntityViewID
	})
	return entities
}
