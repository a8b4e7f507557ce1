// Package shard routes records of sharded entity types to one of N physical
// tables named "<prefix>_<suffix>".
//
// The suffix is XXH3-64 over the UTF-8 concatenation of the configured key
// columns, reduced modulo the shard count. Changing the count or the column
// list moves almost every record, so it is only done by a re-sharding job
// that copies data into a new table set.
package shard

import (
	"fmt"
	"math/bits"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/zeebo/xxh3"
)

var prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Config describes how one entity type is spread across tables.
type Config struct {
	Prefix  string
	Columns []string
	Count   int
}

// Validate rejects configurations that cannot be routed: empty column list,
// a non power-of-two count, or a prefix that is not a plain SQL identifier.
func (c Config) Validate() error {
	if c.Count < 1 || bits.OnesCount(uint(c.Count)) != 1 {
		return fmt.Errorf("count %d is not a power of two: %w", c.Count, common.ErrInvalidShardConfig)
	}
	if len(c.Columns) == 0 {
		return fmt.Errorf("no sharding columns for %q: %w", c.Prefix, common.ErrInvalidShardConfig)
	}
	if !prefixPattern.MatchString(c.Prefix) {
		return fmt.Errorf("bad collection prefix %q: %w", c.Prefix, common.ErrInvalidShardConfig)
	}
	return nil
}

// Suffix maps key values to a shard index in [0, Count).
func (c Config) Suffix(values []string) int {
	h := xxh3.HashString(strings.Join(values, ""))
	return int(h % uint64(c.Count))
}

// CollectionName builds the physical table name of one shard.
func CollectionName(prefix string, suffix int) string {
	return prefix + "_" + strconv.Itoa(suffix)
}

// CollectionNames lists every physical table of the configuration in suffix order.
func (c Config) CollectionNames() []string {
	names := make([]string, c.Count)
	for i := range names {
		names[i] = CollectionName(c.Prefix, i)
	}
	return names
}

// Keyed is implemented by entities that can report the value of a sharding
// column. Implementations use an explicit switch over known column names.
type Keyed interface {
	ShardValue(column string) (string, bool)
}

// Values extracts the configured key columns from rec.
func (c Config) Values(rec Keyed) ([]string, error) {
	values := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		v, ok := rec.ShardValue(col)
		if !ok {
			return nil, fmt.Errorf("unknown sharding column %q: %w", col, common.ErrInvalidShardConfig)
		}
		values[i] = v
	}
	return values, nil
}

// CollectionFor returns the table rec belongs to under c.
func (c Config) CollectionFor(rec Keyed) (string, error) {
	values, err := c.Values(rec)
	if err != nil {
		return "", err
	}
	return CollectionName(c.Prefix, c.Suffix(values)), nil
}
