// Package placement decides which partition a document is written to.
package placement

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// BucketCount is the number of hash buckets spread over the partitions
const BucketCount = 1 << 14

var (
	// ErrNoPartitions is returned when a router is created without partitions
	ErrNoPartitions = errors.New("placement: no partitions")

	// ErrUnknownPolicy is returned for an unrecognized policy name
	ErrUnknownPolicy = errors.New("placement: unknown policy")
)

// Router maps a document URI to a partition index
type Router interface {
	Place(uri string) int
	// CountBased reports whether one placement is reused for a run of
	// documents until the caller resets it.
	CountBased() bool
}

// Rollbacker is implemented by routers that keep speculative per-partition
// bookkeeping which must be undone when a batch never reached the store.
type Rollbacker interface {
	Rollback(partition int)
}

// Policy names a placement algorithm
type Policy string

const (
	PolicyLegacy      Policy = "legacy"
	PolicyBucket      Policy = "bucket"
	PolicyStatistical Policy = "statistical"
)

// New creates a router for policy over the given number of partitions.
// batchSize is the number of documents one statistical placement accounts for.
func New(policy Policy, partitions, batchSize int) (Router, error) {
	if partitions < 1 {
		return nil, ErrNoPartitions
	}
	switch Policy(strings.ToLower(string(policy))) {
	case PolicyLegacy, "":
		return NewLegacy(partitions), nil
	case PolicyBucket:
		return NewBucket(partitions), nil
	case PolicyStatistical:
		return NewStatistical(make([]int64, partitions), batchSize), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
}

// Legacy hashes the URI directly onto a partition
type Legacy struct {
	partitions int
}

func NewLegacy(partitions int) *Legacy {
	return &Legacy{partitions: partitions}
}

func (l *Legacy) Place(uri string) int {
	return int(xxhash.Sum64String(uri) % uint64(l.partitions))
}

func (l *Legacy) CountBased() bool { return false }

// Bucket hashes the URI onto a fixed set of buckets, each owned by a
// partition, so adding partitions moves only the reassigned buckets.
type Bucket struct {
	owners []int
}

func NewBucket(partitions int) *Bucket {
	owners := make([]int, BucketCount)
	for i := range owners {
		owners[i] = i % partitions
	}
	return &Bucket{owners: owners}
}

func (b *Bucket) Place(uri string) int {
	return b.owners[xxhash.Sum64String(uri)%BucketCount]
}

func (b *Bucket) CountBased() bool { return false }

// Statistical sends each run of documents to the partition currently holding
// the fewest, counting a whole batch speculatively at placement time.
type Statistical struct {
	mu        sync.Mutex
	counts    []int64
	batchSize int64
}

// NewStatistical starts from the given per-partition document counts
func NewStatistical(counts []int64, batchSize int) *Statistical {
	if batchSize < 1 {
		batchSize = 1
	}
	c := make([]int64, len(counts))
	copy(c, counts)
	return &Statistical{counts: c, batchSize: int64(batchSize)}
}

func (s *Statistical) Place(string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := 0
	for i, n := range s.counts {
		if n < s.counts[best] {
			best = i
		}
	}
	s.counts[best] += s.batchSize
	return best
}

func (s *Statistical) CountBased() bool { return true }

// Rollback undoes the speculative count of one batch on partition
func (s *Statistical) Rollback(partition int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if partition >= 0 && partition < len(s.counts) {
		s.counts[partition] -= s.batchSize
	}
}

// Counts returns a copy of the per-partition counts
func (s *Statistical) Counts() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make([]int64, len(s.counts))
	copy(c, s.counts)
	return c
}
