package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"verify-service/internal/config"
)

// BucketingManager assigns stable partition buckets for candidate rows and
// security events so wide tables stay evenly spread across the cluster.
type BucketingManager struct {
	candidateBuckets int
	eventBuckets     int
	hasherPool       sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		candidateBuckets: cfg.Bucketing.CandidateBuckets,
		eventBuckets:     cfg.Bucketing.EventBuckets,
	}

	// Pool of hash functions to avoid allocation overhead on hot paths
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// CandidateBucket returns the consistent bucket for a roll number
// (0 to candidateBuckets-1).
func (bm *BucketingManager) CandidateBucket(rollNumber string) int {
	return bm.getBucket(rollNumber, bm.candidateBuckets)
}

// EventBucket returns the bucket for a security event identifier.
func (bm *BucketingManager) EventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// DateBucket returns the UTC date partition for event rows.
func (bm *BucketingManager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
