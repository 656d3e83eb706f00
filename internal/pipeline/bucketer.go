package pipeline

import (
	"math"
	"sort"
	"time"

	"github.com/ajitpratap0/strata/pkg/models"
)

// bucketWindow is the aggregation window for the buckets layer.
const bucketWindow = 5 * time.Minute

// Bucketer folds validated raw rows into five-minute buckets keyed by
// partner, service, region and pop. It is confined to a single goroutine;
// the zero value is not usable, use NewBucketer.
type Bucketer struct {
	buckets map[models.BucketKey]*bucketAccum
}

type bucketAccum struct {
	key models.BucketKey

	requests      int64
	bytesSent     int64
	cacheHitCount int64
	http4xx       int64
	http5xx       int64
	crcErrors     int64
	sliceCount    int64

	p95WeightedSum float64
	p95PlainSum    float64
	p99Max         float64
}

// NewBucketer creates an empty bucketer.
func NewBucketer() *Bucketer {
	return &Bucketer{buckets: make(map[models.BucketKey]*bucketAccum)}
}

// Add folds one raw row into its window. Rows carrying cache_status
// contribute one cache hit when the status is "hit"; aggregate rows without
// it contribute their cache_hit_rate scaled by request count.
func (b *Bucketer) Add(row *models.Row) {
	key := models.BucketKey{
		Partner: row.String("partner"),
		Service: row.String("service"),
		Region:  row.String("region"),
		Pop:     row.String("pop"),
		Bucket:  row.Time("ts").Truncate(bucketWindow),
	}

	acc, ok := b.buckets[key]
	if !ok {
		acc = &bucketAccum{key: key}
		b.buckets[key] = acc
	}

	requests := row.Int("requests")
	acc.requests += requests
	acc.bytesSent += row.Int("bytes_sent")
	acc.http4xx += row.Int("http_4xx_count")
	acc.http5xx += row.Int("http_5xx_count")
	acc.crcErrors += row.Int("crc_errors")
	acc.sliceCount++

	if row.Has("cache_status") {
		if row.String("cache_status") == "hit" {
			acc.cacheHitCount++
		}
	} else {
		acc.cacheHitCount += int64(math.Round(row.Float("cache_hit_rate") * float64(requests)))
	}

	p95 := row.Float("p95_ms")
	acc.p95WeightedSum += p95 * float64(requests)
	acc.p95PlainSum += p95
	if p99 := row.Float("p99_ms"); p99 > acc.p99Max {
		acc.p99Max = p99
	}
}

// Len reports the number of open windows.
func (b *Bucketer) Len() int { return len(b.buckets) }

// Flush materializes all windows as bucket rows, ordered by window start and
// key, and resets the bucketer.
func (b *Bucketer) Flush() []*models.Row {
	accums := make([]*bucketAccum, 0, len(b.buckets))
	for _, acc := range b.buckets {
		accums = append(accums, acc)
	}
	sort.Slice(accums, func(i, j int) bool {
		a, b := accums[i].key, accums[j].key
		if !a.Bucket.Equal(b.Bucket) {
			return a.Bucket.Before(b.Bucket)
		}
		if a.Partner != b.Partner {
			return a.Partner < b.Partner
		}
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		return a.Pop < b.Pop
	})

	rows := make([]*models.Row, 0, len(accums))
	for _, acc := range accums {
		rows = append(rows, acc.row())
	}
	b.buckets = make(map[models.BucketKey]*bucketAccum)
	return rows
}

func (a *bucketAccum) row() *models.Row {
	// Request-weighted p95 average; falls back to the plain mean when the
	// window saw no requests.
	p95Avg := 0.0
	if a.requests > 0 {
		p95Avg = a.p95WeightedSum / float64(a.requests)
	} else if a.sliceCount > 0 {
		p95Avg = a.p95PlainSum / float64(a.sliceCount)
	}

	return models.NewRow(models.LayerBuckets5m, map[string]any{
		"bucket_ts":       a.key.Bucket,
		"partner":         a.key.Partner,
		"service":         a.key.Service,
		"region":          a.key.Region,
		"pop":             a.key.Pop,
		"requests":        a.requests,
		"bytes_sent":      a.bytesSent,
		"cache_hit_count": a.cacheHitCount,
		"http_4xx_count":  a.http4xx,
		"http_5xx_count":  a.http5xx,
		"crc_errors":      a.crcErrors,
		"slice_count":     a.sliceCount,
		"p95_ms_avg":      p95Avg,
		"p99_ms_max":      a.p99Max,
	})
}
