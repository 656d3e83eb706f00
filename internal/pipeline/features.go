package pipeline

import (
	"github.com/ajitpratap0/strata/pkg/models"
)

// DeriveFeatures computes the feature row for one bucket. It is a pure
// function of the bucket row; ratios over an empty denominator are zero.
func DeriveFeatures(bucket *models.Row) *models.Row {
	requests := float64(bucket.Int("requests"))
	slices := float64(bucket.Int("slice_count"))

	errorRate := 0.0
	cacheHitRatio := 0.0
	crcErrorRate := 0.0
	bytesPerRequest := 0.0
	if requests > 0 {
		errorRate = float64(bucket.Int("http_4xx_count")+bucket.Int("http_5xx_count")) / requests
		cacheHitRatio = float64(bucket.Int("cache_hit_count")) / requests
		crcErrorRate = float64(bucket.Int("crc_errors")) / requests
		bytesPerRequest = float64(bucket.Int("bytes_sent")) / requests
	}
	requestsPerSlice := 0.0
	if slices > 0 {
		requestsPerSlice = requests / slices
	}

	return models.NewRow(models.LayerFeatures5m, map[string]any{
		"bucket_ts":          bucket.Time("bucket_ts"),
		"partner":            bucket.String("partner"),
		"service":            bucket.String("service"),
		"region":             bucket.String("region"),
		"pop":                bucket.String("pop"),
		"error_rate":         errorRate,
		"cache_hit_ratio":    cacheHitRatio,
		"crc_error_rate":     crcErrorRate,
		"p95_ms_avg":         bucket.Float("p95_ms_avg"),
		"bytes_per_request":  bytesPerRequest,
		"requests_per_slice": requestsPerSlice,
	})
}
