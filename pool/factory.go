package pool

import "math"

// NewBatchFactory returns a ValueFactory that hands out values from a
// fixed slice in batches of batchSize, shrinking each batch toward the
// remaining shortfall (targetSuccesses - currentSuccesses) as successes
// accumulate, per spec §4.1. It is the Go binding of
// nucypher's utilities/concurrency.py BatchValueFactory / the decryption
// client's ThresholdDecryptionRequestFactory.
func NewBatchFactory[V comparable](values []V, targetSuccesses, batchSize int) ValueFactory[V] {
	offset := 0
	return func(currentSuccesses int) ([]V, error) {
		if offset >= len(values) {
			return nil, nil
		}
		remaining := targetSuccesses - currentSuccesses
		if remaining <= 0 {
			return nil, nil
		}
		size := batchSize
		if remaining < size {
			size = remaining
		}
		end := offset + size
		if end > len(values) {
			end = len(values)
		}
		batch := values[offset:end]
		offset = end
		return batch, nil
	}
}

// NewAllAtOnceFactory returns a ValueFactory that hands out every value in
// a single batch on the first call and signals exhaustion on every
// subsequent call. It binds nucypher's AllAtOnceFactory for callers (and
// tests) that don't need staggered batches.
func NewAllAtOnceFactory[V comparable](values []V) ValueFactory[V] {
	produced := false
	return func(_ int) ([]V, error) {
		if produced {
			return nil, nil
		}
		produced = true
		return values, nil
	}
}

// CeilRatio computes ceil(numerator * ratio) as used throughout the
// decryption client for batch-size and pool-size sizing (e.g.
// ceil(1.25*threshold), ceil(1.5*threshold)).
func CeilRatio(numerator int, ratio float64) int {
	return int(math.Ceil(float64(numerator) * ratio))
}
