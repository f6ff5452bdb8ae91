package util

import "iter"

// SeqFirst returns the first value yielded by seq, or false if seq yields nothing.
func SeqFirst[V any](seq iter.Seq[V]) (V, bool) {
	for v := range seq {
		return v, true
	}
	var v V
	return v, false
}

// SeqFirst2 returns the first key/value pair yielded by seq, or false if seq yields nothing.
func SeqFirst2[K, V any](seq iter.Seq2[K, V]) (K, V, bool) {
	for k, v := range seq {
		return k, v, true
	}
	var (
		k K
		v V
	)
	return k, v, false
}

// SeqValues projects a key/value sequence down to just its values, discarding keys.
func SeqValues[K, V any](seq iter.Seq2[K, V]) iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range seq {
			if !yield(v) {
				return
			}
		}
	}
}
