package objectpool

import (
	"sync"
	"testing"
	"time"

	"fortio.org/fortio/stats"
)

func BenchmarkAcquireRelease(b *testing.B) {
	p := New(1024, newMonster)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, ok := p.Acquire()
		if !ok {
			b.Fatal("pool exhausted")
		}
		h.Release()
	}
}

func BenchmarkAcquireReleaseParallel(b *testing.B) {
	for _, policy := range []LockPolicy{SharedExclusive, Exclusive} {
		b.Run(policy.String(), func(b *testing.B) {
			p := New(1024, newMonster, WithLockPolicy(policy))

			b.ReportAllocs()
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					h, ok := p.Acquire()
					if !ok {
						continue
					}
					_ = h.Update((*monster).levelUp)
					h.Release()
				}
			})
		})
	}
}

var sink *monster

func BenchmarkPoolVsHeap(b *testing.B) {
	b.Run("heap", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			m := newMonster()
			m.levelUp()
			sink = m
		}
	})

	b.Run("pool", func(b *testing.B) {
		p := New(1, newMonster)

		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			h, _ := p.Acquire()
			g, _ := h.Write()
			g.Value().levelUp()
			sink = g.Value()
			g.Unlock()
			h.Release()
		}
	})
}

func BenchmarkLatency(b *testing.B) {
	p := New(64, newMonster)

	acquireHist := stats.NewHistogram(0, 1)
	releaseHist := stats.NewHistogram(0, 1)
	var mu sync.Mutex

	b.RunParallel(func(pb *testing.PB) {
		acquire := stats.NewHistogram(0, 1)
		release := stats.NewHistogram(0, 1)

		for pb.Next() {
			start := time.Now()
			h, ok := p.Acquire()
			acquire.Record(float64(time.Since(start).Nanoseconds()))
			if !ok {
				continue
			}

			start = time.Now()
			h.Release()
			release.Record(float64(time.Since(start).Nanoseconds()))
		}

		mu.Lock()
		acquireHist.Transfer(acquire)
		releaseHist.Transfer(release)
		mu.Unlock()
	})

	logPercentiles(b, "Acquire", acquireHist)
	logPercentiles(b, "Release", releaseHist)
}

func logPercentiles(b *testing.B, operationName string, h *stats.Histogram) {
	data := h.Export().CalcPercentiles([]float64{50, 75, 90, 95, 99, 99.9})

	b.Logf("Operation: %s (%d samples, avg %.1f ns)", operationName, data.Count, data.Avg)
	for _, p := range data.Percentiles {
		b.Logf("p%v: %.1f ns", p.Percentile, p.Value)
	}
}
