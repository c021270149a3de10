package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/geseq/objectpool"
	"github.com/geseq/objectpool/internal/order"
	"github.com/geseq/objectpool/local"
	"github.com/geseq/objectpool/pkg/pool"
	decimal "github.com/geseq/udecimal"
	"github.com/loov/hrtime"
)

type quotes struct {
	rand                   *rand.Rand
	lowerBound, upperBound decimal.Decimal
	minSpread              decimal.Decimal
	bid, ask               decimal.Decimal
	qty                    decimal.Decimal
	tok                    uint64
}

// shift moves both quotes by one spread, down or up.
func (q *quotes) shift(down bool) {
	if down {
		q.bid, q.ask = q.bid.Sub(q.minSpread), q.ask.Sub(q.minSpread)
		return
	}
	q.bid, q.ask = q.bid.Add(q.minSpread), q.ask.Add(q.minSpread)
}

func (q *quotes) next(o *order.Order) {
	q.shift(q.rand.Intn(10) < 5)
	switch {
	case q.bid.LessThan(q.lowerBound):
		q.shift(false)
	case q.bid.GreaterThan(q.upperBound):
		q.shift(true)
	}

	q.tok++
	if q.tok%2 == 0 {
		o.Set(q.tok, order.Buy, q.qty, q.bid)
	} else {
		o.Set(q.tok, order.Sell, q.qty, q.ask)
	}
	o.Compose()
}

// run measures acquire, fill and release of one payload per lap.
func run[H pool.Releaser](name string, n int, p pool.Interface[H], fill func(H)) {
	bench := hrtime.NewBenchmark(n)
	for bench.Next() {
		h, ok := p.Acquire()
		if !ok {
			panic(fmt.Sprintf("%s: pool exhausted", name))
		}
		fill(h)
		h.Release()
	}

	fmt.Printf("== %s ==\n", name)
	fmt.Println(bench.Histogram(10))
}

func main() {
	seed := flag.Int64("seed", time.Now().UnixNano(), "rand seed")
	n := flag.Int("n", 1_000_000, "number of laps per variant")
	capacity := flag.Int("capacity", 1, "pool capacity")
	lb := flag.String("l", "50.0", "lower bound")
	ub := flag.String("u", "100.0", "upper bound")
	ms := flag.String("m", "0.25", "min spread")
	flag.Parse()

	newQuotes := func() *quotes {
		q := &quotes{
			rand:       rand.New(rand.NewSource(*seed)),
			lowerBound: decimal.MustParse(*lb),
			upperBound: decimal.MustParse(*ub),
			minSpread:  decimal.MustParse(*ms),
			qty:        decimal.NewI(10, 0),
		}
		q.bid = q.lowerBound.Add(q.upperBound).Div(decimal.NewI(2, 0))
		q.ask = q.bid.Sub(q.minSpread)
		return q
	}

	q := newQuotes()
	run[*pool.HeapHandle[*order.Order]]("heap", *n, pool.NewHeap(order.New), func(h *pool.HeapHandle[*order.Order]) {
		q.next(h.Value)
	})

	q = newQuotes()
	run[*objectpool.Handle[*order.Order]]("objectpool", *n, objectpool.New(*capacity, order.New), func(h *objectpool.Handle[*order.Order]) {
		g, err := h.Write()
		if err != nil {
			panic(err)
		}
		q.next(g.Value())
		g.Unlock()
	})

	q = newQuotes()
	run[*local.Handle[*order.Order]]("local", *n, local.New(*capacity, order.New), func(h *local.Handle[*order.Order]) {
		w := h.BorrowMut()
		q.next(w.Value())
		w.Release()
	})
}
