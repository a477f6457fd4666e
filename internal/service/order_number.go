package service

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const orderSuffixSpace = 10000

var ErrOrderNumbersExhausted = errors.New("order numbers exhausted for today")

// IST is the calendar used for the date part of order numbers.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// OrderNumberGenerator hands out PREFIX-YYYYMMDD-NNNN numbers. Within a process each day's
// 10,000 suffixes are drawn from a shuffled pool, so no number repeats until the pool runs dry.
type OrderNumberGenerator struct {
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	rnd  *rand.Rand
	day  string
	pool []int
	used int
}

func NewOrderNumberGenerator(prefix string) *OrderNumberGenerator {
	return &OrderNumberGenerator{
		prefix: prefix,
		now:    time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *OrderNumberGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	day := g.now().In(IST).Format("20060102")
	if day != g.day || g.pool == nil {
		g.day = day
		g.used = 0
		g.pool = make([]int, orderSuffixSpace)
		for i := range g.pool {
			g.pool[i] = i
		}
	}

	if g.used >= len(g.pool) {
		return "", ErrOrderNumbersExhausted
	}

	// one step of Fisher-Yates
	j := g.used + g.rnd.Intn(len(g.pool)-g.used)
	g.pool[g.used], g.pool[j] = g.pool[j], g.pool[g.used]
	suffix := g.pool[g.used]
	g.used++

	return fmt.Sprintf("%s-%s-%04d", g.prefix, day, suffix), nil
}
