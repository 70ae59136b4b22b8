// Command hlctl exercises an Allocator against a synthetic workload and
// prints its statistics, useful for eyeballing fragmentation behaviour
// under different pool sizes and allocation mixes without writing a
// throwaway Go program each time.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"unsafe"

	"github.com/prataprc/golog"
	s "github.com/prataprc/gosettings"
	"github.com/prataprc/hlmalloc/api"
	"github.com/prataprc/hlmalloc/lib"
	"github.com/prataprc/hlmalloc/malloc"
	"github.com/prataprc/hlmalloc/pool"
)

var options struct {
	capacity  int64
	minsize   int64
	maxsize   int64
	rounds    int
	loglevel  string
	seed      int64
	printjson bool
}

func argParse() {
	flag.Int64Var(&options.capacity, "capacity", 0,
		"pool capacity in bytes, 0 picks a default from free system memory")
	flag.Int64Var(&options.minsize, "minsize", 64,
		"minimum allocation size to exercise")
	flag.Int64Var(&options.maxsize, "maxsize", 4096,
		"maximum allocation size to exercise")
	flag.IntVar(&options.rounds, "rounds", 10000,
		"number of allocate/deallocate rounds to run")
	flag.StringVar(&options.loglevel, "loglevel", "info", "log level")
	flag.Int64Var(&options.seed, "seed", 1, "random seed for the workload")
	flag.BoolVar(&options.printjson, "json", false, "print final stats as pretty JSON")
	flag.Parse()
}

func main() {
	argParse()
	log.SetLogger(nil, map[string]interface{}{"log.level": options.loglevel, "log.file": ""})

	capacity := options.capacity
	if capacity == 0 {
		capacity = pool.SuggestedCapacity()
	}

	p := pool.New(capacity)
	defer p.Release()

	a := malloc.New(p, s.Settings{"name": "hlctl"})
	runWorkload(a)

	a.Validate()
	cap, allocated, free := a.Info()
	fmt.Printf("capacity=%v allocated=%v free=%v utilization=%.4f\n",
		cap, allocated, free, a.Utilization())
	if options.printjson {
		fmt.Println(a.Stats().String())
	}
}

// runWorkload allocates and frees randomly sized blocks for the
// configured number of rounds, freeing everything still outstanding at
// the end so a.Validate() sees a fully reconciled allocator.
func runWorkload(a *malloc.Allocator) {
	rnd := rand.New(rand.NewSource(options.seed))
	live := map[uintptr]int64{}

	span := options.maxsize - options.minsize
	randsize := func() int64 {
		size := options.minsize
		if span > 0 {
			size += rnd.Int63n(span)
		}
		return roundUp(size, api.Alignment)
	}

	for i := 0; i < options.rounds; i++ {
		if len(live) == 0 || rnd.Intn(2) == 0 {
			size := randsize()
			ptr := a.Allocate(size)
			if ptr != nil {
				live[addrOf(ptr)] = size
			}
			continue
		}
		for addr, size := range live {
			a.Deallocate(ptrOf(addr), size)
			delete(live, addr)
			break
		}
	}

	for addr, size := range live {
		a.Deallocate(ptrOf(addr), size)
	}
}

func roundUp(n, align int64) int64 {
	return lib.Ceildiv(n, align) * align
}

func addrOf(ptr unsafe.Pointer) uintptr {
	return uintptr(ptr)
}

func ptrOf(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}
