// Package testutils holds the fixtures shared by the test suites.
package testutils

import (
	"math/rand"

	"github.com/go-logr/logr"
	"github.com/onsi/ginkgo/v2"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// NewLogger returns a development logger that writes to the Ginkgo output. Use a negative level
// to see verbose logs.
func NewLogger(loglevel int) logr.Logger {
	return zap.New(zap.UseFlagOptions(&zap.Options{
		Development:     true,
		DestWriter:      ginkgo.GinkgoWriter,
		StacktraceLevel: zapcore.Level(3),
		TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
		Level:           zapcore.Level(loglevel),
	}))
}

// RandomEdges returns n random directed edges over the nodes 0..nodes-1. Self-loops and
// duplicates are allowed.
func RandomEdges(rng *rand.Rand, nodes int64, n int) [][2]int64 {
	ret := make([][2]int64, 0, n)
	for i := 0; i < n; i++ {
		ret = append(ret, [2]int64{rng.Int63n(nodes), rng.Int63n(nodes)})
	}
	return ret
}

// RandomLabels labels each of the nodes 0..nodes-1 with probability 1/every, with a label below
// max.
func RandomLabels(rng *rand.Rand, nodes int64, every int, max int64) [][2]int64 {
	ret := [][2]int64{}
	for n := int64(0); n < nodes; n++ {
		if rng.Intn(every) == 0 {
			ret = append(ret, [2]int64{n, rng.Int63n(max)})
		}
	}
	return ret
}
