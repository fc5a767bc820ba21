// Command vela-bench drives a sequential Put/Get/Delete workload or a
// random-key Put/Get workload against a vela table and reports elapsed
// time per phase,
// adapted from the teacher's bench/bench.go (same three-phase
// sequential benchmark, same random-key variant) with its bare `flag`
// usage replaced by pflag and its fmt.Printf reporting replaced by
// structured zap logging.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/vela-db/vela"
	"github.com/vela-db/vela/codec"
	"go.uber.org/zap"
)

func main() {
	dir := pflag.StringP("dir", "d", "vela-bench-db", "table directory to benchmark against")
	numOps := pflag.IntP("ops", "n", 100000, "number of operations per phase")
	random := pflag.BoolP("random", "r", false, "use random keys instead of sequential ones")
	keep := pflag.Bool("keep", false, "keep the table directory after the run")
	pflag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "vela-bench: building logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if !*keep {
		defer os.RemoveAll(*dir)
	}

	db, err := vela.Open(*dir, vela.Options{
		Schema: &codec.Schema{
			TableName:     "bench",
			KeyType:       codec.NewVarcharType("", nil),
			ValueType:     codec.NewVarcharType("", nil),
			TombstoneType: codec.BoolType(),
		},
		Logger: logger,
	})
	if err != nil {
		sugar.Fatalw("opening table", "error", err)
	}
	defer db.Close()

	if *random {
		runRandom(sugar, db, *numOps)
	} else {
		runSequential(sugar, db, *numOps)
	}
}

func runSequential(sugar *zap.SugaredLogger, db *vela.DB, numOps int) {
	start := time.Now()
	for i := 0; i < numOps; i++ {
		if err := db.Put(fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i)); err != nil {
			sugar.Fatalw("put failed", "error", err)
		}
	}
	sugar.Infow("put phase complete", "ops", numOps, "seconds", time.Since(start).Seconds())

	start = time.Now()
	for i := 0; i < numOps; i++ {
		if _, _, err := db.Get(fmt.Sprintf("key%d", i)); err != nil {
			sugar.Fatalw("get failed", "error", err)
		}
	}
	sugar.Infow("get phase complete", "ops", numOps, "seconds", time.Since(start).Seconds())

	start = time.Now()
	for i := 0; i < numOps; i++ {
		if err := db.Delete(fmt.Sprintf("key%d", i)); err != nil {
			sugar.Fatalw("delete failed", "error", err)
		}
	}
	sugar.Infow("delete phase complete", "ops", numOps, "seconds", time.Since(start).Seconds())
}

func runRandom(sugar *zap.SugaredLogger, db *vela.DB, numOps int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	start := time.Now()
	for i := 0; i < numOps; i++ {
		key := fmt.Sprintf("key%d", rng.Intn(numOps))
		if err := db.Put(key, fmt.Sprintf("value%d", i)); err != nil {
			sugar.Fatalw("put failed", "error", err)
		}
	}
	sugar.Infow("random put phase complete", "ops", numOps, "seconds", time.Since(start).Seconds())

	start = time.Now()
	for i := 0; i < numOps; i++ {
		key := fmt.Sprintf("key%d", rng.Intn(numOps))
		if _, _, err := db.Get(key); err != nil {
			sugar.Fatalw("get failed", "error", err)
		}
	}
	sugar.Infow("random get phase complete", "ops", numOps, "seconds", time.Since(start).Seconds())
}
