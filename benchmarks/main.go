package benchmarks

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rayos-project/consensus/common"
	"github.com/rayos-project/consensus/kvstore"
	"github.com/rayos-project/consensus/persistent"
	"github.com/rayos-project/consensus/raft"
	"github.com/rayos-project/consensus/rpc"
	"go.uber.org/multierr"
)

func runServer(cfg common.ClusterConfig, index int) *raft.RaftServer {
	if index < 0 || index >= len(cfg.Cluster) {
		fmt.Printf("invalid index: %d (config file specified %d servers only)\n", index, len(cfg.Cluster))
		os.Exit(2)
	}
	me := cfg.Cluster[index]
	logStore, logErr := persistent.CreateDbLogStore(fmt.Sprintf("%v_logstore.db", me.ID))
	pStore, pErr := persistent.NewPStore(fmt.Sprintf("%v_pstore.db", me.ID))
	if err := multierr.Combine(logErr, pErr); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	server := raft.NewRaftServer(
		me,
		cfg,
		kvstore.NewKeyValFSM(),
		logStore,
		pStore,
		rpc.NewManager(),
	)
	if server == nil {
		os.Exit(2)
	}
	return server
}

func loadConfig(path string) common.ClusterConfig {
	cfg, err := common.LoadConfig(path)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	return cfg
}

func BenchmarkClientReadWriteThroughput(args []string) {
	flagset := flag.NewFlagSet("bench1", flag.ExitOnError)
	configFile := flagset.String("config", "config.toml", "TOML file containing cluster details")
	var numRequests int
	flagset.IntVar(&numRequests, "numRequests", 100, "Number of client requests to send")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	cfg := loadConfig(*configFile)

	store, err := kvstore.NewKeyValStore(cfg.Cluster, rpc.NewManager())
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	fmt.Println("Running Performance Check: Client Read Write Throughput")
	start := time.Now()
	for i := 0; i < numRequests; i++ {
		key := fmt.Sprintf("key%d", i)
		val := fmt.Sprintf("val%d", i)
		store.Set(key, val)
	}
	writeTime := time.Since(start)
	fmt.Printf("[Benchmark] %d write requests took %s on %d servers.\n", numRequests, writeTime, len(cfg.Cluster))

	start = time.Now()
	for i := 0; i < numRequests; i++ {
		key := fmt.Sprintf("key%d", i)
		store.Get(key)
	}
	readTime := time.Since(start)
	fmt.Printf("[Benchmark] %d read requests took %s on %d servers.\n", numRequests, readTime, len(cfg.Cluster))
}

func BenchmarkServerCatchUpTime(args []string) {
	flagset := flag.NewFlagSet("bench2", flag.ExitOnError)
	configFile := flagset.String("config", "config.toml", "TOML file containing cluster details")
	var numRequests, laggingServerIndex int
	flagset.IntVar(&numRequests, "numRequests", 100, "Number of client requests to send")
	flagset.IntVar(&laggingServerIndex, "laggingServerIndex", 2, "Server index which lags")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	cfg := loadConfig(*configFile)

	store, err := kvstore.NewKeyValStore(cfg.Cluster, rpc.NewManager())
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	fmt.Println("Running Performance Check: Server catch up time")
	numLogsToCatchUp := numRequests
	for i := 0; i < numLogsToCatchUp; i++ {
		key := fmt.Sprintf("key%d", i)
		val := fmt.Sprintf("val%d", i)
		store.Set(key, val)
	}

	laggingServer := runServer(cfg, laggingServerIndex)
	start := time.Now()
	// Assuming correctness
	for {
		logLength, _ := laggingServer.LogStore.Length()
		if int(logLength) == numLogsToCatchUp+1 {
			break
		}
	}
	elapsed := time.Since(start)
	fmt.Printf("[Benchmark] lagging server took %s to catch up %d entries on a %d server raft.\n", elapsed, numLogsToCatchUp, len(cfg.Cluster))
}

func BenchmarkParallelClientThroughput(args []string) {
	flagset := flag.NewFlagSet("bench3", flag.ExitOnError)
	configFile := flagset.String("config", "config.toml", "TOML file containing cluster details")
	var numRequests int
	flagset.IntVar(&numRequests, "numRequests", 100, "Number of client requests to send")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	cfg := loadConfig(*configFile)

	fmt.Println("Running Performance Check: Parallel Client Throughput")
	reqsPerThread := numRequests / 10
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 10; i++ {
		index := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			store, err := kvstore.NewKeyValStore(cfg.Cluster, rpc.NewManager())
			if err != nil {
				fmt.Println(err)
				os.Exit(2)
			}
			for i := index * reqsPerThread; i < (index+1)*reqsPerThread; i++ {
				key := fmt.Sprintf("key%d", i)
				val := fmt.Sprintf("val%d", i)
				store.Set(key, val)
			}
		}()
	}
	wg.Wait()
	writeTime := time.Since(start)
	fmt.Printf("[Benchmark] %d write requests took %s on %d servers.\n", numRequests, writeTime, len(cfg.Cluster))
}
