package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/rayos-project/consensus/benchmarks"
	"github.com/rayos-project/consensus/common"
	"github.com/rayos-project/consensus/kvstore"
	"github.com/rayos-project/consensus/kvstore/client"
	"github.com/rayos-project/consensus/persistent"
	"github.com/rayos-project/consensus/raft"
	"github.com/rayos-project/consensus/rpc"
	"go.uber.org/multierr"
)

func runServer(args []string) {
	flagset := flag.NewFlagSet("server", flag.ExitOnError)
	configFile := flagset.String("config", "", "TOML file containing cluster & configuration details")
	index := flagset.Int("me", -1, "Index of this server in the config file")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	clusterConfig, err := common.LoadConfig(*configFile)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	if *index < 0 || *index >= len(clusterConfig.Cluster) {
		fmt.Printf("invalid index: %d (config file specified %d servers only)\n", *index, len(clusterConfig.Cluster))
		os.Exit(2)
	}

	me := clusterConfig.Cluster[*index]
	logStore, logErr := persistent.CreateDbLogStore(fmt.Sprintf("%v_logstore.db", me.ID))
	pStore, pErr := persistent.NewPStore(fmt.Sprintf("%v_pstore.db", me.ID))
	if err := multierr.Combine(logErr, pErr); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	server := raft.NewRaftServer(
		me,
		clusterConfig,
		kvstore.NewKeyValFSM(),
		logStore,
		pStore,
		rpc.NewManager(),
	)
	if server == nil {
		os.Exit(2)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	fmt.Println("Stopping server ...")
	if err := server.Stop(); err != nil {
		fmt.Println(err)
	}
}

func generateConfig(args []string) {
	flagset := flag.NewFlagSet("config", flag.ExitOnError)
	var filepath, servers string
	var electionTimeoutMin, electionTimeoutMax, heartbeatInterval int
	flagset.StringVar(&filepath, "file", "config.toml", "full path of config file to write to")
	flagset.StringVar(&servers, "servers", "localhost:12345,localhost:12346,localhost:12347", "comma-seperated list of server addresses of raft servers")
	flagset.IntVar(&electionTimeoutMin, "electionTimeoutMin", 200, "lower bound of randomized election timeout (in milliseconds)")
	flagset.IntVar(&electionTimeoutMax, "electionTimeoutMax", 400, "upper bound of randomized election timeout (in milliseconds)")
	flagset.IntVar(&heartbeatInterval, "heartbeatInterval", 50, "heartbeat interval (in milliseconds)")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	var cfg common.FileConfig
	for _, addr := range strings.Split(servers, ",") {
		cfg.Cluster = append(cfg.Cluster, common.Server{
			ID:         uuid.New(),
			NetAddress: common.ServerAddress(addr),
		})
	}
	cfg.HeartbeatInterval = heartbeatInterval
	cfg.ElectionTimeoutMin = electionTimeoutMin
	cfg.ElectionTimeoutMax = electionTimeoutMax

	if err := common.WriteConfig(filepath, cfg); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
}

func runClient(args []string) {
	flagset := flag.NewFlagSet("client", flag.ExitOnError)
	configFile := flagset.String("config", "", "TOML file containing cluster details")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	clusterConfig, err := common.LoadConfig(*configFile)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	err = client.RunCliClient(clusterConfig.Cluster, rpc.NewManager())
	fmt.Println(err)
}

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Printf("usage: %s config | server | client ...\n", os.Args[0])
		os.Exit(2)
	}
	switch args[0] {
	case "config":
		generateConfig(args[1:])
	case "server":
		runServer(args[1:])
	case "client":
		runClient(args[1:])
	case "bench1":
		benchmarks.BenchmarkClientReadWriteThroughput(args[1:])
	case "bench2":
		benchmarks.BenchmarkServerCatchUpTime(args[1:])
	case "bench3":
		benchmarks.BenchmarkParallelClientThroughput(args[1:])
	default:
		fmt.Printf("unknown sub-command: %s\n", args[0])
		os.Exit(2)
	}
}
