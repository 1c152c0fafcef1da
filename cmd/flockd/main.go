package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/flockdb/flock/internal/cluster"
	"github.com/flockdb/flock/internal/command"
	"github.com/flockdb/flock/internal/config"
	"github.com/flockdb/flock/internal/metrics"
	"github.com/flockdb/flock/internal/record"
	"github.com/flockdb/flock/internal/server"
	"github.com/flockdb/flock/internal/social"
	"github.com/flockdb/flock/internal/storage"
	"github.com/flockdb/flock/internal/wire"
)

const packetTimeout = 1500 * time.Millisecond

func main() {
	configPath := flag.String("config", "config/constants.conf", "record layout configuration file")
	topologyPath := flag.String("topology", "config/topology.conf", "cluster topology file")
	root := flag.String("root", "data", "shard file directory")
	userPort := flag.Int("userport", 12001, "port serving client commands")
	internalPort := flag.Int("iport", 13001, "port serving peer messages")
	buffSize := flag.Int("buffsize", 1024, "packet size in bytes")
	metricsPort := flag.Int("metricsport", 0, "prometheus exposition port, 0 disables")
	heartbeat := flag.Duration("heartbeat", 5*time.Second, "peer liveness probe period")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	params, err := config.LoadParams(*configPath)
	if err != nil {
		log.Fatal("load configuration", zap.Error(err))
	}
	layout, err := record.NewLayout(params)
	if err != nil {
		log.Fatal("build record layout", zap.Error(err))
	}
	codec := record.NewCodec(layout)

	members, err := config.LoadTopology(*topologyPath)
	if err != nil {
		log.Fatal("load topology", zap.Error(err))
	}
	self := config.Member{UserPort: *userPort, InternalPort: *internalPort}
	if !inTopology(self, members) {
		log.Fatal("node ports not present in topology",
			zap.Int("userport", self.UserPort), zap.Int("iport", self.InternalPort))
	}

	if err := os.MkdirAll(*root, 0755); err != nil {
		log.Fatal("create storage root", zap.Error(err))
	}
	eng := storage.NewEngine(*root, codec, log)
	if err := eng.Init(); err != nil {
		log.Fatal("initialize storage", zap.Error(err))
	}

	svc := social.NewService(eng, codec, log)
	exec := command.NewExecutor(svc, log)
	met := metrics.New()
	tr := wire.NewTransport(*buffSize, packetTimeout, log)
	seq := &cluster.Sequence{}
	society := cluster.NewSociety(self, members, seq, tr, met, log)

	apply := func(line string) {
		cmd, err := command.Parse(line)
		if err != nil {
			log.Error("replicated command unparsable", zap.String("line", line), zap.Error(err))
			return
		}
		exec.Execute(cmd)
	}
	ledger := cluster.NewLedger(apply, tr, met, log)
	router := cluster.NewRouter(society, ledger, seq, exec, tr, met, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := server.Start(ctx, *userPort, router.HandleUser, log); err != nil {
			log.Fatal("user listener", zap.Error(err))
		}
	}()
	go func() {
		if err := server.Start(ctx, *internalPort, router.HandleInternal, log); err != nil {
			log.Fatal("internal listener", zap.Error(err))
		}
	}()
	go society.Heartbeats(ctx, *heartbeat)

	if *metricsPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", *metricsPort)
			if err := http.ListenAndServe(addr, met.Handler()); err != nil {
				log.Error("metrics listener", zap.Error(err))
			}
		}()
	}

	log.Info("flockd up",
		zap.Int("userport", *userPort),
		zap.Int("iport", *internalPort),
		zap.Bool("primary", society.IsPrimary()))

	waitForInterruptOrKill()
	log.Info("shutting down")
}

func inTopology(self config.Member, members []config.Member) bool {
	for _, m := range members {
		if m == self {
			return true
		}
	}
	return false
}

// waitForInterruptOrKill blocks until the process receives an interrupt
// (Ctrl+C) or termination signal.
func waitForInterruptOrKill() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
}
