package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeRisshi25/dns-forwarder/cache"
	"github.com/codeRisshi25/dns-forwarder/config"
	"github.com/codeRisshi25/dns-forwarder/localzone"
	"github.com/codeRisshi25/dns-forwarder/log"
	"github.com/codeRisshi25/dns-forwarder/server"
	"github.com/codeRisshi25/dns-forwarder/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	if err = log.InitFromEnv(cfg.NodeEnv); err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Logger.Sync()
		time.Sleep(time.Second)
	}()

	log.Sugar.Infof("starting on %s:%d, node_env=%s", cfg.BindAddress, cfg.DNSPort, cfg.NodeEnv)

	zone, err := localzone.Load(cfg.LocalZoneFile)
	if err != nil {
		log.Sugar.Errorf("loading local zone: %v", err)
		return
	}

	srv, err := InitServer(cfg, zone)
	if err != nil {
		log.Sugar.Error(err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	s := <-sc
	log.Sugar.Infof("received signal %s, shutting down", s)

	cancel()
	srv.Stop()
}

// InitServer wires the cache client, upstream pool, and local zone into a
// listening server.
func InitServer(cfg *config.Config, zone *localzone.Zone) (*server.Server, error) {
	bindAddr := net.ParseIP(cfg.BindAddress)
	if bindAddr == nil {
		bindAddr = net.IPv4zero
	}

	c := cache.New(cfg.RedisHost, cfg.RedisPort)
	pool := upstream.New(cfg.Upstreams)

	return server.New(bindAddr, cfg.DNSPort, c, zone, pool)
}
