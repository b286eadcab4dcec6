package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/http2"

	kinesishttp "kinesisbox/http"
	"kinesisbox/server"
	"kinesisbox/services/kinesis"
)

func parseConfig() Config {
	var c Config

	flag.IntVar(&c.PlainPort, "plainPort", 4567, "Plain HTTP/2 (h2c) listen port")
	flag.IntVar(&c.TLSPort, "tlsPort", -1, "TLS listen port; disabled if -1")
	flag.StringVar(&c.TLSCert, "tlsCert", "", "Path to the TLS certificate, required if -tlsPort is set")
	flag.StringVar(&c.TLSKey, "tlsKey", "", "Path to the TLS private key, required if -tlsPort is set")

	flag.StringVar(&c.AwsAccountId, "awsAccountId", "000000000000", "Synthetic account ID embedded in generated ARNs")
	flag.StringVar(&c.AwsRegion, "awsRegion", "us-east-1", "Default region for requests with no resolvable SigV4 credential scope")

	flag.DurationVar(&c.CreateStreamDuration, "createStreamDuration", 500*time.Millisecond, "Delay before a CREATING stream becomes ACTIVE")
	flag.DurationVar(&c.DeleteStreamDuration, "deleteStreamDuration", 500*time.Millisecond, "Delay before a DELETING stream is removed")
	flag.DurationVar(&c.UpdateStreamDuration, "updateStreamDuration", 500*time.Millisecond, "Delay before an UPDATING stream becomes ACTIVE")
	flag.DurationVar(&c.DefaultRetention, "defaultRetention", 24*time.Hour, "Default retention period for newly created streams")

	flag.IntVar(&c.ShardLimit, "shardLimit", kinesis.DefaultLimits.ShardLimitPerAccount, "Maximum open shards per account per region")
	flag.IntVar(&c.OnDemandStreamShardLimit, "onDemandStreamShardLimit", kinesis.DefaultLimits.OnDemandStreamShardLimit, "Maximum open shards for a single ON_DEMAND stream")
	flag.IntVar(&c.OnDemandStreamCountLimit, "onDemandStreamCountLimit", 0, "Maximum ON_DEMAND streams per account per region; 0 means unlimited")
	flag.IntVar(&c.MaxShardsPerStream, "maxShardsPerStream", kinesis.DefaultLimits.MaxShardsPerStream, "Maximum shards any single stream may hold")

	flag.BoolVar(&c.Persist.ShouldPersist, "shouldPersist", false, "Periodically snapshot state to -persistPath")
	flag.DurationVar(&c.Persist.Interval, "persistInterval", time.Minute, "Interval between snapshots when -shouldPersist is set")
	flag.StringVar(&c.Persist.Path, "persistPath", "", "Snapshot file path, required if -shouldPersist or -loadIfExists is set")
	flag.BoolVar(&c.Persist.LoadIfExists, "loadIfExists", false, "Restore from -persistPath on startup if it exists")

	flag.StringVar(&c.LogLevel, "logLevel", "INFO", "slog level: DEBUG, INFO, WARN, or ERROR")

	flag.Parse()
	return c
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func main() {
	config := parseConfig()

	levelVar := &slog.LevelVar{}
	levelVar.Set(parseLogLevel(config.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	cache := kinesis.New(kinesis.Options{
		Logger:               logger,
		AwsAccountId:         config.AwsAccountId,
		DefaultRegion:        config.AwsRegion,
		DefaultRetention:     config.DefaultRetention,
		StreamCreateDuration: config.CreateStreamDuration,
		StreamDeleteDuration: config.DeleteStreamDuration,
		StreamUpdateDuration: config.UpdateStreamDuration,
		Limits: kinesis.Limits{
			ShardLimitPerAccount:     config.ShardLimit,
			OnDemandStreamShardLimit: config.OnDemandStreamShardLimit,
			OnDemandStreamCountLimit: config.OnDemandStreamCountLimit,
			MaxShardsPerStream:       config.MaxShardsPerStream,
		},
	})

	if config.Persist.LoadIfExists && config.Persist.Path != "" {
		if err := cache.Restore(config.Persist.Path); err != nil {
			logger.Error("Restoring snapshot", "path", config.Persist.Path, "err", err)
		} else {
			logger.Info("Restored snapshot", "path", config.Persist.Path)
		}
	}

	preInitializeStreams(cache, initializeStreams, config.CreateStreamDuration, logger)

	if config.Persist.ShouldPersist {
		if config.Persist.Path == "" {
			logger.Error("-shouldPersist requires -persistPath")
			os.Exit(1)
		}
		go runPersistLoop(cache, config.Persist, logger)
	}

	registry := make(kinesishttp.Registry)
	kinesis.RegisterHTTPHandlers(registry, cache)
	handler := server.HandlerFuncFromRegistry(logger, registry)
	srv := server.NewWithHandlerChain(handler)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveWithReusePort(srv, config.PlainPort, logger, "plain")
	}()

	if config.TLSPort != -1 {
		if config.TLSCert == "" || config.TLSKey == "" {
			logger.Error("-tlsPort requires -tlsCert and -tlsKey")
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveTLSWithReusePort(srv, config, logger)
		}()
	}

	wg.Wait()
}

// serveWithReusePort binds addr with SO_REUSEPORT via setSockopt (from
// main_unix.go) so a developer can restart the emulator without waiting
// out TIME_WAIT on the old listener.
func serveWithReusePort(srv *http.Server, port int, logger *slog.Logger, label string) {
	lc := net.ListenConfig{Control: controlReusePort}
	ln, err := lc.Listen(context.Background(), "tcp", ":"+strconv.Itoa(port))
	if err != nil {
		logger.Error("Listening", "label", label, "port", port, "err", err)
		os.Exit(1)
	}
	logger.Info("Listening", "label", label, "port", port)
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		logger.Error("Serving", "label", label, "err", err)
	}
}

func serveTLSWithReusePort(srv *http.Server, config Config, logger *slog.Logger) {
	cert, err := tls.LoadX509KeyPair(config.TLSCert, config.TLSKey)
	if err != nil {
		logger.Error("Loading TLS keypair", "err", err)
		os.Exit(1)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{http2.NextProtoTLS, "http/1.1"},
	}

	lc := net.ListenConfig{Control: controlReusePort}
	ln, err := lc.Listen(context.Background(), "tcp", ":"+strconv.Itoa(config.TLSPort))
	if err != nil {
		logger.Error("Listening", "label", "tls", "port", config.TLSPort, "err", err)
		os.Exit(1)
	}
	tlsLn := tls.NewListener(ln, tlsConfig)

	logger.Info("Listening", "label", "tls", "port", config.TLSPort)
	if err := srv.Serve(tlsLn); err != nil && err != http.ErrServerClosed {
		logger.Error("Serving", "label", "tls", "err", err)
	}
}

func controlReusePort(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = setSockopt(fd)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func runPersistLoop(cache *kinesis.Cache, persist PersistConfig, logger *slog.Logger) {
	ticker := time.NewTicker(persist.Interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := cache.Snapshot(persist.Path); err != nil {
			logger.Error("Snapshotting", "path", persist.Path, "err", err)
			continue
		}
		logger.Debug("Snapshotted", "path", persist.Path)
	}
}

// preInitializeStreams creates every configured stream, parallel across
// regions but bounded within a region by a semaphore (default 5
// concurrent creations), then polls DescribeStreamSummary up to 3 times
// spaced by createDuration waiting for each to leave CREATING.
func preInitializeStreams(cache *kinesis.Cache, streams []initialStream, createDuration time.Duration, logger *slog.Logger) {
	if len(streams) == 0 {
		return
	}

	byRegion := make(map[string][]initialStream)
	for _, s := range streams {
		byRegion[s.Region] = append(byRegion[s.Region], s)
	}

	var wg sync.WaitGroup
	for region, regionStreams := range byRegion {
		wg.Add(1)
		go func(region string, regionStreams []initialStream) {
			defer wg.Done()
			preInitializeRegion(cache, region, regionStreams, createDuration, logger)
		}(region, regionStreams)
	}
	wg.Wait()
}

const preInitConcurrency = 5

func preInitializeRegion(cache *kinesis.Cache, region string, streams []initialStream, createDuration time.Duration, logger *slog.Logger) {
	sem := make(chan struct{}, preInitConcurrency)
	var wg sync.WaitGroup

	for _, s := range streams {
		sem <- struct{}{}
		wg.Add(1)
		go func(s initialStream) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := cache.CreateStream(region, kinesis.CreateStreamInput{
				StreamName: s.StreamName,
				ShardCount: s.ShardCount,
			})
			if err != nil {
				logger.Error("Pre-initializing stream", "region", region, "stream", s.StreamName, "err", err)
				return
			}

			for attempt := 0; attempt < 3; attempt++ {
				time.Sleep(createDuration)
				out, describeErr := cache.DescribeStreamSummary(region, kinesis.DescribeStreamSummaryInput{StreamName: s.StreamName})
				if describeErr != nil {
					logger.Error("Polling pre-initialized stream", "region", region, "stream", s.StreamName, "err", describeErr)
					return
				}
				if out.StreamDescriptionSummary.StreamStatus != "CREATING" {
					logger.Info("Pre-initialized stream ready", "region", region, "stream", s.StreamName)
					return
				}
			}
			logger.Warn("Pre-initialized stream did not leave CREATING in time", "region", region, "stream", s.StreamName)
		}(s)
	}
	wg.Wait()
}
