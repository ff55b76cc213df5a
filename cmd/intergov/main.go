// Package main implements the entry point for the intergov node, a
// message-exchange gateway between trade jurisdictions. One binary runs
// any subset of the node's workers plus the HTTP API, selected with the
// -workers flag.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/trustbridge/intergov/acl"
	"github.com/trustbridge/intergov/api"
	"github.com/trustbridge/intergov/channel"
	"github.com/trustbridge/intergov/config"
	"github.com/trustbridge/intergov/intake"
	"github.com/trustbridge/intergov/lake"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/metric"
	"github.com/trustbridge/intergov/natsclient"
	"github.com/trustbridge/intergov/outbox"
	"github.com/trustbridge/intergov/processor"
	"github.com/trustbridge/intergov/processor/deliverer"
	"github.com/trustbridge/intergov/processor/dispatcher"
	"github.com/trustbridge/intergov/processor/inbound"
	"github.com/trustbridge/intergov/processor/rejecter"
	"github.com/trustbridge/intergov/processor/router"
	"github.com/trustbridge/intergov/processor/spider"
	"github.com/trustbridge/intergov/processor/subrefresh"
	"github.com/trustbridge/intergov/processor/updater"
	"github.com/trustbridge/intergov/queue"
	"github.com/trustbridge/intergov/queue/natsqueue"
	"github.com/trustbridge/intergov/storage/natsstore"
	"github.com/trustbridge/intergov/subscription"
)

const (
	Version = "0.1.0"
	appName = "intergov"
)

func main() {
	if err := run(); err != nil {
		slog.Error("node failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return err
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid", "jurisdiction", cfg.Jurisdiction)
		return nil
	}

	logger.Info("starting node",
		"version", Version,
		"jurisdiction", cfg.Jurisdiction,
		"workers", cliCfg.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := natsclient.New(cfg.NATS.URL,
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithReconnects(cfg.NATS.MaxReconnects, cfg.NATS.ReconnectWait),
		natsclient.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Close(context.Background()) }()

	node, err := buildNode(ctx, cfg, client, logger)
	if err != nil {
		return err
	}

	return node.run(ctx, cliCfg, logger)
}

// node holds every wired component; which ones actually run is decided
// per worker selection.
type node struct {
	cfg     *config.Config
	client  *natsclient.Client
	metrics *metric.Registry

	inbox         queue.Queue
	notifications queue.Queue
	deliveries    queue.Queue
	retrievals    queue.Queue
	updates       queue.Queue
	rejected      queue.Queue

	messageLake   *lake.Lake
	objectLake    *natsstore.Store
	aclStore      *acl.Store
	subscriptions *subscription.Registry
	outbox        *outbox.Store
	patcher       *lake.Patcher
	intake        *intake.Intake
	channels      *channel.Router
}

func buildNode(ctx context.Context, cfg *config.Config, client *natsclient.Client, logger *slog.Logger) (*node, error) {
	js, err := client.JetStream()
	if err != nil {
		return nil, err
	}

	n := &node{cfg: cfg, client: client, metrics: metric.NewRegistry()}

	queues := map[string]*queue.Queue{
		"inbox":         &n.inbox,
		"notifications": &n.notifications,
		"deliveries":    &n.deliveries,
		"retrievals":    &n.retrievals,
		"updates":       &n.updates,
		"rejected":      &n.rejected,
	}
	for name, target := range queues {
		q, err := natsqueue.New(ctx, js, name)
		if err != nil {
			return nil, err
		}
		*target = q
	}

	messageStore, err := natsstore.New(ctx, js, "IGL_MESSAGE_LAKE")
	if err != nil {
		return nil, err
	}
	n.objectLake, err = natsstore.New(ctx, js, "IGL_OBJECT_LAKE")
	if err != nil {
		return nil, err
	}
	aclBucket, err := natsstore.New(ctx, js, "IGL_OBJECT_ACL")
	if err != nil {
		return nil, err
	}
	subStore, err := natsstore.New(ctx, js, "IGL_SUBSCRIPTIONS")
	if err != nil {
		return nil, err
	}
	outboxBucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:  "IGL_OUTBOX",
		History: 1,
	})
	if err != nil {
		return nil, err
	}

	jurisdiction := message.Jurisdiction(cfg.Jurisdiction)
	n.messageLake = lake.New(messageStore)
	n.aclStore = acl.New(aclBucket)
	n.subscriptions = subscription.New(subStore)
	n.outbox = outbox.New(natsclient.NewKVStore(outboxBucket),
		outbox.WithStaleAfter(cfg.Workers.OutboxStaleAfter))
	n.patcher = lake.NewPatcher(n.messageLake, n.notifications, logger)
	n.intake = intake.New(jurisdiction, n.inbox, intake.WithLogger(logger))

	n.channels = channel.NewRouter(logger)
	for _, cc := range cfg.Channels {
		var opts []channel.HTTPOption
		if cc.AuthToken != "" {
			opts = append(opts, channel.WithBearerToken(cc.AuthToken))
		}
		n.channels.AddRule(cc.Rule, channel.NewHTTPChannel(cc.Name, cc.Endpoint, opts...))
	}

	return n, nil
}

// workerFor builds the named worker from the wired components.
func (n *node) workerFor(name string, logger *slog.Logger) processor.Worker {
	cfg := n.cfg
	jurisdiction := message.Jurisdiction(cfg.Jurisdiction)
	switch name {
	case "inbound":
		return inbound.New(jurisdiction, n.inbox, n.messageLake, n.aclStore,
			n.outbox, n.notifications, n.retrievals, inbound.WithLogger(logger))
	case "router":
		return router.New(n.outbox, n.channels, n.updates, n.rejected,
			router.WithMaxAttempts(cfg.Workers.RouterAttempts),
			router.WithRetryDelay(cfg.Workers.RetryDelayMin, cfg.Workers.RetryDelayMax),
			router.WithLogger(logger))
	case "dispatcher":
		return dispatcher.New(n.notifications, n.subscriptions, n.deliveries,
			dispatcher.WithLogger(logger))
	case "deliverer":
		return deliverer.New(n.deliveries, cfg.API.HubURL,
			deliverer.WithRetryDelay(cfg.Workers.RetryDelayMin, cfg.Workers.RetryDelayMax),
			deliverer.WithLogger(logger))
	case "updater":
		return updater.New(n.updates, n.patcher, updater.WithLogger(logger))
	case "rejecter":
		return rejecter.New(n.rejected, n.patcher, rejecter.WithLogger(logger))
	case "spider":
		return spider.New(jurisdiction, n.retrievals, n.objectLake, n.aclStore,
			cfg.DocumentAPIs,
			spider.WithRetryDelay(cfg.Workers.RetryDelayMin, cfg.Workers.RetryDelayMax),
			spider.WithLogger(logger))
	case "subrefresh":
		return subrefresh.New(jurisdiction, cfg.SubscriptionURLs(), cfg.API.CallbackURL,
			subrefresh.WithPeriod(cfg.Workers.RefreshPeriod),
			subrefresh.WithLogger(logger))
	}
	return nil
}

func (n *node) run(ctx context.Context, cliCfg *CLIConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	names := selectedWorkers(cliCfg.Workers)
	for _, name := range names {
		if name == "api" {
			continue
		}
		worker := n.workerFor(name, logger)
		if worker == nil {
			return fmt.Errorf("unknown worker %q", name)
		}
		loop := processor.NewLoop(worker,
			processor.WithLogger(logger),
			processor.WithMetrics(n.metrics),
			processor.WithIdleSleep(n.cfg.Workers.IdleSleep),
			processor.WithErrorSleep(n.cfg.Workers.ErrorSleep))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = loop.Run(ctx)
		}()
	}

	var server *http.Server
	serverErr := make(chan error, 1)
	if slices.Contains(names, "api") {
		srv := api.NewServer(n.intake, n.messageLake, n.patcher, n.subscriptions,
			api.WithMetrics(n.metrics), api.WithHealth(n.client), api.WithLogger(logger))
		server = &http.Server{
			Addr:              n.cfg.API.Listen,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("http api listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "timeout", cliCfg.ShutdownTimeout)
	case err := <-serverErr:
		runErr = err
	}
	cancel()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}
	wg.Wait()
	return runErr
}
