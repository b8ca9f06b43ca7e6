// Command storynode runs one peer of the story-sharing network: it loads
// or creates identity and configuration under a node directory, joins the
// swarm, and drives the interactive terminal until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"

	"github.com/storynode/core/internal/bootstrap"
	"github.com/storynode/core/internal/breaker"
	"github.com/storynode/core/internal/composition"
	"github.com/storynode/core/internal/config"
	"github.com/storynode/core/internal/identity"
	"github.com/storynode/core/internal/orchestrator"
	"github.com/storynode/core/internal/relay"
	"github.com/storynode/core/internal/roster"
	"github.com/storynode/core/internal/storage"
	"github.com/storynode/core/internal/storysync"
	"github.com/storynode/core/internal/swarm"
	"github.com/storynode/core/internal/uiproto"
	"github.com/storynode/core/internal/util"
)

const displayNameDoc = "display_name"

func main() {
	showHelp := flag.Bool("h", false, "Show help")
	flag.Parse()

	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		showUsage()
		os.Exit(1)
	}

	nodeDir, err := filepath.Abs(args[0])
	if err != nil {
		log.Fatalf("invalid node directory: %v", err)
	}
	if err := os.MkdirAll(nodeDir, 0755); err != nil {
		log.Fatalf("create node directory: %v", err)
	}

	cfgPath := filepath.Join(nodeDir, "storynode.json")
	cfg, _, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, nodeDir, cfgPath, cfg); err != nil {
		log.Fatalf("node failed: %v", err)
	}
}

func run(ctx context.Context, nodeDir, cfgPath string, cfg config.Config) error {
	keyFile := util.ResolvePath(nodeDir, cfg.Identity.KeyFile)
	ident, err := identity.LoadOrGenerate(keyFile)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	if watcher, err := config.Watch(cfgPath, func(config.Config) {
		log.Printf("%s changed on disk; restart the node to apply it", cfgPath)
	}); err != nil {
		log.Printf("watch config file: %v", err)
	} else {
		defer watcher.Close()
	}

	store, err := storage.Open(nodeDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	sw, err := swarm.New(ctx, ident.PrivKey(), cfg.Network)
	if err != nil {
		return fmt.Errorf("construct swarm: %w", err)
	}
	defer sw.Close()

	kad, err := dht.New(ctx, sw.Host, dht.Mode(dht.ModeServer))
	if err != nil {
		return fmt.Errorf("construct dht: %w", err)
	}
	if err := kad.Bootstrap(ctx); err != nil {
		log.Printf("initial dht bootstrap: %v", err)
	}

	breakers := breaker.NewSet(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          secondsToDuration(cfg.Breaker.TimeoutSecs),
		OperationTimeout: secondsToDuration(cfg.Breaker.OperationTimeout),
	})

	bootController := bootstrap.New(cfg.Bootstrap, &dhtAdapter{kad}, sw)

	syncEngine := storysync.New(store)

	seed, err := store.LoadPeerNames()
	if err != nil {
		log.Printf("load peer name cache: %v", err)
		seed = nil
	}
	rost := roster.New(seed)

	localName := loadOrInitLocalName(store, ident.PeerID().String())

	comp := composition.New(sw, ident, rost, syncEngine, store, breakers, cfg.Network, func() string { return localName })

	relayEng := relay.New(relay.Config{
		MaxMessageSize:    cfg.Relay.MaxMessageSize,
		MaxHops:           cfg.Relay.MaxHops,
		RateLimitPerPeer:  cfg.Relay.RateLimitPerPeer,
		MaxRetryAttempts:  cfg.Relay.MaxRetryAttempts,
		ForwardingEnabled: cfg.Relay.ForwardingEnabled,
		EnvelopeMaxAge:    secondsToDuration(cfg.Relay.EnvelopeMaxAgeS),
	}, ident, comp, comp, comp, comp)
	relayEng.SetLocalName(func() string { return localName })
	comp.AttachRelay(relayEng)

	comp.Start(ctx)
	if err := comp.WatchRoutingUpdates(ctx, sw.Host.EventBus()); err != nil {
		log.Printf("watch routing updates: %v", err)
	}

	ui := uiproto.NewTerminal(os.Stdin, os.Stdout)

	loop := orchestrator.New(sw, comp, rost, relayEng, store, breakers, bootController, ui, cfg, &localName)
	return loop.Run(ctx)
}

// dhtAdapter narrows *dht.IpfsDHT to internal/bootstrap.DHTBootstrapper;
// Bootstrap(ctx) error is promoted directly through the embedded type.
type dhtAdapter struct {
	*dht.IpfsDHT
}

func (d *dhtAdapter) RoutingTableSize() int { return d.RoutingTable().Size() }

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func loadOrInitLocalName(store *storage.DB, peerID string) string {
	if name, found, err := store.LoadConfigDoc(displayNameDoc); err == nil && found && name != "" {
		return name
	}
	name := peerID
	if len(name) > 12 {
		name = name[len(name)-12:]
	}
	if err := store.SaveConfigDoc(displayNameDoc, name); err != nil {
		log.Printf("persist generated display name: %v", err)
	}
	return name
}

func showUsage() {
	fmt.Println("storynode - peer-to-peer story sharing node")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  storynode <node-directory>")
	fmt.Println()
	fmt.Println("The node directory holds storynode.json, the sqlite database,")
	fmt.Println("and the identity key files; it is created if it does not exist.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h   Show this help message")
}
