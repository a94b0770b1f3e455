// Command engine runs the indexer pipeline and HTTP/WebSocket API for
// one configured coin: it loads the TOML config, connects to the node,
// opens every on-disk store, drives the applier's Init→Syncing→
// LoadingUtxo→Following lifecycle, and serves the query surface until an
// OS interrupt triggers the Stopping→Stopped shutdown path.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/utxo-explorer/internal/api"
	"github.com/rawblock/utxo-explorer/internal/bitcoin"
	"github.com/rawblock/utxo-explorer/internal/config"
	"github.com/rawblock/utxo-explorer/internal/eventbus"
	"github.com/rawblock/utxo-explorer/internal/indexer"
)

const mempoolPollInterval = 5 * time.Second

func main() {
	configPath := flag.String("config", getEnvOrDefault("ENGINE_CONFIG", "engine.toml"), "path to the TOML config file")
	coinName := flag.String("coin", getEnvOrDefault("ENGINE_COIN", "bitcoin"), "name of the [coins.NAME] table to run")
	flag.Parse()

	log.Printf("[engine] starting, config=%s coin=%s", *configPath, *coinName)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[engine] load config: %v", err)
	}
	coin, ok := cfg.Get(*coinName)
	if !ok {
		log.Fatalf("[engine] unknown coin %q in %s", *coinName, *configPath)
	}

	genesisHash, err := chainhash.NewHashFromStr(coin.GenesisBlockHash)
	if err != nil {
		log.Fatalf("[engine] parse genesis_block_hash: %v", err)
	}

	node, err := bitcoin.NewClient(bitcoin.Config{
		RPCEndpoint:  coin.RPCEndpoint,
		RPCUser:      coin.RPCUser,
		RPCPass:      coin.RPCPass,
		RESTEndpoint: coin.RESTEndpoint,
	})
	if err != nil {
		log.Fatalf("[engine] connect node: %v", err)
	}
	defer node.Shutdown()

	bus := eventbus.New()

	dataDir := coin.DataDir
	if dataDir == "" {
		dataDir = "./data/" + coin.Name
	}
	applier, err := indexer.Open(indexer.Config{
		DataDir:     dataDir,
		GenesisHash: *genesisHash,
	}, node, bus)
	if err != nil {
		log.Fatalf("[engine] open indexer stores: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- applier.Run(ctx)
	}()

	sub := bitcoin.NewSubscriber(node, bus, mempoolPollInterval)
	go sub.Run(ctx)

	wsHub := api.NewHub()
	go wsHub.Run()
	go relayEventsToWebSocket(ctx, bus, wsHub)

	router := api.SetupRouter(applier, node, coin, wsHub)
	addr := coin.HTTPIP + ":" + strconv.Itoa(coin.HTTPPort)
	log.Printf("[engine] serving %s API on %s", coin.Name, addr)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- router.Run(addr)
	}()

	select {
	case <-ctx.Done():
		log.Printf("[engine] shutdown signal received")
	case err := <-runErr:
		if err != nil {
			log.Printf("[engine] applier stopped with error: %v", err)
		}
	case err := <-srvErr:
		log.Printf("[engine] http server stopped: %v", err)
		stop()
	}

	applier.Stop()
	log.Printf("[engine] stopped")
}

// relayEventsToWebSocket forwards every event bus message to the WebSocket
// fan-out hub as a small JSON envelope, so browser clients see the same
// hashblock/rawtx notifications that drive the applier's follow mode.
func relayEventsToWebSocket(ctx context.Context, bus *eventbus.Bus, hub *api.Hub) {
	events, cancel := bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case eventbus.HashBlockEvent:
				payload, _ := json.Marshal(map[string]string{"type": "hashblock", "hash": ev.Hash.String()})
				hub.Broadcast(payload)
			case eventbus.RawTxEvent:
				if ev.Tx == nil {
					continue
				}
				payload, _ := json.Marshal(map[string]string{"type": "rawtx", "txid": ev.Tx.TxHash().String()})
				hub.Broadcast(payload)
			}
		}
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
