package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/defistate/amm-engine-go/cmd/console/config"
	"github.com/defistate/amm-engine-go/events"
	"github.com/defistate/amm-engine-go/registry"
	"github.com/defistate/amm-engine-go/router"
	"github.com/defistate/amm-engine-go/streams/jsonrpc/server"
	"github.com/defistate/amm-engine-go/token"
)

const defaultRegistryAddress = "0x00000000000000000000000000000000000000A1"

var (
	wethAddr = common.HexToAddress("0x0000000000000000000000000000000000000101")
	daiAddr  = common.HexToAddress("0x0000000000000000000000000000000000000102")
	usdcAddr = common.HexToAddress("0x0000000000000000000000000000000000000103")

	trader = common.HexToAddress("0x00000000000000000000000000000000000000E1")
)

func main() {
	rootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	fail := func() {
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		rootLogger.Error("Failed to load configuration", "error", err)
		fail()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prometheusRegistry := prometheus.NewRegistry()
	broadcaster := events.NewBroadcaster()

	registryAddress := common.HexToAddress(cfg.RegistryAddress)
	if cfg.RegistryAddress == "" {
		registryAddress = common.HexToAddress(defaultRegistryAddress)
	}

	tokens := token.NewRegistry()
	weth := token.NewLedger(wethAddr, "Wrapped Ether", "WETH", 18)
	dai := token.NewLedger(daiAddr, "Dai Stablecoin", "DAI", 18)
	usdc := token.NewLedger(usdcAddr, "USD Coin", "USDC", 6)
	tokens.Register(wethAddr, weth)
	tokens.Register(daiAddr, dai)
	tokens.Register(usdcAddr, usdc)

	reg, err := registry.New(&registry.Config{
		Address:       registryAddress,
		Tokens:        tokens,
		Emitter:       broadcaster,
		PrometheusReg: prometheusRegistry,
		Logger:        rootLogger.With("component", "registry"),
	})
	if err != nil {
		rootLogger.Error("Failed to initialize registry", "error", err)
		fail()
	}

	rt, err := router.New(&router.Config{
		Registry:      reg,
		Tokens:        tokens,
		PrometheusReg: prometheusRegistry,
		Logger:        rootLogger.With("component", "router"),
	})
	if err != nil {
		rootLogger.Error("Failed to initialize router", "error", err)
		fail()
	}

	if cfg.StreamListenAddr != "" {
		rpcServer, err := server.NewServer(server.Config{
			Events: broadcaster,
			Logger: rootLogger.With("component", "event-stream"),
		})
		if err != nil {
			rootLogger.Error("Failed to initialize event stream server", "error", err)
			fail()
		}
		go serveHTTP(ctx, rootLogger, cfg.StreamListenAddr, rpcServer.WebsocketHandler([]string{"*"}))
	}
	if cfg.MetricsListenAddr != "" {
		handler := promhttp.HandlerFor(prometheusRegistry, promhttp.HandlerOpts{})
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		go serveHTTP(ctx, rootLogger, cfg.MetricsListenAddr, mux)
	}

	// Log every engine event as it happens.
	eventCh, unsubscribe := broadcaster.Subscribe(256)
	defer unsubscribe()
	go func() {
		for e := range eventCh {
			rootLogger.Info("Engine event", "kind", e.Kind(), "event", e)
		}
	}()

	if err := runScenario(rootLogger, rt); err != nil {
		rootLogger.Error("Scenario failed", "error", err)
		fail()
	}

	rootLogger.Info("Scenario complete. Serving streams until interrupted.")
	<-ctx.Done()
}

// runScenario exercises the engine end to end: pool creation, balanced
// deposits, single- and multi-hop swaps, and a final withdrawal.
func runScenario(logger *slog.Logger, rt *router.Router) error {
	deadline := time.Now().Add(time.Minute).Unix()

	e18 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	amount := func(n int64, scale *big.Int) *big.Int {
		return new(big.Int).Mul(big.NewInt(n), scale)
	}

	// Seed the trader.
	for _, seed := range []struct {
		ledger *token.Ledger
		amount *big.Int
	}{
		{mustLedger(rt, wethAddr), amount(1_000, e18)},
		{mustLedger(rt, daiAddr), amount(4_000_000, e18)},
		{mustLedger(rt, usdcAddr), amount(2_000_000, big.NewInt(1_000_000))},
	} {
		if err := seed.ledger.Mint(trader, seed.amount); err != nil {
			return err
		}
	}

	usedA, usedB, shares, err := rt.AddLiquidity(
		trader, wethAddr, daiAddr,
		amount(100, e18), amount(400_000, e18),
		nil, nil, trader, deadline,
	)
	if err != nil {
		return err
	}
	logger.Info("Added WETH/DAI liquidity", "weth", usedA, "dai", usedB, "shares", shares)

	if _, _, _, err = rt.AddLiquidity(
		trader, daiAddr, usdcAddr,
		amount(500_000, e18), amount(500_000, big.NewInt(1_000_000)),
		nil, nil, trader, deadline,
	); err != nil {
		return err
	}

	amounts, err := rt.SwapExactTokensForTokens(
		trader, amount(1, e18), big.NewInt(1),
		[]common.Address{wethAddr, daiAddr},
		trader, deadline,
	)
	if err != nil {
		return err
	}
	logger.Info("Swapped WETH for DAI", "in", amounts[0], "out", amounts[len(amounts)-1])

	amounts, err = rt.SwapTokensForExactTokens(
		trader, amount(1_000, big.NewInt(1_000_000)), amount(2, e18),
		[]common.Address{wethAddr, daiAddr, usdcAddr},
		trader, deadline,
	)
	if err != nil {
		return err
	}
	logger.Info("Swapped WETH for exact USDC via DAI", "in", amounts[0], "out", amounts[len(amounts)-1])

	half := new(big.Int).Div(shares, big.NewInt(2))
	amountA, amountB, err := rt.RemoveLiquidity(
		trader, wethAddr, daiAddr, half,
		nil, nil, trader, deadline,
	)
	if err != nil {
		return err
	}
	logger.Info("Removed half of WETH/DAI liquidity", "weth", amountA, "dai", amountB)
	return nil
}

// mustLedger fetches the concrete ledger registered for the asset; the
// scenario only ever registers *token.Ledger values.
func mustLedger(rt *router.Router, asset common.Address) *token.Ledger {
	t, err := rt.Tokens().Token(asset)
	if err != nil {
		panic(err)
	}
	return t.(*token.Ledger)
}

func serveHTTP(ctx context.Context, logger *slog.Logger, addr string, handler http.Handler) {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server failed", "addr", addr, "error", err)
	}
}

func loadConfig() (*config.ConsoleConfig, error) {
	configPath := flag.String("config", "", "Path to the configuration file.")
	flag.Parse()
	if *configPath == "" {
		return &config.ConsoleConfig{}, nil
	}
	return config.LoadConfig(*configPath)
}
