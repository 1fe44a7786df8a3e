package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/crosschain-oracle/pkg/auditlog"
	"github.com/certen/crosschain-oracle/pkg/chainclient"
	"github.com/certen/crosschain-oracle/pkg/config"
	"github.com/certen/crosschain-oracle/pkg/health"
	"github.com/certen/crosschain-oracle/pkg/metrics"
	"github.com/certen/crosschain-oracle/pkg/nonce"
	"github.com/certen/crosschain-oracle/pkg/oracle"
	"github.com/certen/crosschain-oracle/pkg/server"
	"github.com/certen/crosschain-oracle/pkg/submit"
)

func main() {
	logger := log.New(os.Stdout, "[oracle] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	logBuffer := server.NewLogBuffer(2000, "")
	logger.SetOutput(multiWriter(os.Stdout, logBuffer))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assetSigner, err := loadSigner(cfg.AssetSignerKey)
	if err != nil {
		logger.Fatalf("invalid ORACLE_ASSET_SIGNER_KEY: %v", err)
	}
	paymentSigner, err := loadSigner(cfg.PaymentSignerKey)
	if err != nil {
		logger.Fatalf("invalid ORACLE_PAYMENT_SIGNER_KEY: %v", err)
	}

	assetClient, err := chainclient.New(cfg.AssetRPCURL, cfg.AssetChainID, "asset")
	if err != nil {
		logger.Fatalf("failed to connect to asset chain: %v", err)
	}
	paymentClient, err := chainclient.New(cfg.PaymentRPCURL, cfg.PaymentChainID, "payment")
	if err != nil {
		logger.Fatalf("failed to connect to payment chain: %v", err)
	}

	assetAddr := common.HexToAddress(cfg.AssetContractAddress)
	paymentAddr := common.HexToAddress(cfg.PaymentContractAddress)

	assetNonces := nonce.New(assetSigner.Address(), assetClient)
	paymentNonces := nonce.New(paymentSigner.Address(), paymentClient)

	m := metrics.New()

	submitCfg := submit.Config{GasLimit: cfg.CallbackGasLimit, MaxRetries: cfg.SubmitMaxRetries}
	assetSubmitter := submit.New(assetClient, assetNonces, assetSigner, submitCfg, log.New(os.Stdout, "[submit-asset] ", log.LstdFlags))
	paymentSubmitter := submit.New(paymentClient, paymentNonces, paymentSigner, submitCfg, log.New(os.Stdout, "[submit-payment] ", log.LstdFlags))

	gateway := oracle.NewGateway(
		map[oracle.Chain]oracle.ChainSubmitter{oracle.Asset: assetSubmitter, oracle.Payment: paymentSubmitter},
		map[oracle.Chain]oracle.ChainCaller{oracle.Asset: assetClient, oracle.Payment: paymentClient},
		map[oracle.Chain]common.Address{oracle.Asset: assetAddr, oracle.Payment: paymentAddr},
	)

	states := map[oracle.Chain]*oracle.ChainState{
		oracle.Asset:   oracle.NewChainState(oracle.Asset),
		oracle.Payment: oracle.NewChainState(oracle.Payment),
	}
	pairs := oracle.NewPairTable()

	var recorder oracle.Recorder
	if cfg.AuditDatabaseURL != "" {
		auditClient, err := auditlog.New(cfg.AuditDatabaseURL)
		if err != nil {
			logger.Printf("audit trail disabled, failed to connect: %v", err)
		} else {
			defer auditClient.Close()
			recorder = auditClient
		}
	}

	coordLogger := log.New(os.Stdout, "[coordinator] ", log.LstdFlags)
	coordOpts := []oracle.CoordinatorOption{oracle.WithMetrics(m)}
	if recorder != nil {
		coordOpts = append(coordOpts, oracle.WithRecorder(recorder))
	}
	coordinator := oracle.NewCoordinator(ctx, states, pairs, gateway, oracle.SystemClock, coordLogger, coordOpts...)

	dispatcher := oracle.NewDispatcher(states, coordinator, log.New(os.Stdout, "[dispatch] ", log.LstdFlags))

	assetPump := oracle.NewPump(oracle.Asset, assetClient, assetAddr, cfg.EventPollInterval, states[oracle.Asset], dispatcher, oracle.SystemClock, log.New(os.Stdout, "[pump-asset] ", log.LstdFlags))
	paymentPump := oracle.NewPump(oracle.Payment, paymentClient, paymentAddr, cfg.EventPollInterval, states[oracle.Payment], dispatcher, oracle.SystemClock, log.New(os.Stdout, "[pump-payment] ", log.LstdFlags))

	sweeper := oracle.NewSweeper(states, pairs, gateway, oracle.SystemClock, cfg.SweepInterval, log.New(os.Stdout, "[sweeper] ", log.LstdFlags), m)

	healthCfg := health.DefaultConfig()
	assetMonitor := health.New("asset", assetClient, healthCfg, log.New(os.Stdout, "[health-asset] ", log.LstdFlags))
	paymentMonitor := health.New("payment", paymentClient, healthCfg, log.New(os.Stdout, "[health-payment] ", log.LstdFlags))

	go assetPump.Run(ctx)
	go paymentPump.Run(ctx)
	go sweeper.Run(ctx)
	go assetMonitor.Run(ctx)
	go paymentMonitor.Run(ctx)

	views := map[oracle.Chain]*server.ChainView{
		oracle.Asset: {
			Name:    "asset",
			State:   states[oracle.Asset],
			Monitor: assetMonitor,
			Reader:  assetClient,
			Gateway: gateway,
			Chain:   oracle.Asset,
		},
		oracle.Payment: {
			Name:    "payment",
			State:   states[oracle.Payment],
			Monitor: paymentMonitor,
			Reader:  paymentClient,
			Gateway: gateway,
			Chain:   oracle.Payment,
		},
	}

	srv := server.New(views, pairs, m, logBuffer, cfg.LogsEndpointEnabled)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: srv.Mux(),
	}

	go func() {
		logger.Printf("status surface listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("status surface failed: %v", err)
		}
	}()

	logger.Printf("oracle running: asset_chain_id=%d payment_chain_id=%d", cfg.AssetChainID, cfg.PaymentChainID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Println("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("status surface shutdown error: %v", err)
	}

	logger.Println("oracle stopped")
}

func loadSigner(hexKey string) (chainclient.Signer, error) {
	key := strings.TrimPrefix(hexKey, "0x")
	pk, err := crypto.HexToECDSA(key)
	if err != nil {
		return chainclient.Signer{}, err
	}
	return chainclient.Signer{PrivateKey: pk}, nil
}

// multiWriter fans log output out to the real stdout and the in-memory
// LogBuffer backing the opt-in /logs endpoint.
func multiWriter(w1 *os.File, w2 *server.LogBuffer) writerFunc {
	return func(p []byte) (int, error) {
		w1.Write(p)
		w2.Write(p)
		return len(p), nil
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
