package main

import (
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentfi/x402-credit-go/creditoracle"
	"github.com/agentfi/x402-credit-go/internal/config"
	"github.com/agentfi/x402-credit-go/noncestore"
	"github.com/agentfi/x402-credit-go/pkg/app"
	"github.com/agentfi/x402-credit-go/server"
	"github.com/agentfi/x402-credit-go/types"
	"github.com/agentfi/x402-credit-go/x402"
)

func main() {
	cfg := config.Load()
	log := app.Logger(cfg.App.LogLevel)

	if !common.IsHexAddress(cfg.Payment.PayTo) {
		log.Fatal("PAY_TO is not a valid address", zap.String("payTo", cfg.Payment.PayTo))
	}
	if !common.IsHexAddress(cfg.Payment.Asset) {
		log.Fatal("ASSET is not a valid address", zap.String("asset", cfg.Payment.Asset))
	}

	price := new(big.Int)
	if _, ok := price.SetString(cfg.Payment.PriceBaseUnits, 10); !ok {
		log.Fatal("PRICE_BASE_UNITS is not a valid integer", zap.String("price", cfg.Payment.PriceBaseUnits))
	}

	// The nonce store must be fully reloaded before the first request is
	// accepted, otherwise a restart reopens a replay window.
	store, err := noncestore.NewFileStore(cfg.Store.Path)
	if err != nil {
		log.Fatal("nonce store init", zap.Error(err))
	}
	defer store.Close()

	var ledger *x402.Ledger
	if cfg.Ledger.RPCURL != "" {
		ledger, err = x402.NewLedger(x402.LedgerConfig{
			ChainID:     cfg.Payment.ChainID,
			RPCURL:      cfg.Ledger.RPCURL,
			PrivateKey:  cfg.Ledger.PrivateKey,
			GasLimitCap: cfg.Ledger.GasLimitCap,
		}, log)
		if err != nil {
			log.Fatal("ledger init", zap.Error(err))
		}
	} else if !cfg.Ledger.SignatureOnlyFallback {
		log.Fatal("no RPC_URL configured and SIGNATURE_ONLY_FALLBACK is off: no payment can ever verify")
	} else {
		log.Warn("running without a ledger: payments are accepted on signature verification only")
	}

	oracle := creditoracle.New(cfg.Oracle.BaseURL, cfg.Oracle.CacheTTL, log)

	srv := server.New(server.Config{
		PayTo:                 common.HexToAddress(cfg.Payment.PayTo),
		Asset:                 common.HexToAddress(cfg.Payment.Asset),
		AssetName:             cfg.Payment.AssetName,
		AssetVersion:          cfg.Payment.AssetVersion,
		AssetDecimals:         cfg.Payment.AssetDecimals,
		Network:               types.Network(cfg.Payment.Network),
		ChainID:               cfg.Payment.ChainID,
		Price:                 price,
		MaxTimeoutSeconds:     cfg.Payment.MaxTimeoutSeconds,
		SignatureOnlyFallback: cfg.Ledger.SignatureOnlyFallback,
	}, store, ledger, oracle, log)

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%v", cfg.App.MetricsPort), metricsMux); err != nil {
			log.Error("metrics listen and serve", zap.Error(err))
		}
	}()

	log.Info("resource server listening",
		zap.Int("port", cfg.API.Port),
		zap.String("network", cfg.Payment.Network),
		zap.String("payTo", cfg.Payment.PayTo),
	)

	httpServer := http.Server{
		Addr:    fmt.Sprintf(":%v", cfg.API.Port),
		Handler: srv.Routes(),
	}
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("listen and serve", zap.Error(err))
	}
}
