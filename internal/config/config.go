package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	API struct {
		Port int `env:"PORT" envDefault:"8402"`
	}
	App struct {
		LogLevel    string `env:"LOG_LEVEL" envDefault:"INFO"`
		MetricsPort int    `env:"METRICS_PORT" envDefault:"9010"`
	}
	Payment struct {
		PayTo             string `env:"PAY_TO,required"`
		Asset             string `env:"ASSET,required"`
		AssetName         string `env:"ASSET_NAME" envDefault:"USDC"`
		AssetVersion      string `env:"ASSET_VERSION" envDefault:"2"`
		AssetDecimals     int    `env:"ASSET_DECIMALS" envDefault:"6"`
		Network           string `env:"NETWORK" envDefault:"base-sepolia"`
		ChainID           int64  `env:"CHAIN_ID" envDefault:"84532"`
		PriceBaseUnits    string `env:"PRICE_BASE_UNITS" envDefault:"1000000"`
		MaxTimeoutSeconds int64  `env:"MAX_TIMEOUT_SECONDS" envDefault:"300"`
	}
	Ledger struct {
		RPCURL      string `env:"RPC_URL"`
		PrivateKey  string `env:"PRIVATE_KEY"`
		GasLimitCap uint64 `env:"GAS_LIMIT_CAP"`

		// SignatureOnlyFallback permits accepting payments on a local
		// signature check when settlement is unavailable. Leave off in
		// production unless the asset genuinely cannot settle.
		SignatureOnlyFallback bool `env:"SIGNATURE_ONLY_FALLBACK" envDefault:"false"`
	}
	Store struct {
		Path string `env:"NONCE_STORE_PATH" envDefault:"used-nonces.log"`
	}
	Oracle struct {
		BaseURL  string        `env:"ORACLE_URL,required"`
		CacheTTL time.Duration `env:"ORACLE_CACHE_TTL" envDefault:"5m"`
	}
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Panicf("[‼️  Config parsing failed] %+v\n", err)
	}
	return c
}
