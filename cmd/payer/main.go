// Command payer fetches one payment-gated resource, paying the x402
// challenge with the key in PAYER_PRIVATE_KEY.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/agentfi/x402-credit-go/client"
	"github.com/agentfi/x402-credit-go/pkg/app"
)

func main() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	log := app.Logger(level)

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <url>\n", os.Args[0])
		os.Exit(2)
	}
	url := os.Args[1]

	keyHex := os.Getenv("PAYER_PRIVATE_KEY")
	if keyHex == "" {
		log.Fatal("PAYER_PRIVATE_KEY environment variable is not set")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		log.Fatal("failed to parse payer private key", zap.Error(err))
	}

	c := client.New(key, client.WithLogger(log))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Fatal("failed to build request", zap.Error(err))
	}

	resp, err := c.FetchWithPayment(ctx, req)
	if err != nil {
		log.Fatal("fetch failed", zap.Error(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal("failed to read response", zap.Error(err))
	}

	fmt.Printf("%s\n", body)
	log.Info("done",
		zap.Int("status", resp.StatusCode),
		zap.String("payer", c.Address().Hex()),
		zap.String("totalAuthorized", c.TotalAuthorized().String()),
	)
}
