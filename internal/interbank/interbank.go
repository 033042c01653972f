// Package interbank models the other bank in an inter-bank payment as
// an external collaborator: a capital transfer rather than a clearing
// protocol, per the sandbox's settlement contract.
package interbank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"banksandbox/internal/common/money"
)

// Config configures the HTTP settlement adapter.
type Config struct {
	BaseURL string        `envconfig:"INTERBANK_BASE_URL"`
	Timeout time.Duration `envconfig:"INTERBANK_TIMEOUT" default:"10s"`
}

// Settler is the external collaborator the payment engine calls to
// settle an inter-bank leg. A real deployment points this at another
// bank sandbox's settlement endpoint; this package's HTTPSettler is the
// reference implementation.
type Settler interface {
	Settle(ctx context.Context, transferID, fromBankCode, toBankCode string, amount money.Money) error
}

// NewTransferID mints an external-facing transfer id.
func NewTransferID() string {
	return "xfer-" + uuid.NewString()
}

type settleRequest struct {
	TransferID string `json:"transfer_id"`
	FromBank   string `json:"from_bank_code"`
	ToBank     string `json:"to_bank_code"`
	Amount     int64  `json:"amount_minor"`
	Currency   string `json:"currency"`
}

// HTTPSettler calls another bank sandbox's settlement endpoint over
// HTTP, the sandbox's stand-in for a real clearing network.
type HTTPSettler struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewHTTPSettler constructs an HTTP-backed settler.
func NewHTTPSettler(cfg Config, logger *slog.Logger) *HTTPSettler {
	return &HTTPSettler{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Settle posts the transfer to the configured settlement endpoint. A
// non-2xx response or transport failure is treated as settlement
// failure, causing the caller to roll back the local leg.
func (s *HTTPSettler) Settle(ctx context.Context, transferID, fromBankCode, toBankCode string, amount money.Money) error {
	if s.cfg.BaseURL == "" {
		s.logger.Warn("interbank settlement base URL unset, treating as settled locally", "transfer_id", transferID)
		return nil
	}

	body, err := json.Marshal(settleRequest{
		TransferID: transferID,
		FromBank:   fromBankCode,
		ToBank:     toBankCode,
		Amount:     amount.AmountMinor,
		Currency:   string(amount.Currency),
	})
	if err != nil {
		return fmt.Errorf("encoding settlement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/settlements", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling settlement endpoint: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("settlement endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
