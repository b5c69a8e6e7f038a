// Package ledger wraps the upstream EVM JSON-RPC endpoint behind a small
// interface with bounded per-call timeouts. Block finality is trusted as
// given; this layer only reads already-finalized logs and headers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultCallTimeout bounds every upstream call unless overridden.
const DefaultCallTimeout = 15 * time.Second

// ErrEndpointRequired is returned when Dial is called without an endpoint.
var ErrEndpointRequired = errors.New("ledger: endpoint required")

// Client is the read surface the indexer polls.
type Client interface {
	// FilterLogs returns the logs matching the query in ledger order.
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	// BlockNumber returns the latest block height.
	BlockNumber(ctx context.Context) (uint64, error)
	// BlockTimestamp returns the unix timestamp of a block.
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// RPCClient is the production Client backed by go-ethereum's ethclient.
type RPCClient struct {
	eth     *ethclient.Client
	timeout time.Duration
}

// Dial connects to the ledger endpoint.
func Dial(ctx context.Context, endpoint string, timeout time.Duration) (*RPCClient, error) {
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	eth, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", endpoint, err)
	}
	return &RPCClient{eth: eth, timeout: timeout}, nil
}

// Close releases the underlying connection.
func (c *RPCClient) Close() {
	if c != nil && c.eth != nil {
		c.eth.Close()
	}
}

// FilterLogs implements Client.
func (c *RPCClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ledger: filter logs: %w", err)
	}
	return logs, nil
}

// BlockNumber implements Client.
func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	number, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: block number: %w", err)
	}
	return number, nil
}

// BlockTimestamp implements Client.
func (c *RPCClient) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("ledger: header %d: %w", number, err)
	}
	return header.Time, nil
}
