package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is the RPC connection behind the Chainlink price feed.
type Client struct {
	rpcClient *rpc.Client
	eth       *ethclient.Client
}

// NewClient dials rpcURL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return newClient(rpcClient), nil
}

func newClient(rpcClient *rpc.Client) *Client {
	return &Client{rpcClient: rpcClient, eth: ethclient.NewClient(rpcClient)}
}

func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

// LatestTimestamp returns the unix time of the head block. The replay clock
// starts there when the feed is on chain.
func (c *Client) LatestTimestamp(ctx context.Context) (uint64, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

// CallContract runs an eth_call against the feed's aggregator.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, blockNumber)
}
