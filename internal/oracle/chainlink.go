package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"perpVault/internal/fixed"
)

const aggregatorV3ABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "description", "outputs": [{"internalType": "string", "name": "", "type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "latestRoundData", "outputs": [
    {"internalType": "uint80", "name": "roundId", "type": "uint80"},
    {"internalType": "int256", "name": "answer", "type": "int256"},
    {"internalType": "uint256", "name": "startedAt", "type": "uint256"},
    {"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
    {"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}
  ], "stateMutability": "view", "type": "function"}
]`

var (
	aggregatorABI     abi.ABI
	aggregatorABIOnce sync.Once
	aggregatorABIErr  error
)

// AggregatorABI returns the parsed Chainlink AggregatorV3 ABI.
func AggregatorABI() (abi.ABI, error) {
	aggregatorABIOnce.Do(func() {
		aggregatorABI, aggregatorABIErr = abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	})
	return aggregatorABI, aggregatorABIErr
}

// ContractCaller is the subset of chain.Client the feed needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkFeed reads the mark price from a Chainlink aggregator and rescales
// it to fixed.PriceDecimals.
type ChainlinkFeed struct {
	caller  ContractCaller
	address common.Address
	maxAge  time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu       sync.Mutex
	decimals *uint8
}

func NewChainlinkFeed(caller ContractCaller, address common.Address, maxAge time.Duration, logger *zap.Logger) *ChainlinkFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainlinkFeed{
		caller:  caller,
		address: address,
		maxAge:  maxAge,
		now:     time.Now,
		logger:  logger,
	}
}

// Description returns the feed's human readable pair name.
func (f *ChainlinkFeed) Description(ctx context.Context) (string, error) {
	values, err := f.call(ctx, "description")
	if err != nil {
		return "", err
	}
	desc, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("description unexpected type %T", values[0])
	}
	return desc, nil
}

func (f *ChainlinkFeed) MarkPrice(ctx context.Context) (*big.Int, error) {
	dec, err := f.feedDecimals(ctx)
	if err != nil {
		return nil, err
	}
	values, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return nil, err
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("latestRoundData return size %d", len(values))
	}
	answer, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("answer unexpected type %T", values[1])
	}
	updatedAt, ok := values[3].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("updatedAt unexpected type %T", values[3])
	}
	if answer.Sign() <= 0 {
		return nil, fmt.Errorf("feed %s answered %s", f.address.Hex(), answer)
	}
	if f.maxAge > 0 {
		age := f.now().Sub(time.Unix(updatedAt.Int64(), 0))
		if age > f.maxAge {
			f.logger.Warn("stale price feed", zap.String("feed", f.address.Hex()), zap.Duration("age", age))
			return nil, fmt.Errorf("feed %s is stale: updated %s ago", f.address.Hex(), age.Truncate(time.Second))
		}
	}
	return rescale(answer, dec, fixed.PriceDecimals), nil
}

func (f *ChainlinkFeed) feedDecimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decimals != nil {
		return *f.decimals, nil
	}
	values, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	dec, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals unexpected type %T", values[0])
	}
	f.decimals = &dec
	return dec, nil
}

func (f *ChainlinkFeed) call(ctx context.Context, method string) ([]interface{}, error) {
	if f.caller == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	parsed, err := AggregatorABI()
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &f.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned nothing", method)
	}
	return values, nil
}

func rescale(v *big.Int, from, to uint8) *big.Int {
	out := new(big.Int).Set(v)
	switch {
	case from < to:
		return out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(to-from)), nil))
	case from > to:
		return out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(from-to)), nil))
	default:
		return out
	}
}
