package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorV3ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ChainlinkOptions parameterise the on-chain oracle fetcher.
type ChainlinkOptions struct {
	RPCURL string
	// Feeds maps an asset identifier to its AggregatorV3 contract address.
	Feeds   map[string]string
	MaxAge  time.Duration
	Timeout time.Duration
}

// Chainlink reads asset prices from Chainlink AggregatorV3 feeds over Ethereum RPC.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex

	decimalsMux sync.Mutex
	decimals    map[common.Address]uint8
}

// NewChainlink builds a new oracle fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:     opts,
		logger:   logger.With().Str("component", "chainlink_fetcher").Logger(),
		decimals: make(map[common.Address]uint8),
	}
}

// FetchPrice reads latestRoundData of the feed configured for asset.
func (c *Chainlink) FetchPrice(ctx context.Context, asset string) (float64, bool, error) {
	feed, ok := c.opts.Feeds[asset]
	if !ok || feed == "" {
		return 0, false, nil
	}
	if c.opts.RPCURL == "" {
		return 0, false, errors.New("ethereum rpc url not configured")
	}
	if !common.IsHexAddress(feed) {
		return 0, false, fmt.Errorf("invalid feed address %q", feed)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return 0, false, err
	}

	addr := common.HexToAddress(feed)
	places, err := c.feedDecimals(ctx, client, addr)
	if err != nil {
		return 0, false, err
	}

	outputs, err := c.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return 0, false, err
	}
	if len(outputs) != 5 {
		return 0, false, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return 0, false, errors.New("failed to decode latestRoundData answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return 0, false, errors.New("failed to decode latestRoundData updatedAt")
	}

	if err := checkRoundAge(addr, updatedAt.Int64(), c.opts.MaxAge, time.Now()); err != nil {
		return 0, false, err
	}

	price := decimal.NewFromBigInt(answer, -int32(places))
	return price.InexactFloat64(), true, nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (uint8, error) {
	c.decimalsMux.Lock()
	places, ok := c.decimals[addr]
	c.decimalsMux.Unlock()
	if ok {
		return places, nil
	}

	outputs, err := c.call(ctx, client, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	places, ok = outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.decimalsMux.Lock()
	c.decimals[addr] = places
	c.decimalsMux.Unlock()
	return places, nil
}

func (c *Chainlink) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorV3ABI.Pack(method)
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	return aggregatorV3ABI.Unpack(method, res)
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ PriceFetcher = (*Chainlink)(nil)

// checkRoundAge fails when the feed's last update is older than maxAge. A stale
// feed is reported as an error, not as a missing quote.
func checkRoundAge(addr common.Address, updatedAt int64, maxAge time.Duration, now time.Time) error {
	if maxAge <= 0 {
		return nil
	}
	age := now.Sub(time.Unix(updatedAt, 0))
	if age > maxAge {
		return fmt.Errorf("feed %s stale: updated %s ago", addr.Hex(), age.Truncate(time.Second))
	}
	return nil
}
