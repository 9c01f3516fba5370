package marketdata

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
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"signal-intel/internal/storage"
)

const (
	aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

	defaultBlockTime = 12 * time.Second
)

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainReader is the subset of ethclient.Client the feed reader needs.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// ChainlinkOptions parameterise the on-chain price feed reader.
type ChainlinkOptions struct {
	RPCURL    string
	BlockTime time.Duration
	Timeout   time.Duration
}

// Chainlink reads a price feed's latest answer at the blocks nearest to the
// window bounds. Historical reads need an archive node.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    ChainReader
	clientMux sync.Mutex
	now       func() time.Time
}

// NewChainlink builds a feed reader that dials RPCURL lazily.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	if opts.BlockTime <= 0 {
		opts.BlockTime = defaultBlockTime
	}
	return &Chainlink{
		opts:   opts,
		logger: logger.With().Str("component", "chainlink").Logger(),
		now:    time.Now,
	}
}

// NewChainlinkWithReader builds a feed reader over an existing client.
func NewChainlinkWithReader(reader ChainReader, opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	c := NewChainlink(opts, logger)
	c.client = reader
	return c
}

// Move reads the feed at both ends of the window. Instruments without a
// feed address are unavailable here.
func (c *Chainlink) Move(ctx context.Context, inst storage.Instrument, from, to time.Time) (Move, error) {
	if inst.FeedAddress == "" {
		return Move{}, fmt.Errorf("%w: no price feed for %s", ErrUnavailable, inst.Symbol)
	}
	if err := checkWindow(from, to, c.now()); err != nil {
		return Move{}, err
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return Move{}, err
	}

	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return Move{}, fmt.Errorf("read chain head: %w", err)
	}

	feed := common.HexToAddress(inst.FeedAddress)
	decimals, err := c.decimals(ctx, client, feed)
	if err != nil {
		return Move{}, err
	}

	open, err := c.answerAt(ctx, client, feed, c.blockAt(head, from), decimals)
	if err != nil {
		return Move{}, err
	}
	closePrice, err := c.answerAt(ctx, client, feed, c.blockAt(head, to), decimals)
	if err != nil {
		return Move{}, err
	}
	return NewMove(inst.Symbol, "chainlink", from, to, open, closePrice)
}

// blockAt estimates the block number mined at t from the head block.
func (c *Chainlink) blockAt(head *types.Header, t time.Time) *big.Int {
	headTime := time.Unix(int64(head.Time), 0)
	behind := int64(headTime.Sub(t) / c.opts.BlockTime)
	if behind < 0 {
		behind = 0
	}
	n := new(big.Int).Sub(head.Number, big.NewInt(behind))
	if n.Sign() < 0 {
		n.SetInt64(0)
	}
	return n
}

func (c *Chainlink) decimals(ctx context.Context, client ChainReader, feed common.Address) (int32, error) {
	outputs, err := c.call(ctx, client, feed, "decimals", nil)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	return int32(d), nil
}

func (c *Chainlink) answerAt(ctx context.Context, client ChainReader, feed common.Address, block *big.Int, decimals int32) (decimal.Decimal, error) {
	outputs, err := c.call(ctx, client, feed, "latestRoundData", block)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(outputs) != 5 {
		return decimal.Decimal{}, errors.New("unexpected latestRoundData response")
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode latestRoundData answer")
	}
	return decimal.NewFromBigInt(answer, -decimals), nil
}

func (c *Chainlink) call(ctx context.Context, client ChainReader, feed common.Address, method string, block *big.Int) ([]interface{}, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: payload}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return aggregatorABI.Unpack(method, res)
}

func (c *Chainlink) getClient(ctx context.Context) (ChainReader, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.opts.RPCURL == "" {
		return nil, fmt.Errorf("%w: ethereum rpc url not configured", ErrUnavailable)
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ MoveProvider = (*Chainlink)(nil)
