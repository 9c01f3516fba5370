package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"signal-intel/internal/storage"
)

// ErrUnavailable means the move cannot be obtained yet. Callers retry later.
var ErrUnavailable = errors.New("marketdata: move unavailable")

var hundred = decimal.NewFromInt(100)

// Move is the price change of one instrument over a window.
type Move struct {
	Symbol        string          `json:"symbol"`
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	Open          decimal.Decimal `json:"open"`
	Close         decimal.Decimal `json:"close"`
	PercentChange decimal.Decimal `json:"percent_change"`
	Source        string          `json:"source"`
}

// NewMove builds a move from the opening and closing price. PercentChange is
// expressed in percent (0.5 means half a percent).
func NewMove(symbol, source string, from, to time.Time, open, close decimal.Decimal) (Move, error) {
	if !open.IsPositive() {
		return Move{}, fmt.Errorf("%w: non-positive opening price %s", ErrUnavailable, open)
	}
	pct := close.Sub(open).Div(open).Mul(hundred).Round(6)
	return Move{
		Symbol:        symbol,
		From:          from,
		To:            to,
		Open:          open,
		Close:         close,
		PercentChange: pct,
		Source:        source,
	}, nil
}

// MoveProvider returns the realised move of an instrument between two instants.
type MoveProvider interface {
	Move(ctx context.Context, inst storage.Instrument, from, to time.Time) (Move, error)
}

// checkWindow rejects windows that have not closed yet.
func checkWindow(from, to, now time.Time) error {
	if !to.After(from) {
		return fmt.Errorf("marketdata: window end %s not after start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	if to.After(now) {
		return fmt.Errorf("%w: window closes at %s", ErrUnavailable, to.Format(time.RFC3339))
	}
	return nil
}

// Unavailable is the provider used when no market data source is configured.
type Unavailable struct{}

func (Unavailable) Move(context.Context, storage.Instrument, time.Time, time.Time) (Move, error) {
	return Move{}, ErrUnavailable
}

// Chain asks each provider in order and returns the first move found.
type Chain struct {
	providers []MoveProvider
	logger    zerolog.Logger
	now       func() time.Time
}

func NewChain(logger zerolog.Logger, providers ...MoveProvider) *Chain {
	return &Chain{
		providers: providers,
		logger:    logger.With().Str("component", "marketdata").Logger(),
		now:       time.Now,
	}
}

// Move returns ErrUnavailable when every provider reports the move as
// unavailable, or the joined provider errors when any of them failed.
func (c *Chain) Move(ctx context.Context, inst storage.Instrument, from, to time.Time) (Move, error) {
	if err := checkWindow(from, to, c.now()); err != nil {
		return Move{}, err
	}

	var errs []error
	for _, p := range c.providers {
		move, err := p.Move(ctx, inst, from, to)
		if err == nil {
			return move, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Move{}, ctxErr
		}
		if errors.Is(err, ErrUnavailable) {
			continue
		}
		c.logger.Warn().Err(err).Str("symbol", inst.Symbol).Msg("market data provider failed")
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Move{}, ErrUnavailable
	}
	return Move{}, fmt.Errorf("fetch move for %s: %w", inst.Symbol, errors.Join(errs...))
}

var (
	_ MoveProvider = Unavailable{}
	_ MoveProvider = (*Chain)(nil)
)
