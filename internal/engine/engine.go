// Package engine implements the position engine: it owns the vAMM
// reserve pair, the position map, and the aggregate exposure counters,
// and exposes the full position lifecycle plus funding distribution.
//
// Every entrypoint runs under one mutex, refreshes the index price from
// the oracle, stages collateral transfers in an outbox, and commits them
// only after its own state changes succeeded. A failed transfer rolls
// the whole call back from a pre-op snapshot; nothing partially commits.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vammengine/internal/collateral"
	"vammengine/internal/event"
	"vammengine/internal/fixedpoint"
	"vammengine/internal/funding"
	"vammengine/internal/observability"
	"vammengine/internal/oracle"
	"vammengine/internal/vamm"
)

const (
	defaultFeePct       = 2
	defaultFundingCycle = time.Hour
	defaultOracleMaxAge = 600 * time.Second

	liquidationFundCutPct = 3
)

// Config carries the engine's construction parameters.
type Config struct {
	// EngineAddress is the ledger account holding position collateral.
	EngineAddress collateral.Address
	Administrator collateral.Address
	FundManager   collateral.Address

	// Decimals sets the fixed-point scale (10^Decimals). Default 6.
	Decimals int
	// TransactionFeePct is the open/add-margin fee in whole percent.
	TransactionFeePct int64
	// FundingPeriod between distribution passes. Default one hour.
	FundingPeriod time.Duration
	// OracleMaxAge is the staleness bound on index prices. Default 600s.
	OracleMaxAge time.Duration
}

// PositionEngine is the single-writer core. All exported methods are
// safe for concurrent use.
type PositionEngine struct {
	mu  sync.Mutex
	log zerolog.Logger

	cfg     Config
	metrics *observability.Metrics
	oracle  oracle.PriceOracle
	ledger  collateral.Ledger
	bus     *event.Bus
	nowFn   func() time.Time

	scale  *big.Int
	status ContractStatus
	admin  *AdministrationPanel

	reserves   *vamm.ReservePair
	positions  map[collateral.Address]*Position
	totalLong  *big.Int
	totalShort *big.Int

	indexPrice *big.Int
	markPrice  *big.Int

	feePct        int64
	fundingPeriod time.Duration
	oracleMaxAge  time.Duration
	fundingRates  funding.Pair
	prevFunding   time.Time
	nextFunding   time.Time

	seq int64
}

// NewPositionEngine builds an engine in NotInitialized status. The
// metrics handle may be nil (e.g. in tests).
func NewPositionEngine(
	cfg Config,
	priceOracle oracle.PriceOracle,
	ledger collateral.Ledger,
	bus *event.Bus,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *PositionEngine {
	if cfg.Decimals <= 0 {
		cfg.Decimals = fixedpoint.DefaultDecimals
	}
	if cfg.TransactionFeePct <= 0 {
		cfg.TransactionFeePct = defaultFeePct
	}
	if cfg.FundingPeriod <= 0 {
		cfg.FundingPeriod = defaultFundingCycle
	}
	if cfg.OracleMaxAge <= 0 {
		cfg.OracleMaxAge = defaultOracleMaxAge
	}

	zeroRate := funding.Rate{Value: new(big.Int), Direction: funding.RatePositive}
	return &PositionEngine{
		log:           log,
		cfg:           cfg,
		metrics:       metrics,
		oracle:        priceOracle,
		ledger:        ledger,
		bus:           bus,
		nowFn:         time.Now,
		scale:         fixedpoint.Scale(cfg.Decimals),
		status:        StatusNotInitialized,
		admin:         NewAdministrationPanel(cfg.Administrator, cfg.FundManager),
		reserves:      vamm.NewReservePair(),
		positions:     make(map[collateral.Address]*Position),
		totalLong:     new(big.Int),
		totalShort:    new(big.Int),
		indexPrice:    new(big.Int),
		markPrice:     new(big.Int),
		feePct:        cfg.TransactionFeePct,
		fundingPeriod: cfg.FundingPeriod,
		oracleMaxAge:  cfg.OracleMaxAge,
		fundingRates:  funding.Pair{Long: zeroRate, Short: zeroRate},
	}
}

// SetClock overrides the engine's time source. Test hook.
func (e *PositionEngine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nowFn = now
}

// refreshIndexPrice reads the oracle and stores the index price. Fails
// when the last completed round is older than the staleness bound, which
// blocks all trading, funding, and liquidation until the feed recovers.
// Caller holds the lock.
func (e *PositionEngine) refreshIndexPrice(ctx context.Context) error {
	data, err := e.oracle.LastCompletedData(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaleOracleData, err)
	}
	age := e.nowFn().Sub(data.UpdatedAt)
	if age > e.oracleMaxAge {
		if e.metrics != nil {
			e.metrics.OracleStaleRejections.Inc()
		}
		return fmt.Errorf("%w: last update %s ago", ErrStaleOracleData, age)
	}
	e.indexPrice.Set(data.Price)
	return nil
}

// recomputeMark stores the current mark price. Caller holds the lock and
// guarantees initialized reserves.
func (e *PositionEngine) recomputeMark() error {
	mark, err := e.reserves.MarkPrice(e.scale)
	if err != nil {
		return err
	}
	e.markPrice.Set(mark)
	return nil
}

// snapshot captures all state a mutating entrypoint may touch.
type snapshot struct {
	status       ContractStatus
	admin        *AdministrationPanel
	reserves     *vamm.ReservePair
	positions    map[collateral.Address]*Position
	totalLong    *big.Int
	totalShort   *big.Int
	indexPrice   *big.Int
	markPrice    *big.Int
	fundingRates funding.Pair
	prevFunding  time.Time
	nextFunding  time.Time
}

func (e *PositionEngine) snapshot() *snapshot {
	positions := make(map[collateral.Address]*Position, len(e.positions))
	for holder, pos := range e.positions {
		positions[holder] = pos.Clone()
	}
	return &snapshot{
		status:     e.status,
		admin:      e.admin.clone(),
		reserves:   e.reserves.Clone(),
		positions:  positions,
		totalLong:  fixedpoint.Clone(e.totalLong),
		totalShort: fixedpoint.Clone(e.totalShort),
		indexPrice: fixedpoint.Clone(e.indexPrice),
		markPrice:  fixedpoint.Clone(e.markPrice),
		fundingRates: funding.Pair{
			Long:  funding.Rate{Value: fixedpoint.Clone(e.fundingRates.Long.Value), Direction: e.fundingRates.Long.Direction},
			Short: funding.Rate{Value: fixedpoint.Clone(e.fundingRates.Short.Value), Direction: e.fundingRates.Short.Direction},
		},
		prevFunding: e.prevFunding,
		nextFunding: e.nextFunding,
	}
}

func (e *PositionEngine) restore(s *snapshot) {
	e.status = s.status
	e.admin = s.admin
	e.reserves = s.reserves
	e.positions = s.positions
	e.totalLong = s.totalLong
	e.totalShort = s.totalShort
	e.indexPrice = s.indexPrice
	e.markPrice = s.markPrice
	e.fundingRates = s.fundingRates
	e.prevFunding = s.prevFunding
	e.nextFunding = s.nextFunding
}

// commit flushes the outbox and rolls back to snap on failure. Also
// verifies the reserve invariant after every successful commit.
func (e *PositionEngine) commit(snap *snapshot, outbox *collateral.Outbox) error {
	if err := outbox.Flush(); err != nil {
		e.restore(snap)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if e.reserves.Initialized() {
		if err := e.reserves.CheckInvariant(e.scale); err != nil {
			// The reserve math is broken; refusing to continue beats
			// trading against a corrupted curve.
			e.log.Panic().Err(err).Msg("reserve invariant violated after commit")
		}
	}
	e.updateMarketGauges()
	return nil
}

func (e *PositionEngine) updateMarketGauges() {
	if e.metrics == nil {
		return
	}
	observability.SetGaugeBig(e.metrics.MarkPrice, e.markPrice)
	observability.SetGaugeBig(e.metrics.IndexPrice, e.indexPrice)
	observability.SetGaugeBig(e.metrics.ReserveAsset, e.reserves.Asset)
	observability.SetGaugeBig(e.metrics.ReserveQuote, e.reserves.Quote)
	e.metrics.OpenPositions.Set(float64(len(e.positions)))
}

// emit seals a payload into the event log. Caller holds the lock.
func (e *PositionEngine) emit(p event.Payload) {
	e.seq++
	env, err := event.NewEnvelope(e.seq, e.nowFn(), p)
	if err != nil {
		e.log.Error().Err(err).Msg("event envelope")
		return
	}
	e.bus.Emit(env)
	e.log.Debug().
		Int64("seq", env.Sequence).
		Str("event", env.Type.String()).
		Msg("event emitted")
}

// authorizeFor permits self-service calls and position managers acting
// for any holder.
func (e *PositionEngine) authorizeFor(caller, holder collateral.Address) error {
	if caller == holder {
		return nil
	}
	if !e.admin.IsPositionManager(caller) {
		return fmt.Errorf("%w: %s acting for %s", ErrNotPositionManager, caller, holder)
	}
	return nil
}

func (e *PositionEngine) rejected(op string, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, reasonLabel(err)).Inc()
	}
	e.log.Warn().Str("op", op).Err(err).Msg("operation rejected")
	return err
}

func reasonLabel(err error) string {
	switch {
	case err == nil:
		return "none"
	default:
		// Unwrap to the sentinel text's first word group for a bounded
		// label set.
		for _, s := range []struct {
			target error
			label  string
		}{
			{ErrNotAdmin, "not_admin"},
			{ErrNotPositionManager, "not_position_manager"},
			{ErrNotAuthorized, "not_authorized"},
			{ErrInvalidStatus, "invalid_status"},
			{ErrAlreadyInitialized, "already_initialized"},
			{ErrFundingNotDue, "funding_not_due"},
			{ErrPositionNotFound, "position_not_found"},
			{ErrDirectionMismatch, "direction_mismatch"},
			{ErrInvalidAmount, "invalid_amount"},
			{ErrInvalidLeverage, "invalid_leverage"},
			{ErrExcessiveDecrease, "excessive_decrease"},
			{ErrInsufficientMargin, "insufficient_margin"},
			{ErrMarginRatioTooHigh, "margin_ratio_too_high"},
			{ErrStaleOracleData, "stale_oracle"},
			{ErrTransferFailed, "transfer_failed"},
		} {
			if errors.Is(err, s.target) {
				return s.label
			}
		}
		return "other"
	}
}
