// Package block_dater resolves calendar dates to chain blocks.
//
// A resolution predicts the target block by linear extrapolation from the
// chain head, refines the guess by re-anchoring the prediction on each
// candidate, nudges it once by the local block time, then walks ±1 until the
// target timestamp is bracketed by adjacent blocks. Every block read goes
// through a per-session cache so repeated and neighbouring lookups are free.
package block_dater

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/blockdater/internal/domain/entity"
	"github.com/archon-research/blockdater/internal/ports/inbound"
	"github.com/archon-research/blockdater/internal/ports/outbound"
)

const (
	// tracerName is the instrumentation name for this service.
	tracerName = "github.com/archon-research/blockdater/internal/services/block_dater"

	// DefaultWindowSize is the number of blocks averaged for predictions.
	DefaultWindowSize = 100_000

	// DefaultLocalWindowSize is the number of blocks averaged around the
	// initial prediction to measure the local block time.
	DefaultLocalWindowSize = 1_000

	// Refinement thresholds, in multiples of the local block time.
	coarseThreshold = 100
	fineThreshold   = 5

	defaultMaxRefineIterations = 64
)

// Compile-time check that Service implements inbound.BlockDater
var _ inbound.BlockDater = (*Service)(nil)

// Config holds configuration for the block dater.
type Config struct {
	// WindowSize is the averaging window for predictions. Defaults to 100000.
	WindowSize uint64

	// LocalWindowSize is the averaging window around the first prediction. Defaults to 1000.
	LocalWindowSize uint64

	// MaxRefineIterations caps the coarse refinement loop. Defaults to 64.
	MaxRefineIterations int

	// MaxScanSteps caps the ±1 boundary scan and the walk over blocks sharing
	// the target timestamp. Zero means one step per block up to the head.
	MaxScanSteps int

	// Metrics records resolution metrics. Optional.
	Metrics outbound.DaterMetrics

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		WindowSize:          DefaultWindowSize,
		LocalWindowSize:     DefaultLocalWindowSize,
		MaxRefineIterations: defaultMaxRefineIterations,
		Logger:              slog.Default(),
	}
}

// Stats are per-session counters.
type Stats struct {
	BlockFetches         int `json:"block_fetches"`          // blocks read from the fetcher
	CacheHits            int `json:"cache_hits"`             // blocks served from the cache
	HeadFetches          int `json:"head_fetches"`           // chain head lookups
	CachedBlocks         int `json:"cached_blocks"`          // blocks currently cached
	LastRefineIterations int `json:"last_refine_iterations"` // coarse rounds used by the last resolution
}

// Service resolves dates to blocks against one BlockFetcher.
// It owns its block cache and is not safe for concurrent use.
type Service struct {
	config  Config
	fetcher outbound.BlockFetcher
	cache   *blockCache
	metrics outbound.DaterMetrics
	logger  *slog.Logger

	headFetches    int
	lastIterations int
}

// NewService creates a new block dater reading blocks through fetcher.
func NewService(config Config, fetcher outbound.BlockFetcher) (*Service, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}

	defaults := ConfigDefaults()
	if config.WindowSize == 0 {
		config.WindowSize = defaults.WindowSize
	}
	if config.LocalWindowSize == 0 {
		config.LocalWindowSize = defaults.LocalWindowSize
	}
	if config.MaxRefineIterations <= 0 {
		config.MaxRefineIterations = defaults.MaxRefineIterations
	}
	if config.MaxScanSteps < 0 {
		config.MaxScanSteps = defaults.MaxScanSteps
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Service{
		config:  config,
		fetcher: fetcher,
		cache:   newBlockCache(fetcher, metrics),
		metrics: metrics,
		logger:  config.Logger.With("component", "block-dater"),
	}, nil
}

// ClearCache drops every cached block. Later lookups query the fetcher again.
func (s *Service) ClearCache() {
	s.cache.reset()
}

// Stats returns the session counters.
func (s *Service) Stats() Stats {
	return Stats{
		BlockFetches:         s.cache.fetches,
		CacheHits:            s.cache.hits,
		HeadFetches:          s.headFetches,
		CachedBlocks:         s.cache.size(),
		LastRefineIterations: s.lastIterations,
	}
}

// Ping checks that the fetcher can report the chain head. Like every Service
// method it must not run concurrently; see HeadPinger for shared health checks.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.headNumber(ctx)
	return err
}

// BlockByDate returns the earliest block with timestamp >= target when after
// is true, or the latest block with timestamp <= target when it is false.
//
// Targets before genesis or after the current head fail with ErrOutOfRange.
// Any fetch failure aborts the resolution; nothing is retried here.
func (s *Service) BlockByDate(ctx context.Context, target time.Time, after bool) (block *entity.Block, err error) {
	start := time.Now()

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "blockdater.BlockByDate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("target.timestamp", target.Unix()),
			attribute.Bool("target.after", after),
		),
	)

	fetchesBefore := s.cache.fetches
	defer func() {
		status := errorStatus(err)
		span.SetAttributes(
			attribute.Int("search.refine_iterations", s.lastIterations),
			attribute.Int("search.block_fetches", s.cache.fetches-fetchesBefore),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		} else {
			span.SetAttributes(
				attribute.Int64("block.number", int64(block.Number)),
				attribute.String("block.hash", block.HashHex()),
			)
		}
		span.End()
		s.metrics.RecordResolution(ctx, time.Since(start), status)
	}()

	return s.resolve(ctx, target, after)
}

// searchState is the transient state of one resolution.
type searchState struct {
	target    time.Time
	targetTs  int64
	head      uint64
	number    uint64
	diffTime  int64   // targetTs minus the candidate's timestamp
	blockTime float64 // local seconds per block
}

func (s *Service) resolve(ctx context.Context, target time.Time, after bool) (*entity.Block, error) {
	s.lastIterations = 0

	st := &searchState{target: target, targetTs: target.Unix()}

	genesis, head, err := s.chainBounds(ctx)
	if err != nil {
		return nil, err
	}
	if st.targetTs < int64(genesis.Timestamp) {
		return nil, fmt.Errorf("%w: %s is before genesis at %s",
			ErrOutOfRange, target.UTC().Format(time.RFC3339), genesis.Time().Format(time.RFC3339))
	}
	if st.targetTs > int64(head.Timestamp) {
		return nil, fmt.Errorf("%w: %s is after head block %d at %s",
			ErrOutOfRange, target.UTC().Format(time.RFC3339), head.Number, head.Time().Format(time.RFC3339))
	}
	if head.Number == 0 {
		return genesis, nil
	}
	st.head = head.Number

	// Between genesis and block 1 there is nothing to extrapolate from.
	first, err := s.cache.getOrFetch(ctx, 1)
	if err != nil {
		return nil, err
	}
	if st.targetTs <= int64(first.Timestamp) {
		st.number = 1
		return s.boundaryScan(ctx, st, after)
	}

	if err := s.initialEstimate(ctx, st); err != nil {
		return nil, err
	}
	if err := s.coarseRefine(ctx, st); err != nil {
		return nil, err
	}
	if err := s.fineAdjust(st); err != nil {
		return nil, err
	}
	return s.boundaryScan(ctx, st, after)
}

// chainBounds fetches the genesis and head blocks.
func (s *Service) chainBounds(ctx context.Context) (*entity.Block, *entity.Block, error) {
	headNum, err := s.headNumber(ctx)
	if err != nil {
		return nil, nil, err
	}
	genesis, err := s.cache.getOrFetch(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	head, err := s.cache.getOrFetch(ctx, headNum)
	if err != nil {
		return nil, nil, err
	}
	return genesis, head, nil
}

func (s *Service) initialEstimate(ctx context.Context, st *searchState) error {
	predicted, err := s.predictBlockNumber(ctx, st.target, nil)
	if err != nil {
		return err
	}
	st.number = clampBlock(predicted, st.head)

	st.blockTime, err = s.blockTimeAround(ctx, s.config.LocalWindowSize, st.number)
	if err != nil {
		return err
	}
	if st.blockTime < minBlockTime {
		return fmt.Errorf("%w: %g s/block around block %d", ErrZeroBlockTime, st.blockTime, st.number)
	}

	if err := s.measure(ctx, st); err != nil {
		return err
	}

	s.logger.Debug("initial estimate",
		"target", st.targetTs,
		"predicted", predicted,
		"block", st.number,
		"block_time", st.blockTime,
		"diff_time", st.diffTime,
	)
	return nil
}

// coarseRefine re-anchors the prediction on the candidate until it lands
// within coarseThreshold block times of the target.
func (s *Service) coarseRefine(ctx context.Context, st *searchState) error {
	defer func() {
		s.metrics.RecordRefineIterations(ctx, s.lastIterations)
	}()

	for absSeconds(st.diffTime) >= st.blockTime*coarseThreshold {
		if s.lastIterations >= s.config.MaxRefineIterations {
			return fmt.Errorf("%w: still %ds from target at block %d after %d refinements",
				ErrConvergenceFailure, st.diffTime, st.number, s.lastIterations)
		}
		s.lastIterations++

		anchor := st.number
		predicted, err := s.predictBlockNumber(ctx, st.target, &anchor)
		if err != nil {
			return err
		}
		st.number = clampBlock(predicted, st.head)

		if err := s.measure(ctx, st); err != nil {
			return err
		}

		s.logger.Debug("refined estimate",
			"iteration", s.lastIterations,
			"anchor", anchor,
			"block", st.number,
			"diff_time", st.diffTime,
		)
	}
	return nil
}

// fineAdjust nudges the candidate once by the local block time when it is
// still more than fineThreshold blocks away.
func (s *Service) fineAdjust(st *searchState) error {
	if absSeconds(st.diffTime) <= st.blockTime*fineThreshold {
		return nil
	}

	step, err := roundBlocks(st.diffTime, st.blockTime)
	if err != nil {
		return err
	}
	from := st.number
	st.number = clampBlock(int64(st.number)+step, st.head)

	s.logger.Debug("fine adjustment", "from", from, "to", st.number, "step", step)
	return nil
}

// boundaryScan walks ±1 from the candidate until the target is bracketed by
// its neighbours, then picks the ceiling or floor block.
func (s *Service) boundaryScan(ctx context.Context, st *searchState, after bool) (*entity.Block, error) {
	target := uint64(st.targetTs)
	limit := s.scanLimit(st.head)

	for steps := uint64(0); ; steps++ {
		if steps > limit {
			return nil, fmt.Errorf("%w: boundary scan exceeded %d steps at block %d",
				ErrConvergenceFailure, limit, st.number)
		}

		block, prev, next, err := s.neighbourhood(ctx, st.number, st.head)
		if err != nil {
			return nil, err
		}

		if prev.Timestamp <= target && target <= next.Timestamp {
			s.logger.Debug("target bracketed", "block", st.number, "scan_steps", steps)
			return s.settle(ctx, st, block, prev, next, after)
		}

		if block.Timestamp > target {
			if st.number == 0 {
				return nil, fmt.Errorf("%w: boundary scan stepped below genesis", ErrOutOfRange)
			}
			st.number--
		} else {
			if st.number >= st.head {
				return nil, fmt.Errorf("%w: boundary scan stepped past head block %d", ErrOutOfRange, st.head)
			}
			st.number++
		}
	}
}

// neighbourhood fetches the block at number and its two neighbours, in that
// order. At either end of the chain the missing neighbour is the block itself.
func (s *Service) neighbourhood(ctx context.Context, number, head uint64) (block, prev, next *entity.Block, err error) {
	block, err = s.cache.getOrFetch(ctx, number)
	if err != nil {
		return nil, nil, nil, err
	}

	prev = block
	if number > 0 {
		if prev, err = s.cache.getOrFetch(ctx, number-1); err != nil {
			return nil, nil, nil, err
		}
	}

	next = block
	if number < head {
		if next, err = s.cache.getOrFetch(ctx, number+1); err != nil {
			return nil, nil, nil, err
		}
	}
	return block, prev, next, nil
}

// settle picks the result once prev.Timestamp <= target <= next.Timestamp.
// Runs of blocks sharing the target timestamp are walked so that after
// returns the earliest block at or after the target and !after the latest
// block at or before it.
func (s *Service) settle(ctx context.Context, st *searchState, block, prev, next *entity.Block, after bool) (*entity.Block, error) {
	target := uint64(st.targetTs)
	limit := s.scanLimit(st.head)

	if after {
		result := next
		if block.Timestamp >= target {
			result = block
		}
		for steps := uint64(0); result.Number > 0; steps++ {
			if steps > limit {
				return nil, fmt.Errorf("%w: more than %d blocks share timestamp %d", ErrConvergenceFailure, limit, target)
			}
			earlier, err := s.cache.getOrFetch(ctx, result.Number-1)
			if err != nil {
				return nil, err
			}
			if earlier.Timestamp < target {
				break
			}
			result = earlier
		}
		return result, nil
	}

	result := prev
	if block.Timestamp <= target {
		result = block
	}
	for steps := uint64(0); result.Number < st.head; steps++ {
		if steps > limit {
			return nil, fmt.Errorf("%w: more than %d blocks share timestamp %d", ErrConvergenceFailure, limit, target)
		}
		later, err := s.cache.getOrFetch(ctx, result.Number+1)
		if err != nil {
			return nil, err
		}
		if later.Timestamp > target {
			break
		}
		result = later
	}
	return result, nil
}

// scanLimit bounds the ±1 walks. A monotonic chain never needs more than one
// step per block.
func (s *Service) scanLimit(head uint64) uint64 {
	if s.config.MaxScanSteps > 0 {
		return uint64(s.config.MaxScanSteps)
	}
	return head + 1
}

// measure fetches the candidate block and updates the time difference.
func (s *Service) measure(ctx context.Context, st *searchState) error {
	b, err := s.cache.getOrFetch(ctx, st.number)
	if err != nil {
		return err
	}
	st.diffTime = st.targetTs - int64(b.Timestamp)
	return nil
}

// headNumber asks the fetcher for the current chain head.
func (s *Service) headNumber(ctx context.Context) (uint64, error) {
	s.headFetches++
	head, err := s.fetcher.FetchHeadNumber(ctx)
	if err != nil {
		return 0, &FetchError{Op: opFetchHead, Err: err}
	}
	return head, nil
}

func absSeconds(v int64) float64 {
	if v < 0 {
		return -float64(v)
	}
	return float64(v)
}

type noopMetrics struct{}

func (noopMetrics) RecordResolution(context.Context, time.Duration, string) {}
func (noopMetrics) RecordBlockFetch(context.Context, string)                {}
func (noopMetrics) RecordRefineIterations(context.Context, int)             {}
