// Package scan implements trading-pattern detection over bonding curve
// account changes. The dealer rule looks for coordinated buying: a run of
// near-identical buys landing on one mint inside a short window, the
// signature of a single actor splitting an entry across wallets.
package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/solwatch/service/codec"
	"github.com/brojonat/solwatch/service/executor"
	"github.com/brojonat/solwatch/service/metrics"
	natspub "github.com/brojonat/solwatch/service/nats"
	"github.com/brojonat/solwatch/service/tracker"
	"github.com/gagliardetto/solana-go"
)

const lamportsPerSOL = 1e9

// Config tunes the dealer rule.
type Config struct {
	// AlarmThresholdSOL raises an alarm when one mint accumulates this much
	// buy volume inside a single bucket, regardless of buy uniformity.
	AlarmThresholdSOL float64

	// MinBuySOL filters out buys too small to matter.
	MinBuySOL float64

	// Tolerance is the relative deviation from the first buy that still
	// counts as part of a run (0.15 = 15%).
	Tolerance float64

	// Window is how long a bucket ages before it is judged and discarded.
	Window time.Duration

	// CheckInterval is the sweep cadence.
	CheckInterval time.Duration

	// MinRun is the number of uniform buys that triggers an alarm.
	MinRun int
}

// buy is one observed curve purchase.
type buy struct {
	sol   float64
	price float64
	slot  uint64
	curve solana.PublicKey
}

// Dealer consumes bonding curve change events and raises alarms through the
// publisher. It implements the dispatch handler interface.
type Dealer struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher natspub.Publisher

	// exec, when set, is asked for the largest holders of an alarmed mint
	// so downstream consumers see who is accumulating.
	exec *executor.Executor

	// now is swapped out in tests.
	now func() time.Time

	mu sync.Mutex
	// mints maps a derived curve address back to its mint.
	mints map[solana.PublicKey]solana.PublicKey
	// buckets holds buys keyed by observation second, then mint.
	buckets map[int64]map[solana.PublicKey][]buy
}

// NewDealer creates a dealer rule. exec may be nil; if m is nil, no metrics
// are recorded.
func NewDealer(cfg Config, pub natspub.Publisher, exec *executor.Executor, logger *slog.Logger, m *metrics.Metrics) *Dealer {
	if cfg.MinRun <= 0 {
		cfg.MinRun = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 0.15
	}

	return &Dealer{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		publisher: pub,
		exec:      exec,
		now:       time.Now,
		mints:     make(map[solana.PublicKey]solana.PublicKey),
		buckets:   make(map[int64]map[solana.PublicKey][]buy),
	}
}

// Track registers a mint and returns the bonding curve address to watch.
// Change events for untracked curves are ignored.
func (d *Dealer) Track(mint solana.PublicKey) (solana.PublicKey, error) {
	curve, err := CurveAddress(mint)
	if err != nil {
		return solana.PublicKey{}, err
	}

	d.mu.Lock()
	d.mints[curve] = mint
	d.mu.Unlock()

	d.logger.Info("tracking mint",
		"mint", mint.String(),
		"curve", curve.String(),
	)
	return curve, nil
}

func (d *Dealer) Name() string { return "scan_dealer" }

// Handle ingests one change event. A growing RealSolReserves between two
// curve snapshots is a buy for the delta; shrinking reserves are sells and
// ignored.
func (d *Dealer) Handle(ctx context.Context, ev tracker.ChangeEvent) error {
	d.mu.Lock()
	mint, tracked := d.mints[ev.Address]
	d.mu.Unlock()
	if !tracked {
		return nil
	}
	if ev.Previous == nil {
		// First snapshot is the baseline; there is no delta to judge yet.
		return nil
	}

	curr, err := codec.DecodeBondingCurve(ev.Current.Data)
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordDecodeError("bonding_curve")
		}
		d.logger.Warn("undecodable bonding curve update",
			"curve", ev.Address.String(),
			"slot", ev.Current.Slot,
			"error", err,
		)
		return nil
	}
	prev, err := codec.DecodeBondingCurve(ev.Previous.Data)
	if err != nil {
		return nil
	}

	if curr.RealSolReserves <= prev.RealSolReserves {
		return nil
	}
	sol := float64(curr.RealSolReserves-prev.RealSolReserves) / lamportsPerSOL
	if sol < d.cfg.MinBuySOL {
		return nil
	}

	b := buy{
		sol:   sol,
		price: curr.Price(),
		slot:  ev.Current.Slot,
		curve: ev.Address,
	}
	ts := d.now().Unix()

	d.mu.Lock()
	coins, ok := d.buckets[ts]
	if !ok {
		coins = make(map[solana.PublicKey][]buy)
		d.buckets[ts] = coins
	}
	coins[mint] = append(coins[mint], b)
	d.mu.Unlock()

	d.logger.Debug("recorded buy",
		"mint", mint.String(),
		"sol", sol,
		"price", b.price,
		"slot", b.slot,
	)
	return nil
}

// Run sweeps aged buckets until ctx is cancelled.
func (d *Dealer) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// sweep judges and discards every bucket older than the window.
func (d *Dealer) sweep(ctx context.Context) {
	cutoff := d.now().Add(-d.cfg.Window).Unix()

	d.mu.Lock()
	aged := make(map[int64]map[solana.PublicKey][]buy)
	for ts, coins := range d.buckets {
		if ts <= cutoff {
			aged[ts] = coins
			delete(d.buckets, ts)
		}
	}
	d.mu.Unlock()

	for _, coins := range aged {
		for mint, buys := range coins {
			d.judge(ctx, mint, buys)
		}
	}
}

// judge raises an alarm when the first MinRun buys are uniform, or when the
// bucket's total volume crosses the threshold.
func (d *Dealer) judge(ctx context.Context, mint solana.PublicKey, buys []buy) {
	var total float64
	for _, b := range buys {
		total += b.sol
	}

	uniform := false
	if len(buys) >= d.cfg.MinRun {
		first := buys[0].sol
		uniform = true
		for i := 1; i < d.cfg.MinRun; i++ {
			if abs(buys[i].sol-first) > first*d.cfg.Tolerance {
				uniform = false
				break
			}
		}
	}
	volume := d.cfg.AlarmThresholdSOL > 0 && total >= d.cfg.AlarmThresholdSOL

	if !uniform && !volume {
		return
	}

	last := buys[len(buys)-1]
	alarm := &natspub.AlarmEvent{
		Mint:         mint.String(),
		CurveAddress: last.curve.String(),
		Slot:         last.slot,
		Buys:         len(buys),
		FirstBuySOL:  buys[0].sol,
		TotalSOL:     total,
		Price:        last.price,
		PublishedAt:  d.now().UTC(),
	}

	d.logger.Warn("dealer alarm",
		"mint", alarm.Mint,
		"buys", alarm.Buys,
		"first_buy_sol", alarm.FirstBuySOL,
		"total_sol", alarm.TotalSOL,
		"uniform_run", uniform,
	)
	if d.metrics != nil {
		d.metrics.RecordDealerAlarm(alarm.Mint)
	}

	if err := d.publisher.PublishAlarm(ctx, alarm); err != nil {
		d.logger.Error("failed to publish alarm",
			"mint", alarm.Mint,
			"error", err,
		)
	}

	if d.exec != nil {
		// Fire and forget; the result lands in the executor arena and logs.
		d.exec.Submit(ctx, executor.Request{
			Kind:    executor.KindQueryLargestHolders,
			Account: mint,
		})
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
