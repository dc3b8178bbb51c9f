package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/metrics"
	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/storage"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const monthLayout = "2006-01"

// Result is the outcome of a quota check.
type Result struct {
	Allowed   bool             `json:"allowed"`
	UsageType models.UsageType `json:"usage_type"`
	Limit     int              `json:"limit"`
	Used      int64            `json:"used"`
	// Remaining is nil when the limit is unlimited.
	Remaining *int64 `json:"remaining"`
}

type Config struct {
	MaxAttempts  int
	StoreTimeout time.Duration
}

// Tracker enforces monthly quotas against the durable ledger.
//
// It fails CLOSED: if the ledger cannot be reached after MaxAttempts the
// request is denied. This is the opposite of the rate limiter, which fails
// open; billing accuracy outweighs availability here.
type Tracker struct {
	ledger       Ledger
	events       EventSink
	metrics      *metrics.Metrics
	maxAttempts  int
	storeTimeout time.Duration
	now          func() time.Time

	pending sync.WaitGroup
}

// m may be nil.
func NewTracker(ledger Ledger, events EventSink, m *metrics.Metrics, cfg Config) *Tracker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	return &Tracker{
		ledger:       ledger,
		events:       events,
		metrics:      m,
		maxAttempts:  cfg.MaxAttempts,
		storeTimeout: cfg.StoreTimeout,
		now:          time.Now,
	}
}

// CurrentMonth is the billing period key for now.
func (t *Tracker) CurrentMonth() string {
	return t.now().UTC().Format(monthLayout)
}

// CheckQuota checks and, when admitted, counts amount units of usageType in
// one atomic step. A limit of 0 is unlimited. Denials return a
// *QuotaExceededError alongside the Result.
func (t *Tracker) CheckQuota(ctx context.Context, tenantID uuid.UUID, usageType models.UsageType, limit, amount int) (Result, error) {
	return t.CheckQuotaForEndpoint(ctx, tenantID, usageType, limit, amount, "")
}

// CheckQuotaForEndpoint is CheckQuota that also attributes the usage to an
// endpoint in the monthly breakdown.
func (t *Tracker) CheckQuotaForEndpoint(ctx context.Context, tenantID uuid.UUID, usageType models.UsageType, limit, amount int, endpoint string) (Result, error) {
	if !usageType.Valid() {
		return Result{}, fmt.Errorf("unknown usage type: %s", usageType)
	}
	if amount <= 0 {
		return Result{}, fmt.Errorf("amount must be positive, got %d", amount)
	}

	res := Result{UsageType: usageType, Limit: limit}
	month := t.CurrentMonth()

	if limit <= 0 {
		used, _, err := t.increment(ctx, tenantID, month, usageType, int64(amount), 0, endpoint)
		if err != nil {
			log.WithFields(log.Fields{
				"tenant_id":  tenantID,
				"usage_type": usageType,
			}).WithError(err).Error("failed to record unlimited usage")
		}
		res.Allowed = true
		res.Used = used
		t.observe(usageType, "unlimited")
		return res, nil
	}

	used, applied, err := t.increment(ctx, tenantID, month, usageType, int64(amount), int64(limit), endpoint)
	if err != nil {
		if t.metrics != nil {
			t.metrics.QuotaStoreErrors.Inc()
		}
		log.WithFields(log.Fields{
			"tenant_id":  tenantID,
			"usage_type": usageType,
			"limit":      limit,
		}).WithError(err).Error("usage store unavailable, denying quota check")

		zero := int64(0)
		res.Remaining = &zero
		qerr := &QuotaExceededError{
			UsageType: usageType,
			Limit:     limit,
			Cause:     fmt.Errorf("%w: %v", ErrStoreUnavailable, err),
		}
		t.audit(ctx, tenantID, usageType, int64(limit), 0, endpoint, map[string]interface{}{
			"requested": amount,
			"reason":    "store_unavailable",
		})
		t.observe(usageType, "store_error")
		return res, qerr
	}

	res.Used = used
	remaining := int64(limit) - used
	if remaining < 0 {
		remaining = 0
	}

	if !applied {
		// A denied request cannot proceed, so nothing remains for it.
		// Available keeps the leftover for smaller requests.
		zero := int64(0)
		res.Remaining = &zero
		t.audit(ctx, tenantID, usageType, int64(limit), used, endpoint, map[string]interface{}{
			"requested": amount,
		})
		t.observe(usageType, "denied")
		return res, &QuotaExceededError{
			UsageType: usageType,
			Limit:     limit,
			Used:      used,
			Available: remaining,
		}
	}

	res.Allowed = true
	res.Remaining = &remaining
	t.observe(usageType, "allowed")
	return res, nil
}

// increment retries the ledger call a bounded number of times, each attempt
// with its own timeout. Only errors that prove nothing was written are
// retried, so a commit that outlives its deadline is never counted twice.
func (t *Tracker) increment(ctx context.Context, tenantID uuid.UUID, month string, usageType models.UsageType, amount, limit int64, endpoint string) (int64, bool, error) {
	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, t.storeTimeout)
		used, applied, err := t.ledger.Increment(attemptCtx, tenantID, month, usageType, amount, limit, endpoint)
		cancel()
		if err == nil {
			return used, applied, nil
		}

		lastErr = err
		log.WithFields(log.Fields{
			"tenant_id": tenantID,
			"attempt":   attempt,
		}).WithError(err).Debug("usage increment failed")
		if !storage.IsRetryable(err) {
			return 0, false, fmt.Errorf("attempt %d: %w", attempt, err)
		}
	}
	return 0, false, fmt.Errorf("after %d attempts: %w", t.maxAttempts, lastErr)
}

// RecordUsage counts amount units without any limit check.
func (t *Tracker) RecordUsage(ctx context.Context, tenantID uuid.UUID, usageType models.UsageType, amount int, endpoint string) error {
	if !usageType.Valid() {
		return fmt.Errorf("unknown usage type: %s", usageType)
	}
	if amount <= 0 {
		return nil
	}
	_, _, err := t.increment(ctx, tenantID, t.CurrentMonth(), usageType, int64(amount), 0, endpoint)
	return err
}

// IncrementUsage records usage in the background and never blocks the caller.
// Failures are logged. Flush waits for outstanding increments.
func (t *Tracker) IncrementUsage(tenantID uuid.UUID, usageType models.UsageType, amount int, endpoint string) {
	t.pending.Add(1)
	go func() {
		defer t.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(t.maxAttempts)*t.storeTimeout)
		defer cancel()

		if err := t.RecordUsage(ctx, tenantID, usageType, amount, endpoint); err != nil {
			if t.metrics != nil {
				t.metrics.UsageRecordErrors.Inc()
			}
			log.WithFields(log.Fields{
				"tenant_id":  tenantID,
				"usage_type": usageType,
				"amount":     amount,
			}).WithError(err).Error("failed to record usage")
		}
	}()
}

// Flush blocks until every background increment has finished or ctx is done.
func (t *Tracker) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordRateLimitDenial audits a rate limit rejection for a tenant.
// current is the window count that triggered the denial.
func (t *Tracker) RecordRateLimitDenial(ctx context.Context, tenantID uuid.UUID, endpoint string, limit, current int, class string) {
	t.writeEvent(ctx, &models.RateLimitEvent{
		TenantID:     tenantID,
		LimitType:    models.LimitTypeRate,
		Endpoint:     endpoint,
		LimitValue:   int64(limit),
		CurrentValue: int64(current),
	}, map[string]interface{}{"class": class})
}

func (t *Tracker) audit(ctx context.Context, tenantID uuid.UUID, usageType models.UsageType, limit, current int64, endpoint string, meta map[string]interface{}) {
	t.writeEvent(ctx, &models.RateLimitEvent{
		TenantID:     tenantID,
		LimitType:    models.LimitTypeQuota,
		UsageType:    string(usageType),
		Endpoint:     endpoint,
		LimitValue:   limit,
		CurrentValue: current,
	}, meta)
}

// Audit failures are logged and never change the enforcement decision.
func (t *Tracker) writeEvent(ctx context.Context, event *models.RateLimitEvent, meta map[string]interface{}) {
	if t.events == nil {
		return
	}
	if len(meta) > 0 {
		if data, err := json.Marshal(meta); err == nil {
			event.Metadata = datatypes.JSON(data)
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.storeTimeout)
	defer cancel()

	if err := t.events.Create(ctx, event); err != nil {
		log.WithFields(log.Fields{
			"tenant_id":  event.TenantID,
			"limit_type": event.LimitType,
		}).WithError(err).Error("failed to write rate limit event")
	}
}

func (t *Tracker) observe(usageType models.UsageType, result string) {
	if t.metrics != nil {
		t.metrics.QuotaDecisions.WithLabelValues(string(usageType), result).Inc()
	}
}
