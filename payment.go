package aureuspay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often a synchronizing payment re-fetches its
// remote state unless the caller overrides it.
const DefaultPollInterval = 3 * time.Second

// Enricher is an optional secondary data source queried when a payment is
// confirmed, to fill in a richer settlement record (transaction hash,
// confirmation time) than the primary response carries. The lookup is
// best-effort: one attempt, and on failure the primary fields stand.
type Enricher interface {
	PaymentRecord(ctx context.Context, id string) (map[string]interface{}, error)
}

// Payment is the stateful entity for one remote payment. It is created by
// Client.CreatePayment or Client.GetPayment, mutated only by its own
// synchronizer or an explicit Refresh, and owns its polling timer. The caller
// that created it must stop synchronization when discarding it; reaching a
// terminal status stops it automatically.
type Payment struct {
	ID           string
	Amount       string
	Currency     Currency
	Destinations map[string]string
	Metadata     map[string]interface{}
	QRCode       string
	DeepLink     string
	UserID       string
	UserEmail    string
	UserName     string
	CreatedAt    time.Time
	ExpiresAt    time.Time

	mu          sync.Mutex
	status      Status
	txHash      string
	confirmedAt time.Time
	updatedAt   time.Time
	syncStop    chan struct{}

	events    *eventDispatcher
	transport *transport
	enricher  Enricher
	logger    *zap.Logger
	interval  time.Duration
}

// paymentWire is the server's representation of a payment. Old records use
// paymentId where new ones use id, and deepLink where qrCode is absent.
type paymentWire struct {
	PaymentID    string                 `json:"paymentId"`
	ID           string                 `json:"id"`
	Status       string                 `json:"status"`
	Amount       string                 `json:"amount"`
	Currency     string                 `json:"currency"`
	UserID       string                 `json:"userId"`
	UserEmail    string                 `json:"userEmail"`
	UserName     string                 `json:"userName"`
	QRCode       string                 `json:"qrCode"`
	DeepLink     string                 `json:"deepLink"`
	Destinations map[string]string      `json:"destinations"`
	Metadata     map[string]interface{} `json:"metadata"`
	TxHash       string                 `json:"txHash"`
	CreatedAt    wireTime               `json:"createdAt"`
	ExpiresAt    wireTime               `json:"expiresAt"`
	ConfirmedAt  wireTime               `json:"confirmedAt"`
	UpdatedAt    wireTime               `json:"updatedAt"`
}

// wireTime decodes the server's timestamps, which are epoch milliseconds in
// current records and RFC3339 strings in some older ones.
type wireTime struct {
	time.Time
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	if ms, err := strconv.ParseInt(string(b), 10, 64); err == nil {
		t.Time = time.UnixMilli(ms)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("unsupported timestamp: %s", string(b))
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("unsupported timestamp: %s", s)
	}
	t.Time = parsed
	return nil
}

func newPaymentFromResponse(raw json.RawMessage, tr *transport, enricher Enricher, logger *zap.Logger, interval time.Duration) (*Payment, error) {
	var wire paymentWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, NewError(ErrCodeServerRejected, fmt.Sprintf("failed to decode payment response: %s", err), nil)
	}

	id := wire.PaymentID
	if id == "" {
		id = wire.ID
	}
	qrCode := wire.QRCode
	if qrCode == "" {
		qrCode = wire.DeepLink
	}
	createdAt := wire.CreatedAt.Time
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	p := &Payment{
		ID:           id,
		Amount:       wire.Amount,
		Currency:     Currency(wire.Currency),
		Destinations: wire.Destinations,
		Metadata:     wire.Metadata,
		QRCode:       qrCode,
		DeepLink:     wire.DeepLink,
		UserID:       wire.UserID,
		UserEmail:    wire.UserEmail,
		UserName:     wire.UserName,
		CreatedAt:    createdAt,
		ExpiresAt:    wire.ExpiresAt.Time,
		status:       normalizeStatus(wire.Status),
		txHash:       wire.TxHash,
		confirmedAt:  wire.ConfirmedAt.Time,
		updatedAt:    wire.UpdatedAt.Time,
		events:       newEventDispatcher(),
		transport:    tr,
		enricher:     enricher,
		logger:       logger,
		interval:     interval,
	}
	return p, nil
}

// Status returns the current lifecycle status.
func (p *Payment) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// TxHash returns the settlement transaction hash, set once the payment is
// confirmed.
func (p *Payment) TxHash() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txHash
}

// ConfirmedAt returns when the payment was confirmed, zero until then.
func (p *Payment) ConfirmedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirmedAt
}

// UpdatedAt returns the server's last-modified time for the payment.
func (p *Payment) UpdatedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updatedAt
}

// IsExpired reports whether the payment's expiry time has passed. This is
// bookkeeping only; expiry is enforced by the server, and the local timer
// does not act on it.
func (p *Payment) IsExpired() bool {
	return !p.ExpiresAt.IsZero() && time.Now().After(p.ExpiresAt)
}

// Subscribe registers a handler for the given event kind. Handlers run
// synchronously on the emitting goroutine, in registration order.
func (p *Payment) Subscribe(kind EventKind, handler EventHandler) Subscription {
	return p.events.subscribe(kind, handler)
}

// StartSynchronizing begins polling the server for status changes every
// interval (DefaultPollInterval when interval <= 0). It is idempotent: a
// second call while running is a logged no-op. Polling stops when the payment
// reaches a terminal status or StopSynchronizing is called.
func (p *Payment) StartSynchronizing(interval time.Duration) error {
	if p.transport == nil {
		return NewError(ErrCodeTransportRequired, "payment has no transport to synchronize with", nil)
	}
	if interval <= 0 {
		interval = p.interval
	}

	p.mu.Lock()
	if p.syncStop != nil {
		p.mu.Unlock()
		p.logger.Info("synchronizer already running", zap.String("paymentId", p.ID))
		return nil
	}
	stop := make(chan struct{})
	p.syncStop = stop
	p.mu.Unlock()

	p.logger.Debug("synchronizer started",
		zap.String("paymentId", p.ID),
		zap.Duration("interval", interval))
	go p.syncLoop(interval, stop)
	return nil
}

// StopSynchronizing releases the polling timer. It is idempotent and safe to
// call from any path, including event handlers and an already-stopped
// payment.
func (p *Payment) StopSynchronizing() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syncStop == nil {
		return
	}
	close(p.syncStop)
	p.syncStop = nil
	p.logger.Debug("synchronizer stopped", zap.String("paymentId", p.ID))
}

func (p *Payment) synchronizing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncStop != nil
}

// syncLoop owns the ticker for this payment. Ticks run inline on this
// goroutine and time.Ticker drops ticks while a fetch is in flight, so at
// most one fetch per payment is ever outstanding and statuses cannot be
// applied out of order.
func (p *Payment) syncLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if p.Status().Terminal() {
				// A caller-triggered refresh can land a terminal status
				// between ticks; release the timer instead of polling a
				// finished payment forever.
				p.StopSynchronizing()
				return
			}
			p.syncOnce(context.Background())
			select {
			case <-stop:
				return
			default:
			}
		}
	}
}

// syncOnce performs one fetch-and-diff tick. Transport failures are reported
// as error events and never stop polling; a transient network blip only
// self-heals if the timer keeps running.
func (p *Payment) syncOnce(ctx context.Context) {
	raw, err := p.transport.roundTrip(ctx, "GET", "/getPayment", nil, url.Values{"id": {p.ID}})
	if err != nil {
		p.events.emit(Event{Kind: EventError, Err: err})
		return
	}
	p.applyRemote(raw, true)
}

// applyRemote diffs a fresh server record against local state. fromTimer
// ticks emit transition events and halt the timer on a terminal status;
// caller-triggered refreshes update fields silently.
func (p *Payment) applyRemote(raw json.RawMessage, fromTimer bool) {
	var wire paymentWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		if fromTimer {
			p.events.emit(Event{Kind: EventError, Err: NewError(ErrCodeServerRejected, fmt.Sprintf("failed to decode payment response: %s", err), nil)})
		}
		return
	}

	newStatus := normalizeStatus(wire.Status)

	p.mu.Lock()
	oldStatus := p.status
	if oldStatus.Terminal() {
		// Terminal is final. This also guards re-delivery: a repeated
		// terminal signal after the synchronizer halted must not re-emit.
		p.mu.Unlock()
		return
	}
	if wire.TxHash != "" {
		p.txHash = wire.TxHash
	}
	if !wire.ConfirmedAt.IsZero() {
		p.confirmedAt = wire.ConfirmedAt.Time
	}
	if !wire.UpdatedAt.IsZero() {
		p.updatedAt = wire.UpdatedAt.Time
	}
	if newStatus == oldStatus {
		p.mu.Unlock()
		return
	}
	p.status = newStatus
	p.mu.Unlock()

	if !fromTimer {
		return
	}

	if newStatus == StatusConfirmed {
		p.enrichConfirmed(raw)
	}

	data := decodeRecord(raw)
	p.events.emit(Event{Kind: EventStatusChange, Status: newStatus})
	switch newStatus {
	case StatusConfirmed:
		p.events.emit(Event{Kind: EventConfirmed, Data: p.confirmedEventData(data)})
	case StatusExpired:
		p.events.emit(Event{Kind: EventExpired})
	case StatusCancelled:
		p.events.emit(Event{Kind: EventCancelled, Data: data})
	case StatusFailed:
		p.events.emit(Event{Kind: EventFailed, Data: data})
	}

	if newStatus.Terminal() {
		p.StopSynchronizing()
	}
}

// enrichConfirmed asks the secondary record source, when one is configured,
// for a richer settlement record. One attempt; on failure the fields from the
// primary response stand, and the confirmed event is delivered either way.
func (p *Payment) enrichConfirmed(raw json.RawMessage) {
	if p.enricher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	record, err := p.enricher.PaymentRecord(ctx, p.ID)
	if err != nil {
		p.logger.Debug("confirmed-payment enrichment failed, using primary response",
			zap.String("paymentId", p.ID), zap.Error(err))
		return
	}

	p.mu.Lock()
	if hash, ok := record["txHash"].(string); ok && hash != "" {
		p.txHash = hash
	}
	if at, ok := record["confirmedAt"]; ok {
		if ts, ok := parseRecordTime(at); ok {
			p.confirmedAt = ts
		}
	}
	p.mu.Unlock()
}

// confirmedEventData overlays enriched fields onto the raw record handed to
// confirmed-event subscribers.
func (p *Payment) confirmedEventData(data map[string]interface{}) map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if data == nil {
		data = map[string]interface{}{}
	}
	if p.txHash != "" {
		data["txHash"] = p.txHash
	}
	if !p.confirmedAt.IsZero() {
		data["confirmedAt"] = p.confirmedAt.UnixMilli()
	}
	return data
}

// Refresh re-fetches the payment once, outside the timer. Fields are updated
// the same way a tick updates them, but no events fire and the timer is
// neither started nor stopped.
func (p *Payment) Refresh(ctx context.Context) error {
	if p.transport == nil {
		return NewError(ErrCodeTransportRequired, "payment has no transport to refresh from", nil)
	}
	raw, err := p.transport.roundTrip(ctx, "GET", "/getPayment", nil, url.Values{"id": {p.ID}})
	if err != nil {
		return wrapOp("Failed to refresh payment", err)
	}
	p.applyRemote(raw, false)
	return nil
}

func decodeRecord(raw json.RawMessage) map[string]interface{} {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return data
}

func parseRecordTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		return time.UnixMilli(int64(t)), true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}
