package submit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
	"github.com/akashsreedhar/order-engine/internal/events"
	"github.com/akashsreedhar/order-engine/internal/payment"
	"github.com/google/uuid"
)

// RateLimiter is the slice of the rate-limit engine the coordinator drives.
type RateLimiter interface {
	CanPlaceOrder(ctx context.Context, userID string) (*domain.RateLimitDecision, error)
	RecordPlacement(ctx context.Context, userID, orderID string) error
	ConsumeExemption(ctx context.Context, userID string) error
}

type StockValidator interface {
	Validate(ctx context.Context, lines []domain.CartLineSnapshot, forceFresh bool) (*domain.ValidationOutcome, error)
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, draft *domain.OrderDraft, idempotencyKey string) (string, error)
}

type EventPublisher interface {
	OrderPlaced(ctx context.Context, event events.OrderPlaced) error
}

type PlaceOrderRequest struct {
	UserID        string
	Lines         []domain.CartLineSnapshot
	PaymentMethod domain.PaymentMethod
}

type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeDenied          Outcome = "rate_limited"
	OutcomeReviewRequired  Outcome = "review_required"
	OutcomeUnavailable     Outcome = "items_unavailable"
	OutcomeAwaitingPayment Outcome = "awaiting_payment"
	OutcomeFailed          Outcome = "failed"
)

// Result is the structured, user-facing outcome of one submission attempt.
// Raw errors never leak through it.
type Result struct {
	Outcome    Outcome                   `json:"outcome"`
	OrderID    string                    `json:"order_id,omitempty"`
	SessionID  string                    `json:"session_id,omitempty"`
	Message    string                    `json:"message,omitempty"`
	RetryAfter time.Duration             `json:"retry_after,omitempty"`
	Validation *domain.ValidationOutcome `json:"validation,omitempty"`
}

// Coordinator sequences one order submission: rate-limit check, forced-fresh
// revalidation, optional payment round trip, order creation, side effects.
// A per-user guard token makes the whole sequence at-most-once: a second
// trigger while an attempt is in flight is rejected outright.
type Coordinator struct {
	limits    RateLimiter
	validator StockValidator
	orders    OrderCreator
	payments  payment.Gateway
	verifier  *payment.Verifier
	events    EventPublisher // optional
	effects   func(orderID string) []Effect
	currency  string
	now       func() time.Time

	flows sync.Map // userID -> *flow
}

// flow is the per-user submission attempt state.
type flow struct {
	guard   atomic.Bool   // the single-holder guard token
	attempt atomic.Uint64 // monotonic; stale results are discarded

	mu      sync.Mutex
	stage   Stage
	session *payment.Session
	draft   *domain.OrderDraft
	exempt  bool // attempt runs under a live cancellation exemption
	effects *Sequence
}

type Options struct {
	Payments payment.Gateway
	Verifier *payment.Verifier
	Events   EventPublisher
	// Effects builds the cosmetic post-success phases for an order. Optional.
	Effects  func(orderID string) []Effect
	Currency string
}

func NewCoordinator(limits RateLimiter, validator StockValidator, orders OrderCreator, opts Options) *Coordinator {
	currency := opts.Currency
	if currency == "" {
		currency = "INR"
	}
	return &Coordinator{
		limits:    limits,
		validator: validator,
		orders:    orders,
		payments:  opts.Payments,
		verifier:  opts.Verifier,
		events:    opts.Events,
		effects:   opts.Effects,
		currency:  currency,
		now:       time.Now,
	}
}

func (c *Coordinator) flow(userID string) *flow {
	if v, ok := c.flows.Load(userID); ok {
		return v.(*flow)
	}
	f := &flow{stage: StageIdle}
	actual, _ := c.flows.LoadOrStore(userID, f)
	return actual.(*flow)
}

// Stage reports the user's current submission stage.
func (c *Coordinator) Stage(userID string) Stage {
	f := c.flow(userID)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stage
}

// PlaceOrder runs the submission sequence for one trigger. Exactly one order
// creation call results from any number of overlapping triggers.
func (c *Coordinator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Result, error) {
	f := c.flow(req.UserID)
	f.mu.Lock()
	if !f.guard.CompareAndSwap(false, true) {
		f.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	attempt := f.attempt.Add(1)
	f.mu.Unlock()

	if len(req.Lines) == 0 {
		c.release(f, attempt)
		return &Result{Outcome: OutcomeFailed, Message: "cart is empty, nothing to order"}, nil
	}

	f.setStage(StageCheckingRateLimit)
	decision, err := c.limits.CanPlaceOrder(ctx, req.UserID)
	if err != nil {
		if f.stale(attempt) {
			return nil, ErrAttemptCancelled
		}
		c.release(f, attempt)
		return &Result{Outcome: OutcomeFailed, Message: "could not verify order limits, please try again"}, nil
	}
	if f.stale(attempt) {
		return nil, ErrAttemptCancelled
	}
	if !decision.Allowed {
		c.release(f, attempt)
		return &Result{
			Outcome:    OutcomeDenied,
			Message:    denialMessage(decision),
			RetryAfter: decision.RetryAfter,
		}, nil
	}

	f.setStage(StageRevalidating)
	outcome, err := c.validator.Validate(ctx, req.Lines, true)
	if err != nil {
		if f.stale(attempt) {
			return nil, ErrAttemptCancelled
		}
		c.release(f, attempt)
		return nil, fmt.Errorf("revalidation failed: %w", err)
	}
	if f.stale(attempt) {
		return nil, ErrAttemptCancelled
	}

	if len(outcome.UnavailableLines) > 0 {
		c.release(f, attempt)
		return &Result{
			Outcome:    OutcomeUnavailable,
			Message:    unavailableMessage(outcome),
			Validation: outcome,
		}, nil
	}
	if outcome.FailureReason != "" {
		c.release(f, attempt)
		return &Result{
			Outcome:    OutcomeFailed,
			Message:    "could not confirm current prices, please try again",
			Validation: outcome,
		}, nil
	}
	if outcome.HasChanges {
		// Never silently apply new prices; the customer reviews them first.
		c.release(f, attempt)
		return &Result{
			Outcome:    OutcomeReviewRequired,
			Message:    "some prices have changed since you added these items",
			Validation: outcome,
		}, nil
	}

	draft := &domain.OrderDraft{
		UserID:        req.UserID,
		Lines:         outcome.CorrectedLines,
		Currency:      c.currency,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     c.now(),
	}
	draft.ComputeTotal()

	if req.PaymentMethod == domain.PaymentOnline {
		return c.openPaymentSession(ctx, f, attempt, decision, draft)
	}
	return c.submitOrder(ctx, f, attempt, decision, draft)
}

// submitOrder creates the order record. Entering the SUBMITTING stage and the
// staleness check happen under one lock, so either a cancellation lands first
// and no order is created, or the attempt is committed and cancellation gets
// ErrTooLateToCancel. From here the attempt runs to a terminal state.
func (c *Coordinator) submitOrder(ctx context.Context, f *flow, attempt uint64, decision *domain.RateLimitDecision, draft *domain.OrderDraft) (*Result, error) {
	if draft.OrderID == "" {
		draft.OrderID = uuid.NewString()
	}

	f.mu.Lock()
	if f.attempt.Load() != attempt {
		f.mu.Unlock()
		return nil, ErrAttemptCancelled
	}
	f.stage = StageSubmitting
	f.mu.Unlock()

	orderID, err := c.orders.CreateOrder(ctx, draft, "order-"+draft.OrderID)
	if err != nil {
		log.Printf("order creation failed for user %s: %v", draft.UserID, err)
		c.release(f, attempt)
		return &Result{Outcome: OutcomeFailed, Message: "could not place your order, please try again"}, nil
	}

	c.finalize(ctx, f, attempt, decision, draft, orderID)
	return &Result{Outcome: OutcomeSucceeded, OrderID: orderID}, nil
}

// finalize records placement, consumes any active exemption, publishes the
// order event and kicks off the cosmetic effect sequence. The guard token is
// released only after the sequence has been triggered.
func (c *Coordinator) finalize(ctx context.Context, f *flow, attempt uint64, decision *domain.RateLimitDecision, draft *domain.OrderDraft, orderID string) {
	f.setStage(StageSucceeded)

	if err := c.limits.RecordPlacement(ctx, draft.UserID, orderID); err != nil {
		log.Printf("failed to record placement for order %s: %v", orderID, err)
	}
	if decision.ExemptionReason != "" {
		if err := c.limits.ConsumeExemption(ctx, draft.UserID); err != nil {
			log.Printf("failed to consume exemption for user %s: %v", draft.UserID, err)
		}
	}

	if c.events != nil {
		event := events.OrderPlaced{
			OrderID:       orderID,
			UserID:        draft.UserID,
			Lines:         draft.Lines,
			TotalAmount:   draft.TotalAmount,
			Currency:      draft.Currency,
			PaymentMethod: string(draft.PaymentMethod),
			PlacedAt:      c.now(),
		}
		if err := c.events.OrderPlaced(ctx, event); err != nil {
			log.Printf("failed to publish order event for %s: %v", orderID, err)
		}
	}

	if c.effects != nil {
		seq := NewSequence(c.effects(orderID)...)
		f.mu.Lock()
		prev := f.effects
		f.effects = seq
		f.mu.Unlock()
		// Only one sequence may be live per user, or a pending timer would
		// outlive Cancel and Close.
		if prev != nil {
			prev.Stop()
		}
		seq.Start()
	}

	c.release(f, attempt)
}

func (c *Coordinator) openPaymentSession(ctx context.Context, f *flow, attempt uint64, decision *domain.RateLimitDecision, draft *domain.OrderDraft) (*Result, error) {
	if c.payments == nil || c.verifier == nil {
		c.release(f, attempt)
		return &Result{Outcome: OutcomeFailed, Message: "online payment is not available right now"}, nil
	}

	f.setStage(StageAwaitingPayment)
	draft.OrderID = uuid.NewString()

	session, err := c.payments.OpenSession(ctx, draft.OrderID, draft.TotalAmount)
	if err != nil {
		log.Printf("failed to open payment session for user %s: %v", draft.UserID, err)
		if f.stale(attempt) {
			return nil, ErrAttemptCancelled
		}
		c.release(f, attempt)
		return &Result{Outcome: OutcomeFailed, Message: "could not start the payment, please try again"}, nil
	}

	f.mu.Lock()
	if f.attempt.Load() != attempt {
		// Cancelled while the session was opening; never resurrect the state
		// of a superseded attempt.
		f.mu.Unlock()
		return nil, ErrAttemptCancelled
	}
	f.session = session
	f.draft = draft
	f.exempt = decision.ExemptionReason != ""
	f.mu.Unlock()

	// Guard stays held until the verified callback, cancellation, or failure.
	return &Result{
		Outcome:   OutcomeAwaitingPayment,
		OrderID:   draft.OrderID,
		SessionID: session.ID,
	}, nil
}

// HandlePaymentCallback is the single verification entry point for gateway
// success events. An unverified payload never creates an order; a bad
// signature is an integrity anomaly that aborts the attempt.
func (c *Coordinator) HandlePaymentCallback(ctx context.Context, userID string, payload payment.SuccessPayload) (*Result, error) {
	v, ok := c.flows.Load(userID)
	if !ok {
		return nil, ErrNoPendingSession
	}
	f := v.(*flow)

	f.mu.Lock()
	attempt := f.attempt.Load()
	session := f.session
	draft := f.draft
	exempt := f.exempt
	f.mu.Unlock()

	if session == nil || draft == nil {
		return nil, ErrNoPendingSession
	}
	if session.ID != payload.SessionID || session.OrderRef != payload.OrderRef {
		log.Printf("anomaly: payment callback for user %s does not match pending session %s", userID, session.ID)
		c.release(f, attempt)
		return nil, ErrNoPendingSession
	}

	if err := c.verifier.Verify(payload); err != nil {
		log.Printf("anomaly: payment signature verification failed for session %s: %v", session.ID, err)
		c.release(f, attempt)
		return nil, payment.ErrSignatureInvalid
	}
	if payload.Amount != payment.FormatAmount(draft.TotalAmount) {
		log.Printf("anomaly: payment amount mismatch for session %s: got %s want %s",
			session.ID, payload.Amount, payment.FormatAmount(draft.TotalAmount))
		c.release(f, attempt)
		return nil, payment.ErrSignatureInvalid
	}

	draft.PaymentRef = session.ID
	decision := &domain.RateLimitDecision{}
	if exempt {
		decision.ExemptionReason = domain.ExemptionReasonCancellation
	}
	return c.submitOrder(ctx, f, attempt, decision, draft)
}

// Cancel aborts an in-flight attempt if order creation has not been
// dispatched yet: the attempt counter advances so any still-running stage
// discards its result, the pending session is dropped and the guard token is
// released. Pending effect timers are torn down too. The whole decision runs
// under the flow lock so it cannot interleave with submitOrder entering the
// SUBMITTING stage.
func (c *Coordinator) Cancel(userID string) error {
	v, ok := c.flows.Load(userID)
	if !ok {
		return nil
	}
	f := v.(*flow)

	f.mu.Lock()
	if f.stage == StageSubmitting {
		f.mu.Unlock()
		return ErrTooLateToCancel
	}
	seq := f.effects
	if f.guard.Load() {
		f.attempt.Add(1) // invalidates in-flight stage results
		f.stage = StageIdle
		f.session = nil
		f.draft = nil
		f.exempt = false
		f.guard.Store(false)
	}
	f.mu.Unlock()

	if seq != nil {
		seq.Stop()
	}
	return nil
}

// Close tears down every pending effect sequence.
func (c *Coordinator) Close() {
	c.flows.Range(func(_, v any) bool {
		f := v.(*flow)
		f.mu.Lock()
		seq := f.effects
		f.mu.Unlock()
		if seq != nil {
			seq.Stop()
		}
		return true
	})
}

// release frees the guard token, but only if the given attempt still owns it.
// A cancelled attempt must never free a guard a newer attempt has since
// acquired.
func (c *Coordinator) release(f *flow, attempt uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempt.Load() != attempt {
		return
	}
	f.stage = StageIdle
	f.session = nil
	f.draft = nil
	f.exempt = false
	f.guard.Store(false)
}

func (f *flow) setStage(stage Stage) {
	f.mu.Lock()
	f.stage = stage
	f.mu.Unlock()
}

// stale reports whether this attempt has been superseded. Cancellation
// already released the guard, and a newer attempt may hold it by now.
func (f *flow) stale(attempt uint64) bool {
	return f.attempt.Load() != attempt
}

func denialMessage(decision *domain.RateLimitDecision) string {
	switch decision.Reason {
	case domain.DenyReasonCooldown:
		return fmt.Sprintf("you just used a cancellation pass, try again in %s", humanWait(decision.RetryAfter))
	case domain.DenyReasonActiveOrders:
		return fmt.Sprintf("you already have %d orders on the way, wait for one to arrive", decision.ActiveOrderCount)
	case domain.DenyReasonInterval:
		return fmt.Sprintf("please wait %s between orders", humanWait(decision.RetryAfter))
	case domain.DenyReasonDailyQuota:
		return fmt.Sprintf("daily order limit reached, resets in %s", humanWait(decision.RetryAfter))
	default:
		return "orders are not allowed right now"
	}
}

func unavailableMessage(outcome *domain.ValidationOutcome) string {
	if len(outcome.UnavailableLines) == 1 {
		return fmt.Sprintf("1 item in your cart is no longer available (product %d)", outcome.UnavailableLines[0].ProductID)
	}
	return fmt.Sprintf("%d items in your cart are no longer available", len(outcome.UnavailableLines))
}

func humanWait(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()+0.5))
	}
	if d < time.Hour {
		mins := int((d + 30*time.Second) / time.Minute)
		return fmt.Sprintf("%d minutes", mins)
	}
	return d.Round(time.Minute).String()
}
