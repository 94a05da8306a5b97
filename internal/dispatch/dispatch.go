// Package dispatch implements the Fan-out Dispatcher (C5): it drives the
// Channel Resolver and Notifier registry with bounded concurrency and
// per-target error isolation, producing a structured delivery report.
// Concurrency shape (one goroutine per target, bounded by a semaphore
// channel) is grounded on modules/scheduler/scheduler.go's bounded job
// execution.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pypeaday/soonish/internal/modkit"
	"github.com/pypeaday/soonish/internal/notify"
	"github.com/pypeaday/soonish/internal/resolver"
	"github.com/pypeaday/soonish/internal/store"
)

const (
	DefaultSubscriptionParallelism = 8
	DefaultEventParallelism        = 32
	dedupeLeaseTTL                 = 5 * time.Minute
)

// ChannelOutcome reports one endpoint's send result.
type ChannelOutcome struct {
	IntegrationID int64
	ChannelName   string
	OK            bool
	Error         string
}

// SubscriptionReport is dispatch_to_subscription's return shape (spec.md §4.5).
type SubscriptionReport struct {
	Success  int
	Failed   int
	Channels []ChannelOutcome
	Errors   []string
}

// SubscriberDetail is one row of dispatch_to_event's aggregate report.
type SubscriberDetail struct {
	UserID   int64
	Status   string // "success", "partial", "failed"
	Channels []ChannelOutcome
	Error    string
}

// EventReport is dispatch_to_event's return shape (spec.md §4.5).
type EventReport struct {
	TotalSubscribers int
	Success          int
	Failed           int
	Details          []SubscriberDetail
}

// Dispatcher is C5.
type Dispatcher struct {
	subs     *store.SubscriptionRepo
	resolver *resolver.Resolver
	notifier *notify.Registry
	logger   modkit.Logger
	dedupe   DedupeLock

	subParallelism   int
	eventParallelism int
}

type Option func(*Dispatcher)

func WithSubscriptionParallelism(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.subParallelism = n
		}
	}
}

func WithEventParallelism(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.eventParallelism = n
		}
	}
}

func New(subs *store.SubscriptionRepo, res *resolver.Resolver, notifier *notify.Registry, dedupe DedupeLock, logger modkit.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		subs: subs, resolver: res, notifier: notifier, logger: logger, dedupe: dedupe,
		subParallelism:   DefaultSubscriptionParallelism,
		eventParallelism: DefaultEventParallelism,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchToSubscription sends one message to a single subscription's
// resolved endpoints (personal reminders, spec.md §4.5). No fallback:
// the subscriber explicitly configured selectors. triggerKey identifies
// the logical firing (e.g. the reminder schedule id) so that a retried
// call for the same trigger does not double-send (spec.md §4.5 "at most
// one invocation per trigger").
func (d *Dispatcher) DispatchToSubscription(ctx context.Context, triggerKey string, subscriptionID int64, title, body string, level notify.Level) (SubscriptionReport, error) {
	sub, err := d.subs.ByID(ctx, subscriptionID)
	if err != nil {
		return SubscriptionReport{}, err
	}

	endpoints, err := d.resolver.Resolve(ctx, sub)
	if err != nil {
		return SubscriptionReport{}, err
	}
	if len(endpoints) == 0 {
		return SubscriptionReport{Success: 0, Failed: 1, Errors: []string{"no channels"}}, nil
	}

	outcomes := d.sendAll(ctx, triggerKey, endpoints, title, body, level, d.subParallelism)
	report := SubscriptionReport{}
	for _, o := range outcomes {
		report.Channels = append(report.Channels, o)
		if o.OK {
			report.Success++
		} else {
			report.Failed++
			report.Errors = append(report.Errors, o.Error)
		}
	}
	return report, nil
}

// DispatchToEvent broadcasts to every subscription of an event (spec.md
// §4.5). Per-subscription failures are isolated; a subscriber whose
// resolved set is empty AND who configured no selectors at all gets the
// fallback email.
func (d *Dispatcher) DispatchToEvent(ctx context.Context, triggerKey string, eventID int64, title, body string, level notify.Level) (EventReport, error) {
	subs, err := d.subs.ByEvent(ctx, eventID)
	if err != nil {
		return EventReport{}, err
	}

	report := EventReport{TotalSubscribers: len(subs)}
	if len(subs) == 0 {
		return report, nil
	}

	details := make([]SubscriberDetail, len(subs))
	sem := make(chan struct{}, d.eventParallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range subs {
		sub := subs[i]
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, sub store.Subscription) {
			defer wg.Done()
			defer func() { <-sem }()

			detail := d.dispatchOneSubscriber(ctx, triggerKey, &sub, title, body, level)
			mu.Lock()
			details[idx] = detail
			mu.Unlock()
		}(i, sub)
	}
	wg.Wait()

	report.Details = details
	for _, det := range details {
		if det.Status == "success" {
			report.Success++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

func (d *Dispatcher) dispatchOneSubscriber(ctx context.Context, triggerKey string, sub *store.Subscription, title, body string, level notify.Level) SubscriberDetail {
	detail := SubscriberDetail{UserID: sub.UserID}

	allowFallback := len(sub.Selectors) == 0
	endpoints, err := d.resolver.ResolveWithFallback(ctx, sub, allowFallback, time.Now())
	if err != nil {
		detail.Status = "failed"
		detail.Error = err.Error()
		return detail
	}

	if len(endpoints) == 0 {
		detail.Status = "failed"
		detail.Error = "no channels"
		return detail
	}

	outcomes := d.sendAll(ctx, triggerKey, endpoints, title, body, level, 1)
	detail.Channels = outcomes
	success := 0
	for _, o := range outcomes {
		if o.OK {
			success++
		}
	}
	switch {
	case success == len(outcomes):
		detail.Status = "success"
	case success == 0:
		detail.Status = "failed"
		if len(outcomes) > 0 {
			detail.Error = outcomes[0].Error
		}
	default:
		detail.Status = "partial"
	}
	return detail
}

// sendAll fans a single message out to endpoints with parallelism workers,
// each send behind the at-most-once dedupe lease.
func (d *Dispatcher) sendAll(ctx context.Context, triggerKey string, endpoints []resolver.Endpoint, title, body string, level notify.Level, parallelism int) []ChannelOutcome {
	outcomes := make([]ChannelOutcome, len(endpoints))
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup

	for i := range endpoints {
		ep := endpoints[i]
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, ep resolver.Endpoint) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[idx] = d.sendOne(ctx, triggerKey, ep, title, body, level)
		}(i, ep)
	}
	wg.Wait()
	return outcomes
}

func (d *Dispatcher) sendOne(ctx context.Context, triggerKey string, ep resolver.Endpoint, title, body string, level notify.Level) ChannelOutcome {
	leaseKey := fmt.Sprintf("dispatch:%s:%d", triggerKey, ep.IntegrationID)
	acquired, err := d.dedupe.Acquire(ctx, leaseKey, dedupeLeaseTTL)
	if err != nil {
		d.logger.Warn("dedupe lock unavailable, proceeding without lease", "integration_id", ep.IntegrationID, "error", err)
	} else if !acquired {
		return ChannelOutcome{IntegrationID: ep.IntegrationID, OK: true, ChannelName: "deduped"}
	}

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, sendErr := d.notifier.Send(sendCtx, ep.URL, title, body, level)
	result := ChannelOutcome{IntegrationID: ep.IntegrationID, OK: out.OK, ChannelName: out.ChannelName}
	if sendErr != nil {
		result.Error = sendErr.Error()
	}
	return result
}
