// Package resolver implements the Channel Resolver: given a subscription,
// it intersects the subscription's selectors with the subscriber's
// integrations to produce the deduplicated set of delivery endpoints a
// dispatcher should attempt.
package resolver

import (
	"context"
	"time"

	"github.com/pypeaday/soonish/internal/modkit"
	"github.com/pypeaday/soonish/internal/store"
)

// Endpoint is one concrete delivery target: a decrypted URL plus the
// integration id and tag it was resolved from (for logging/reporting —
// never the integration's own plaintext fields, per the encryption
// invariant).
type Endpoint struct {
	IntegrationID int64
	URL           string
	Tag           string
}

// Resolver resolves subscriptions to endpoints, decrypting integration
// delivery URLs via the process-wide cipher.
type Resolver struct {
	integrations *store.IntegrationRepo
	cipher       *store.IntegrationService
	logger       modkit.Logger
}

func New(integrations *store.IntegrationRepo, cipher *store.IntegrationService, logger modkit.Logger) *Resolver {
	return &Resolver{integrations: integrations, cipher: cipher, logger: logger}
}

// Resolve implements spec.md §4.3 steps 1-4: collect integration ids from
// both selector kinds, dedup, decrypt, emit endpoints. A per-integration
// decrypt failure drops only that endpoint and is logged, never aborts the
// whole resolution (§4.3 "Error semantics", §7 KindCrypto policy).
//
// When sub.User.Integrations was eager-loaded by the caller (store.
// SubscriptionRepo.ByEvent, for spec.md §4.2's "single eager query, no N+1"
// across a broadcast's subscribers), selectors are matched against that
// preloaded set entirely in memory. Otherwise this falls back to one
// repository lookup per selector, for the single-subscription path
// (store.SubscriptionRepo.ByID) where there is no N+1 to avoid.
func (r *Resolver) Resolve(ctx context.Context, sub *store.Subscription) ([]Endpoint, error) {
	if sub.User != nil && sub.User.Integrations != nil {
		return r.resolvePreloaded(sub)
	}
	return r.resolveViaRepo(ctx, sub)
}

func (r *Resolver) resolvePreloaded(sub *store.Subscription) ([]Endpoint, error) {
	byID := make(map[int64]store.Integration, len(sub.User.Integrations))
	byTag := make(map[string][]store.Integration)
	for _, integ := range sub.User.Integrations {
		byID[integ.ID] = integ
		if integ.IsActive {
			byTag[integ.Tag] = append(byTag[integ.Tag], integ)
		}
	}

	ids := make(map[int64]struct{})
	for _, sel := range sub.Selectors {
		if sel.IntegrationID == nil {
			continue
		}
		integ, ok := byID[*sel.IntegrationID]
		if !ok || integ.UserID != sub.UserID || !integ.IsActive {
			continue
		}
		ids[integ.ID] = struct{}{}
	}
	for _, sel := range sub.Selectors {
		if sel.Tag == nil {
			continue
		}
		tag := store.NormalizeTag(*sel.Tag)
		for _, integ := range byTag[tag] {
			ids[integ.ID] = struct{}{}
		}
	}

	endpoints := make([]Endpoint, 0, len(ids))
	for id := range ids {
		integ := byID[id]
		url, err := r.cipher.DecryptDeliveryURL(integ)
		if err != nil {
			r.logger.Warn("dropping endpoint: decrypt failed", "integration_id", integ.ID, "type", integ.Type)
			continue
		}
		endpoints = append(endpoints, Endpoint{IntegrationID: integ.ID, URL: url, Tag: integ.Tag})
	}
	return endpoints, nil
}

func (r *Resolver) resolveViaRepo(ctx context.Context, sub *store.Subscription) ([]Endpoint, error) {
	ids := make(map[int64]struct{})

	for _, sel := range sub.Selectors {
		if sel.IntegrationID != nil {
			integ, err := r.integrations.ByID(ctx, *sel.IntegrationID)
			if err != nil {
				if modkit.GetKind(err) == modkit.KindNotFound {
					continue
				}
				return nil, err
			}
			if integ.UserID != sub.UserID || !integ.IsActive {
				continue
			}
			ids[integ.ID] = struct{}{}
		}
	}

	for _, sel := range sub.Selectors {
		if sel.Tag == nil {
			continue
		}
		tag := store.NormalizeTag(*sel.Tag)
		matches, err := r.integrations.ByUserAndTag(ctx, sub.UserID, tag, true)
		if err != nil {
			return nil, err
		}
		for _, integ := range matches {
			ids[integ.ID] = struct{}{}
		}
	}

	endpoints := make([]Endpoint, 0, len(ids))
	for id := range ids {
		integ, err := r.integrations.ByID(ctx, id)
		if err != nil {
			if modkit.GetKind(err) == modkit.KindNotFound {
				continue
			}
			return nil, err
		}
		url, err := r.cipher.DecryptDeliveryURL(*integ)
		if err != nil {
			r.logger.Warn("dropping endpoint: decrypt failed", "integration_id", integ.ID, "type", integ.Type)
			continue
		}
		endpoints = append(endpoints, Endpoint{IntegrationID: integ.ID, URL: url, Tag: integ.Tag})
	}
	return endpoints, nil
}

// ResolveWithFallback wraps Resolve: when it yields nothing and the caller
// opts into fallback (spec.md §4.3's fallback mode, used only by
// dispatch_to_event), it synthesizes one mail endpoint from the
// subscriber's own email. Which SMTP sender profile handles it ("default"
// vs "verified", spec.md §6 "Gmail-style and ProtonMail-style profiles")
// is carried entirely in the endpoint's URL scheme — "mailtov:" for a
// verified subscriber, "mailto:" otherwise — so the notify registry's
// scheme routing is the only place that needs to know about profiles.
func (r *Resolver) ResolveWithFallback(ctx context.Context, sub *store.Subscription, allowFallback bool, now time.Time) ([]Endpoint, error) {
	endpoints, err := r.Resolve(ctx, sub)
	if err != nil {
		return nil, err
	}
	if len(endpoints) > 0 || !allowFallback {
		return endpoints, nil
	}
	if sub.User == nil {
		return nil, modkit.NewError(modkit.KindValidation, "subscription missing eager-loaded user for fallback")
	}
	scheme := "mailto"
	if sub.User.IsVerified {
		scheme = "mailtov"
	}
	return []Endpoint{{IntegrationID: 0, URL: scheme + ":" + sub.User.Email, Tag: ""}}, nil
}
