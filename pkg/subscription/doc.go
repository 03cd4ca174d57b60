// Package subscription reads each user's current plan from the billing
// system and keeps it current from payment-provider webhooks.
//
// Reads go through a Source. A user without a subscription record is on
// the free plan. Resolve turns a read into an explicit State so callers can
// tell "still loading" (Pending) and "billing unreachable" (Unavailable)
// apart from a known plan, instead of guessing from a zero value:
//
//	res := subscription.Resolve(ctx, src, userID, 2*time.Second)
//	switch res.State {
//	case subscription.Known:
//		tier := res.Plan()
//	case subscription.Pending:
//		// ask the caller to retry
//	case subscription.Unavailable:
//		// res.Plan() is free, res.Err says why
//	}
//
// CachedSource adds bounded staleness: a cached read is at most TTL old, and
// webhook updates invalidate the entry immediately.
package subscription
