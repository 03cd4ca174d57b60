// Package access decides whether a user may use a gated resource and
// records confirmed usage.
//
// Engine.Decide is a pure decision over the plan registry and the user's
// monthly quota. It never writes. Service wraps the engine with the
// request-scoped collaborators (caller identity, subscription lookup,
// administrator list) and exposes the two caller-facing operations:
//
//	d := svc.CheckAccess(ctx, "tax-advisor")
//	if d.HasAccess {
//		// perform the action, then
//		_, err := svc.RecordUsage(ctx, "tax-advisor", access.RecordOptions{IdempotencyKey: callID})
//	}
//
// CheckAccess followed by RecordUsage has soft-limit semantics: concurrent
// requests for the same user can each pass the check before any of them is
// recorded, so usage may overshoot the limit by the number of requests in
// flight. Consume performs the check and the write as one step and never
// admits more than the limit when the ledger supports conditional inserts.
package access
