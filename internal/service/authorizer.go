package service

import "context"

type reviewerKey struct{}

// WithReviewer stamps the authenticated admin on the context. Called by
// the admin auth middleware once the token's role has been verified.
func WithReviewer(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, reviewerKey{}, userID)
}

// ContextAuthorizer authorizes payout reviews against the admin stamped
// on the request context. A reviewer ID that does not match the
// authenticated admin is refused, so a handler bug cannot attribute a
// decision to someone else.
type ContextAuthorizer struct{}

func (ContextAuthorizer) CanReviewPayouts(ctx context.Context, userID int64) bool {
	stamped, ok := ctx.Value(reviewerKey{}).(int64)
	return ok && stamped == userID
}
