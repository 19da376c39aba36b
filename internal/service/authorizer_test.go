package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextAuthorizerMatchesStampedAdmin(t *testing.T) {
	ctx := WithReviewer(context.Background(), 42)

	auth := ContextAuthorizer{}
	assert.True(t, auth.CanReviewPayouts(ctx, 42))
	assert.False(t, auth.CanReviewPayouts(ctx, 7))
}

func TestContextAuthorizerRefusesUnstampedContext(t *testing.T) {
	auth := ContextAuthorizer{}
	assert.False(t, auth.CanReviewPayouts(context.Background(), 42))
}
