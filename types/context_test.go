package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectIDRoundTrip(t *testing.T) {
	ctx := context.Background()

	_, ok := ProjectID(ctx)
	assert.False(t, ok)

	ctx = WithProjectID(ctx, "proj-1")
	got, ok := ProjectID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "proj-1", got)
}

func TestEmptyProjectIDNotFound(t *testing.T) {
	ctx := WithProjectID(context.Background(), "")
	_, ok := ProjectID(ctx)
	assert.False(t, ok)
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-abc")
	got, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-abc", got)
}
