package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/relay/runtime/relay/model"
)

func userRequest(text string) model.Request {
	return model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: text}}}
}

func TestLimiterBacksOffOnRateLimited(t *testing.T) {
	var changes []float64
	l := NewLimiter(60000, WithOnChange(func(tpm float64) { changes = append(changes, tpm) }))
	calls := 0
	wrapped := l.Middleware()(model.ClientFunc(func(context.Context, model.Request) (model.Response, error) {
		calls++
		return model.Response{}, model.ErrRateLimited
	}))

	_, err := wrapped.Complete(context.Background(), userRequest("hello"))
	require.ErrorIs(t, err, model.ErrRateLimited)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 30000.0, l.TPM())
	assert.Equal(t, []float64{30000}, changes)
}

func TestLimiterRecoversOnSuccessUpToCeiling(t *testing.T) {
	l := NewLimiter(60000, WithCeiling(63000))
	wrapped := l.Middleware()(model.ClientFunc(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{Text: "ok"}, nil
	}))

	resp, err := wrapped.Complete(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 63000.0, l.TPM())

	_, err = wrapped.Complete(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, 63000.0, l.TPM())
}

func TestLimiterNeverDropsBelowFloor(t *testing.T) {
	l := NewLimiter(1000)
	for range 10 {
		l.adjust(-l.TPM() / 2)
	}
	assert.Equal(t, 100.0, l.TPM())
}

func TestLimiterOtherErrorsLeaveBudget(t *testing.T) {
	l := NewLimiter(0)
	wrapped := l.Middleware()(model.ClientFunc(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, errors.New("boom")
	}))
	_, err := wrapped.Complete(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.Equal(t, float64(DefaultTPM), l.TPM())
}

func TestLimiterHonorsCanceledContext(t *testing.T) {
	l := NewLimiter(60)
	wrapped := l.Middleware()(model.ClientFunc(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := wrapped.Complete(ctx, userRequest("hi"))
	require.Error(t, err)
}

func TestCostIsBoundedByBurst(t *testing.T) {
	l := NewLimiter(600)
	big := make([]byte, 10000)
	assert.Equal(t, 600, l.cost(userRequest(string(big))))
	assert.Equal(t, requestOverhead+1, l.cost(userRequest("abc")))
}

func TestMiddlewareNilNext(t *testing.T) {
	assert.Nil(t, NewLimiter(10).Middleware()(nil))
}
