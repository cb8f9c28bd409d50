package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLeaseClient struct {
	mock.Mock
}

func (m *MockLeaseClient) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	args := m.Called(ctx, key, value, expiration)
	cmd := redis.NewBoolCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(args.Bool(0))
	}
	return cmd
}

func (m *MockLeaseClient) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	called := m.Called(ctx, script, keys, args)
	cmd := redis.NewCmd(ctx)
	if err := called.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(called.Get(0))
	}
	return cmd
}

func TestLeaseAcquire(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		ok      bool
		err     error
		wantErr error
	}{
		{"acquired", true, nil, nil},
		{"held elsewhere", false, nil, ErrLeaseHeld},
		{"redis error", false, errors.New("i/o timeout"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockLeaseClient)
			lease := NewLease(client, "lease:refresh", time.Minute)
			client.On("SetNX", ctx, "lease:refresh", lease.token, time.Minute).Return(tt.ok, tt.err)

			err := lease.Acquire(ctx)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.err != nil:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrLeaseHeld)
			default:
				assert.NoError(t, err)
			}
			client.AssertExpectations(t)
		})
	}
}

func TestLeaseTokensAreUnique(t *testing.T) {
	a := NewLease(nil, "k", time.Minute)
	b := NewLease(nil, "k", time.Minute)
	assert.NotEqual(t, a.token, b.token)
}

func TestLeaseRenew(t *testing.T) {
	ctx := context.Background()
	client := new(MockLeaseClient)
	lease := NewLease(client, "lease:refresh", 30*time.Second)

	client.On("Eval", ctx, renewScript, []string{"lease:refresh"}, []any{lease.token, int64(30000)}).Return(int64(1), nil).Once()
	require.NoError(t, lease.Renew(ctx))

	client.On("Eval", ctx, renewScript, []string{"lease:refresh"}, []any{lease.token, int64(30000)}).Return(int64(0), nil).Once()
	assert.ErrorIs(t, lease.Renew(ctx), ErrLeaseHeld)

	client.AssertExpectations(t)
}

func TestLeaseRelease(t *testing.T) {
	ctx := context.Background()
	client := new(MockLeaseClient)
	lease := NewLease(client, "lease:refresh", time.Minute)

	client.On("Eval", ctx, releaseScript, []string{"lease:refresh"}, []any{lease.token}).Return(int64(1), nil).Once()
	require.NoError(t, lease.Release(ctx))

	client.On("Eval", ctx, releaseScript, []string{"lease:refresh"}, []any{lease.token}).Return(nil, errors.New("closed")).Once()
	assert.Error(t, lease.Release(ctx))
}
