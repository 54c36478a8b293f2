package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeClient struct {
	getVal    []byte
	getErr    error
	setErr    error
	delErr    error
	incrVal   int64
	incrErr   error
	expireErr error
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	if f.getErr != nil {
		cmd.SetErr(f.getErr)
	} else {
		cmd.SetVal(string(f.getVal))
	}
	return cmd
}

func (f *fakeClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "set", key)
	if f.setErr != nil {
		cmd.SetErr(f.setErr)
	}
	return cmd
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "del")
	if f.delErr != nil {
		cmd.SetErr(f.delErr)
	}
	return cmd
}

func (f *fakeClient) IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "incrby", key, value)
	if f.incrErr != nil {
		cmd.SetErr(f.incrErr)
	} else {
		cmd.SetVal(f.incrVal)
	}
	return cmd
}

func (f *fakeClient) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx, "expire", key)
	if f.expireErr != nil {
		cmd.SetErr(f.expireErr)
	} else {
		cmd.SetVal(true)
	}
	return cmd
}

func TestGet_Miss(t *testing.T) {
	c := NewWithClient(&fakeClient{getErr: redis.Nil})
	var dest string
	err := c.Get(context.Background(), "k", &dest)
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestSetAndGet_RoundTrip(t *testing.T) {
	fc := &fakeClient{}
	c := NewWithClient(fc)

	type payload struct {
		Score float64 `json:"score"`
	}
	if err := c.Set(context.Background(), "k", payload{Score: 0.87}, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fc.getVal = []byte(`{"score":0.87}`)
	var got payload
	if err := c.Get(context.Background(), "k", &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Score != 0.87 {
		t.Errorf("got %v", got)
	}
}

func TestIncrWithExpire_ArmsTTLOnFirstIncrement(t *testing.T) {
	fc := &fakeClient{incrVal: 1}
	c := NewWithClient(fc)
	count, err := c.IncrWithExpire(context.Background(), "rate:user1", 1, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d", count)
	}
}

func TestIncrWithExpire_Error(t *testing.T) {
	fc := &fakeClient{incrErr: errors.New("conn refused")}
	c := NewWithClient(fc)
	_, err := c.IncrWithExpire(context.Background(), "rate:user1", 1, time.Minute)
	if err == nil {
		t.Fatal("expected error")
	}
}
