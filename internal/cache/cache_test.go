package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/symptom-expert-server/internal/domain"
)

func sampleResponse() *domain.DiagnosisResponse {
	return &domain.DiagnosisResponse{
		Mode: domain.ModeForward,
		Results: []domain.DiagnosisResult{
			{Diagnosis: "grippe", Name: "Grippe", Score: 0.7, Explanations: []string{"Fièvre avec courbatures ou frissons"}},
		},
		ValidSymptoms: []string{"courbatures", "fievre"},
		KnowledgeBase: "abc123",
	}
}

type mockLayer struct {
	mock.Mock
}

func (m *mockLayer) Get(ctx context.Context, key string) (*domain.DiagnosisResponse, bool, error) {
	args := m.Called(ctx, key)
	resp, _ := args.Get(0).(*domain.DiagnosisResponse)
	return resp, args.Bool(1), args.Error(2)
}

func (m *mockLayer) Set(ctx context.Context, key string, resp *domain.DiagnosisResponse) error {
	args := m.Called(ctx, key, resp)
	return args.Error(0)
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, time.Minute)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	resp := sampleResponse()
	require.NoError(t, c.Set(ctx, "a", resp))
	got, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, resp, got)

	require.NoError(t, c.Set(ctx, "b", resp))
	require.NoError(t, c.Set(ctx, "c", resp))
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, 20*time.Millisecond)

	require.NoError(t, c.Set(ctx, "k", sampleResponse()))
	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryCache_Defaults(t *testing.T) {
	c := NewMemoryCache(0, 0)
	require.NotNil(t, c)
	require.NoError(t, c.Set(context.Background(), "k", sampleResponse()))
	assert.Equal(t, 1, c.Len())
}

func TestTieredCache_BackfillsFasterLayers(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	fast := NewMemoryCache(10, time.Minute)
	slow := new(mockLayer)
	resp := sampleResponse()

	slow.On("Get", ctx, "k").Return(resp, true, nil).Once()

	tc := NewTieredCache(logger, fast, slow)
	got, ok, err := tc.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, resp, got)

	// second lookup is answered by memory
	got, ok, err = tc.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, resp, got)
	slow.AssertExpectations(t)
}

func TestTieredCache_FailingLayer(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	fast := NewMemoryCache(10, time.Minute)
	broken := new(mockLayer)
	resp := sampleResponse()

	broken.On("Get", ctx, "k").Return(nil, false, errors.New("connection refused"))
	broken.On("Set", ctx, "k", resp).Return(errors.New("connection refused"))

	tc := NewTieredCache(logger, fast, broken)

	_, ok, err := tc.Get(ctx, "k")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "connection refused")

	err = tc.Set(ctx, "k", resp)
	assert.Error(t, err)

	// memory still took the write, so the next Get succeeds without error
	got, ok, err := tc.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, resp, got)
}

func TestBuild_MemoryOnly(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tc := Build(domain.CacheConfig{Enabled: true, MaxItems: 5, TTL: time.Minute}, logger)
	assert.Equal(t, 1, tc.Layers())
	assert.NoError(t, tc.Close())
}

func TestBuild_UnreachableRedisFallsBack(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tc := Build(domain.CacheConfig{
		Enabled:  true,
		RedisURL: "redis://127.0.0.1:1/0",
	}, logger)

	assert.Equal(t, 1, tc.Layers())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewRedisCache(domain.CacheConfig{RedisURL: "not-a-url"}, logger)
	assert.ErrorContains(t, err, "failed to parse Redis URL")
}

func TestRedisCache_BreakerOpensAfterFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	rc := NewRedisCacheFromClient(client, domain.CacheConfig{
		Breaker: domain.BreakerConfig{FailureThreshold: 2, Timeout: time.Minute},
	}, logger)
	defer rc.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, ok, err := rc.Get(ctx, "k")
		assert.Error(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, gobreaker.StateOpen, rc.State())

	_, _, err := rc.Get(ctx, "k")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	err = rc.Set(ctx, "k", sampleResponse())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	var transitions int
	for _, e := range hook.AllEntries() {
		if e.Message == "Circuit breaker state changed" {
			transitions++
			assert.Equal(t, "RedisResultCache", e.Data["circuit_breaker"])
		}
	}
	assert.Equal(t, 1, transitions)
}

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return "redis://" + endpoint + "/0"
}

func TestRedisCache_Integration(t *testing.T) {
	url := startRedis(t)
	logger, hook := test.NewNullLogger()

	rc, err := NewRedisCache(domain.CacheConfig{RedisURL: url, TTL: time.Minute, PoolSize: 4}, logger)
	require.NoError(t, err)
	defer rc.Close()

	ctx := context.Background()

	_, ok, err := rc.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	resp := sampleResponse()
	require.NoError(t, rc.Set(ctx, "k", resp))

	got, ok, err := rc.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, resp, got)

	ttl, err := rc.client.TTL(ctx, KeyPrefix+"k").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	// corrupt entries are dropped and reported as a miss
	require.NoError(t, rc.client.Set(ctx, KeyPrefix+"bad", "{not json", time.Minute).Err())
	_, ok, err = rc.Get(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "Dropping corrupt cache entry", hook.LastEntry().Message)

	exists, err := rc.client.Exists(ctx, KeyPrefix+"bad").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)

	assert.Equal(t, gobreaker.StateClosed, rc.State())
}
