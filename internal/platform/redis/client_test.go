package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/platform/config"
)

func TestNewWithoutURL(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{URL: "not-a-url"})
	assert.ErrorContains(t, err, "parse redis URL")
}

func TestNamespace(t *testing.T) {
	c := &Client{prefix: defaultKeyPrefix}
	assert.Equal(t, "kycflow:", c.Namespace())
	assert.Equal(t, "kycflow:idem:", c.Namespace("idem"))
	assert.Equal(t, "kycflow:idem:intent:", c.Namespace("idem", "intent"))
}
