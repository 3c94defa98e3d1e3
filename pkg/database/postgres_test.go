package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfig_Defaults(t *testing.T) {
	pc, err := poolConfig(&Config{
		URL: "host=localhost port=5432 user=recon dbname=recon_engine sslmode=disable",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(25), pc.MaxConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, 30*time.Minute, pc.MaxConnIdleTime)
}

func TestPoolConfig_Overrides(t *testing.T) {
	pc, err := poolConfig(&Config{
		URL:             "host=localhost port=5432 user=recon dbname=recon_landing sslmode=disable",
		MaxConnections:  5,
		MaxConnLifetime: 10 * time.Minute,
		MaxConnIdleTime: time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(5), pc.MaxConns)
	assert.Equal(t, 10*time.Minute, pc.MaxConnLifetime)
	assert.Equal(t, time.Minute, pc.MaxConnIdleTime)
}

func TestPoolConfig_MalformedURL(t *testing.T) {
	_, err := poolConfig(&Config{URL: "host=localhost port=notaport"})
	require.Error(t, err)
}
