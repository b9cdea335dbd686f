package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseJson_OverlaysFileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.json")
	content := `{
		"endpoint_addr": ":7070",
		"database_dsn": "postgres://u:p@db:5432/accounts",
		"session_validity_duration": "2h",
		"session_renew_threshold": "10m",
		"frontend_url": "https://app.example.com",
		"s3_bucket": "pictures"
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	origArgs := os.Args
	defer func() { os.Args = origArgs }()
	os.Args = []string{"server", "-c", path}

	var c Config
	c.LoadDefaults()
	parseJson(&c)

	assert.Equal(t, ":7070", c.EndpointAddr)
	assert.Equal(t, "postgres://u:p@db:5432/accounts", c.DatabaseDSN)
	assert.Equal(t, 2*time.Hour, c.SessionValidityDuration)
	assert.Equal(t, 10*time.Minute, c.SessionRenewThreshold)
	assert.Equal(t, "https://app.example.com", c.FrontendURL)
	assert.Equal(t, "pictures", c.S3Bucket)
}

func TestParseJson_NoFlagLoadsNothing(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()
	os.Args = []string{"server"}

	var c Config
	c.LoadDefaults()
	parseJson(&c)

	assert.Equal(t, ":8080", c.EndpointAddr)
}
