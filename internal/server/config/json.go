package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spadeshq/accounts/internal/flagx"
	"github.com/spadeshq/accounts/internal/timex"
)

// JsonConfig is the DTO for the optional JSON configuration file. Duration
// fields accept either strings like "15m" or integer nanoseconds.
type JsonConfig struct {
	EndpointAddr            string         `json:"endpoint_addr"`
	DatabaseDSN             string         `json:"database_dsn"`
	SessionValidityDuration timex.Duration `json:"session_validity_duration"`
	SessionRenewThreshold   timex.Duration `json:"session_renew_threshold"`
	FrontendURL             string         `json:"frontend_url"`
	TLSCertFile             string         `json:"tls_cert_file"`
	TLSKeyFile              string         `json:"tls_key_file"`
	S3RootUser              string         `json:"s3_root_user"`
	S3RootPassword          string         `json:"s3_root_password"`
	S3Bucket                string         `json:"s3_bucket"`
	S3Region                string         `json:"s3_region"`
	S3BaseEndpoint          string         `json:"s3_base_endpoint"`
}

// parseJson overlays values from the JSON file named by the -c/-config
// flags onto config. Without the flag nothing is loaded; an unreadable or
// malformed file panics, since the server cannot run half-configured.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	// Only fields present in the file override the defaults.
	setString(&config.EndpointAddr, c.EndpointAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setDuration(&config.SessionValidityDuration, c.SessionValidityDuration)
	setDuration(&config.SessionRenewThreshold, c.SessionRenewThreshold)
	setString(&config.FrontendURL, c.FrontendURL)
	setString(&config.TLSCertFile, c.TLSCertFile)
	setString(&config.TLSKeyFile, c.TLSKeyFile)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
