package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/videotube/internal/flagx"
	"github.com/dmitrijs2005/videotube/internal/timex"
)

// JsonConfig is the on-disk shape of the optional JSON config file.
// Durations accept either a string such as "15m" or integer nanoseconds.
// Only keys present with a non-zero value override the current settings.
type JsonConfig struct {
	HTTPAddr                     string         `json:"http_addr"`
	Store                        string         `json:"store"`
	DatabaseDSN                  string         `json:"database_dsn"`
	MongoURI                     string         `json:"mongo_uri"`
	MongoDatabase                string         `json:"mongo_database"`
	AccessTokenSecret            string         `json:"access_token_secret"`
	RefreshTokenSecret           string         `json:"refresh_token_secret"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	BcryptCost                   int            `json:"bcrypt_cost"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
	S3PublicBaseURL              string         `json:"s3_public_base_url"`
	UploadDir                    string         `json:"upload_dir"`
	UploadTimeout                timex.Duration `json:"upload_timeout"`
	MaxUploadBytes               int64          `json:"max_upload_bytes"`
	CookieSecure                 *bool          `json:"cookie_secure"`
	CORSOrigin                   string         `json:"cors_origin"`
	LogLevel                     string         `json:"log_level"`
}

// parseJSON loads the file named by -c/-config (if any) and copies every
// non-zero value into config.
func parseJSON(config *Config, args []string) error {
	path, err := flagx.ConfigPath(args)
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.Store, c.Store)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.MongoURI, c.MongoURI)
	setString(&config.MongoDatabase, c.MongoDatabase)
	setString(&config.AccessTokenSecret, c.AccessTokenSecret)
	setString(&config.RefreshTokenSecret, c.RefreshTokenSecret)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	if c.BcryptCost != 0 {
		config.BcryptCost = c.BcryptCost
	}
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3PublicBaseURL, c.S3PublicBaseURL)
	setString(&config.UploadDir, c.UploadDir)
	setDuration(&config.UploadTimeout, c.UploadTimeout)
	if c.MaxUploadBytes != 0 {
		config.MaxUploadBytes = c.MaxUploadBytes
	}
	if c.CookieSecure != nil {
		config.CookieSecure = *c.CookieSecure
	}
	setString(&config.CORSOrigin, c.CORSOrigin)
	setString(&config.LogLevel, c.LogLevel)

	return nil
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
