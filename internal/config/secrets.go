package config

// RedactedConfig returns a copy of cfg with the Redis, Postgres and S3
// credentials and the API key masked. `marketguard config check` prints it.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)

	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	return out
}

const redacted = "***"

// redact masks s when set; empty stays empty so unset secrets are visible.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
