package config

// RedactedConfig returns a copy of cfg with credential fields replaced by a
// placeholder, safe for logging at startup.
func RedactedConfig(cfg Config) Config {
	out := cfg
	if out.Redis.Password != "" {
		out.Redis.Password = "[redacted]"
	}
	if out.Postgres.DSN != "" {
		out.Postgres.DSN = "[redacted]"
	}
	if out.Postgres.Password != "" {
		out.Postgres.Password = "[redacted]"
	}
	if out.S3.AccessKey != "" {
		out.S3.AccessKey = "[redacted]"
	}
	if out.S3.SecretKey != "" {
		out.S3.SecretKey = "[redacted]"
	}
	if out.Server.APIKey != "" {
		out.Server.APIKey = "[redacted]"
	}
	return out
}
