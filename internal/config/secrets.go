package config

import "maps"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Exchange.Token)
	redact(&out.Exchange.TokenPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhook)

	// Copy slices and maps so callers cannot mutate the original through
	// the redacted copy.
	out.Exchange.Symbols = append([]string(nil), cfg.Exchange.Symbols...)
	out.Exchange.RouteLimits = maps.Clone(cfg.Exchange.RouteLimits)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
