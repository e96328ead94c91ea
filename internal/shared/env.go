package shared

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SUMSTREAM_REALTIME_USE_TICKET_AUTH.
const EnvPrefix = "SUMSTREAM"

type envBinding struct {
	key   string
	apply func(v *viper.Viper, key string, c *Config)
}

func envString(target func(*Config) *string) func(*viper.Viper, string, *Config) {
	return func(v *viper.Viper, key string, c *Config) { *target(c) = v.GetString(key) }
}

func envInt(target func(*Config) *int) func(*viper.Viper, string, *Config) {
	return func(v *viper.Viper, key string, c *Config) { *target(c) = v.GetInt(key) }
}

var envBindings = []envBinding{
	{"api.base_url", envString(func(c *Config) *string { return &c.API.BaseURL })},
	{"api.ticket_path", envString(func(c *Config) *string { return &c.API.TicketPath })},
	{"api.stream_path", envString(func(c *Config) *string { return &c.API.StreamPath })},
	{"api.purpose", envString(func(c *Config) *string { return &c.API.Purpose })},
	{"identity.token", envString(func(c *Config) *string { return &c.Identity.Token })},
	{"identity.token_url", envString(func(c *Config) *string { return &c.Identity.TokenURL })},
	{"identity.client_id", envString(func(c *Config) *string { return &c.Identity.ClientID })},
	{"identity.client_secret", envString(func(c *Config) *string { return &c.Identity.ClientSecret })},
	{"logging.level", envString(func(c *Config) *string { return &c.Logging.Level })},
	{"realtime.use_ticket_auth", func(v *viper.Viper, key string, c *Config) {
		c.Realtime.UseTicketAuth = v.GetBool(key)
	}},
	{"realtime.max_reconnect_attempts", envInt(func(c *Config) *int { return &c.Realtime.MaxReconnectAttempts })},
	{"realtime.base_reconnect_delay_ms", envInt(func(c *Config) *int { return &c.Realtime.BaseReconnectDelayMS })},
	{"realtime.max_reconnect_delay_ms", envInt(func(c *Config) *int { return &c.Realtime.MaxReconnectDelayMS })},
	{"realtime.connection_timeout_ms", envInt(func(c *Config) *int { return &c.Realtime.ConnectionTimeoutMS })},
	{"realtime.heartbeat_interval_ms", envInt(func(c *Config) *int { return &c.Realtime.HeartbeatIntervalMS })},
	{"realtime.heartbeat_timeout_ms", envInt(func(c *Config) *int { return &c.Realtime.HeartbeatTimeoutMS })},
	{"realtime.ticket_lifetime_s", envInt(func(c *Config) *int { return &c.Realtime.TicketLifetimeS })},
	{"realtime.ticket_refresh_buffer_s", envInt(func(c *Config) *int { return &c.Realtime.TicketRefreshBufferS })},
	{"realtime.max_ticket_retry_attempts", envInt(func(c *Config) *int { return &c.Realtime.MaxTicketRetryAttempts })},
	{"realtime.ticket_retry_delay_ms", envInt(func(c *Config) *int { return &c.Realtime.TicketRetryDelayMS })},
	{"realtime.max_jitter_ms", envInt(func(c *Config) *int { return &c.Realtime.MaxJitterMS })},
	{"realtime.rapid_failure_window_ms", envInt(func(c *Config) *int { return &c.Realtime.RapidFailureWindowMS })},
	{"realtime.rapid_failure_threshold", envInt(func(c *Config) *int { return &c.Realtime.RapidFailureThreshold })},
	{"realtime.rate_limit_cooldown_ms", envInt(func(c *Config) *int { return &c.Realtime.RateLimitCooldownMS })},
	{"realtime.min_renewal_delay_s", envInt(func(c *Config) *int { return &c.Realtime.MinRenewalDelayS })},
	{"realtime.ticket_rate_limit_interval_ms", envInt(func(c *Config) *int { return &c.Realtime.TicketRateLimitIntervalMS })},
	{"realtime.circuit_breaker_threshold", envInt(func(c *Config) *int { return &c.Realtime.CircuitBreakerThreshold })},
	{"realtime.circuit_breaker_base_cooldown_ms", envInt(func(c *Config) *int { return &c.Realtime.CircuitBreakerBaseCooldown })},
	{"realtime.circuit_breaker_max_cooldown_ms", envInt(func(c *Config) *int { return &c.Realtime.CircuitBreakerMaxCooldown })},
	{"realtime.success_notification_ms", envInt(func(c *Config) *int { return &c.Realtime.SuccessNotificationMS })},
	{"realtime.info_notification_ms", envInt(func(c *Config) *int { return &c.Realtime.InfoNotificationMS })},
}

// ApplyEnvironment overrides config values with SUMSTREAM_* environment variables.
//
// Nested keys map to upper-cased names with dots replaced by underscores.
func ApplyEnvironment(c *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, b := range envBindings {
		_ = v.BindEnv(b.key)
		if v.IsSet(b.key) {
			b.apply(v, b.key, c)
		}
	}
}
