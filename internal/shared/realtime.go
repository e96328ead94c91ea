package shared

import (
	"fmt"
	"time"
)

// RealtimeConfig holds the tunables of the realtime update client.
//
// Units follow the key suffixes: _ms fields are milliseconds, _s fields are seconds.
type RealtimeConfig struct {
	UseTicketAuth         bool `toml:"use_ticket_auth"`
	MaxReconnectAttempts  int  `toml:"max_reconnect_attempts"`
	BaseReconnectDelayMS  int  `toml:"base_reconnect_delay_ms"`
	MaxReconnectDelayMS   int  `toml:"max_reconnect_delay_ms"`
	MaxJitterMS           int  `toml:"max_jitter_ms"`
	ConnectionTimeoutMS   int  `toml:"connection_timeout_ms"`
	HeartbeatIntervalMS   int  `toml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS    int  `toml:"heartbeat_timeout_ms"`
	RapidFailureWindowMS  int  `toml:"rapid_failure_window_ms"`
	RapidFailureThreshold int  `toml:"rapid_failure_threshold"`
	RateLimitCooldownMS   int  `toml:"rate_limit_cooldown_ms"`

	TicketLifetimeS            int `toml:"ticket_lifetime_s"`
	TicketRefreshBufferS       int `toml:"ticket_refresh_buffer_s"`
	MinRenewalDelayS           int `toml:"min_renewal_delay_s"`
	MaxTicketRetryAttempts     int `toml:"max_ticket_retry_attempts"`
	TicketRetryDelayMS         int `toml:"ticket_retry_delay_ms"`
	TicketRateLimitIntervalMS  int `toml:"ticket_rate_limit_interval_ms"`
	CircuitBreakerThreshold    int `toml:"circuit_breaker_threshold"`
	CircuitBreakerBaseCooldown int `toml:"circuit_breaker_base_cooldown_ms"`
	CircuitBreakerMaxCooldown  int `toml:"circuit_breaker_max_cooldown_ms"`

	SuccessNotificationMS int `toml:"success_notification_ms"`
	InfoNotificationMS    int `toml:"info_notification_ms"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c RealtimeConfig) BaseReconnectDelay() time.Duration { return ms(c.BaseReconnectDelayMS) }
func (c RealtimeConfig) MaxReconnectDelay() time.Duration  { return ms(c.MaxReconnectDelayMS) }
func (c RealtimeConfig) MaxJitter() time.Duration          { return ms(c.MaxJitterMS) }
func (c RealtimeConfig) ConnectionTimeout() time.Duration  { return ms(c.ConnectionTimeoutMS) }
func (c RealtimeConfig) HeartbeatInterval() time.Duration  { return ms(c.HeartbeatIntervalMS) }
func (c RealtimeConfig) HeartbeatTimeout() time.Duration   { return ms(c.HeartbeatTimeoutMS) }
func (c RealtimeConfig) RapidFailureWindow() time.Duration { return ms(c.RapidFailureWindowMS) }
func (c RealtimeConfig) RateLimitCooldown() time.Duration  { return ms(c.RateLimitCooldownMS) }
func (c RealtimeConfig) TicketRetryDelay() time.Duration   { return ms(c.TicketRetryDelayMS) }
func (c RealtimeConfig) TicketRateLimitInterval() time.Duration {
	return ms(c.TicketRateLimitIntervalMS)
}
func (c RealtimeConfig) SuccessNotificationTTL() time.Duration { return ms(c.SuccessNotificationMS) }
func (c RealtimeConfig) InfoNotificationTTL() time.Duration    { return ms(c.InfoNotificationMS) }

func (c RealtimeConfig) TicketLifetime() time.Duration {
	return time.Duration(c.TicketLifetimeS) * time.Second
}

func (c RealtimeConfig) TicketRefreshBuffer() time.Duration {
	return time.Duration(c.TicketRefreshBufferS) * time.Second
}

func (c RealtimeConfig) MinRenewalDelay() time.Duration {
	return time.Duration(c.MinRenewalDelayS) * time.Second
}

// CalculateReconnectDelay returns min(base * 2^(attempt-1), max) for a 1-indexed attempt.
//
// Attempts below 1 are treated as the first attempt.
func (c RealtimeConfig) CalculateReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.BaseReconnectDelay()
	limit := c.MaxReconnectDelay()

	if base <= 0 {
		return 0
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit || delay <= 0 {
			return limit
		}
	}
	return min(delay, limit)
}

// CircuitBreakerCooldown returns min(maxCooldown, baseCooldown * 2^(failures-threshold)).
func (c RealtimeConfig) CircuitBreakerCooldown(failures int) time.Duration {
	limit := ms(c.CircuitBreakerMaxCooldown)
	cooldown := ms(c.CircuitBreakerBaseCooldown)
	for i := c.CircuitBreakerThreshold; i < failures; i++ {
		cooldown *= 2
		if cooldown >= limit {
			return limit
		}
	}
	return min(cooldown, limit)
}

// Validate reports nonsensical combinations as human-readable warnings.
//
// It never fails; callers decide whether to log or display the warnings.
func (c RealtimeConfig) Validate() []string {
	var warnings []string
	if c.MaxReconnectAttempts < 1 {
		warnings = append(warnings, fmt.Sprintf("max_reconnect_attempts should be at least 1, got %d", c.MaxReconnectAttempts))
	}
	if c.BaseReconnectDelayMS < 100 {
		warnings = append(warnings, fmt.Sprintf("base_reconnect_delay_ms below 100ms may hammer the server, got %d", c.BaseReconnectDelayMS))
	}
	if c.TicketLifetimeS < 10 {
		warnings = append(warnings, fmt.Sprintf("ticket_lifetime_s below 10s leaves no room for renewal, got %d", c.TicketLifetimeS))
	}
	if c.TicketRefreshBufferS >= c.TicketLifetimeS {
		warnings = append(warnings, fmt.Sprintf("ticket_refresh_buffer_s (%d) must be less than ticket_lifetime_s (%d)", c.TicketRefreshBufferS, c.TicketLifetimeS))
	}
	return warnings
}
