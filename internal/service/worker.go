package service

import "time"

// WorkerConfig параметры обработки outbox
type WorkerConfig struct {
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
	StaleAfter     time.Duration // через сколько зависшая в PROCESSING запись забирается снова
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 30 * time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = time.Hour
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	return c
}

// retryDelay экспоненциальная задержка перед попыткой attempt+1
func (c WorkerConfig) retryDelay(attempt int) time.Duration {
	d := c.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxRetryDelay {
			return c.MaxRetryDelay
		}
	}
	return d
}
