package logging

import "go.uber.org/zap"

// CronLogger adapts a zap logger to robfig/cron's Logger interface.
type CronLogger struct{ *zap.SugaredLogger }

// NewCronLogger creates a cron logger adapter from a zap logger.
func NewCronLogger(logger *zap.Logger) *CronLogger {
	// cron passes key/value pairs, so the sugared logger is the natural fit
	return &CronLogger{logger.Sugar()}
}

func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.Debugw(msg, keysAndValues...)
}

func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.Errorw(msg, append(keysAndValues, "error", err)...)
}
