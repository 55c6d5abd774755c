package billing

import "github.com/rs/zerolog"

// leveledLogger routes stripe-go's client logging into zerolog.
type leveledLogger struct {
	logger *zerolog.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (l *leveledLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (l *leveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Str("component", "stripe").Msgf(format, v...)
}

func (l *leveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Str("component", "stripe").Msgf(format, v...)
}
