package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Sugared = *zap.SugaredLogger

// New builds a JSON production logger for env "prod" and a console logger
// otherwise. LOG_LEVEL (debug, info, warn, error) overrides the level.
func New(env string) Sugared {
	var zc zap.Config
	if env == "prod" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if l, err := zapcore.ParseLevel(lvl); err == nil {
			zc.Level = zap.NewAtomicLevelAt(l)
		}
	}
	z, err := zc.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return z.Sugar().With("service", "shopgate")
}

// Nop returns a logger that discards everything.
func Nop() Sugared { return zap.NewNop().Sugar() }
