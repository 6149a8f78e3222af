// Package app holds process-wide state shared by the binaries.
package app

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"concierge-widget/internal/config"
	"concierge-widget/internal/observability/logging"
)

// Application holds process-wide state for one binary.
type Application struct {
	Name        string
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
}

// New constructs a new Application from the provided configuration. Log
// output goes to out; nil means stdout.
func New(name string, cfg *config.Config, out io.Writer) *Application {
	a := &Application{
		Name: name,
		Cfg:  cfg,
	}
	a.setupLogger(out)

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("Application created")
	return a
}

// setupLogger configures zerolog for the process.
func (a *Application) setupLogger(out io.Writer) {
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     a.Cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
		Service:    a.Name,
		Output:     out,
	})

	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Application starting")

	return nil
}

// Uptime returns the time since Start.
func (a *Application) Uptime() time.Duration {
	if a.StartupTime.IsZero() {
		return 0
	}
	return time.Since(a.StartupTime)
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().
		Dur("uptime", a.Uptime()).
		Msg("Application shutting down")
}
