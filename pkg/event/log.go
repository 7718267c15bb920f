package event

import (
	"log/slog"
)

// NewLogListener writes transfers to logger. Progress is logged at debug level only.
func NewLogListener(logger *slog.Logger) Listener {
	logger = logger.With(slog.String("component", "transfer"))
	return ListenerFunc(func(e Event) {
		attrs := []any{slog.String("repository", e.Repository), slog.String("url", e.URL)}
		switch e.Type {
		case Started:
			logger.Debug("Downloading", attrs...)
		case Progressed:
			logger.Debug("Downloading", append(attrs, slog.Int64("transferred", e.Transferred), slog.Int64("size", e.Size))...)
		case Succeeded:
			logger.Info("Downloaded", append(attrs, slog.Int64("size", e.Transferred), slog.Duration("elapsed", e.Elapsed))...)
		case Failed:
			logger.Debug("Download failed", append(attrs, slog.Any("error", e.Err))...)
		}
	})
}
