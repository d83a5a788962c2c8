package monitor

import "log/slog"

// LogNotifications returns a listener that writes notifications to logger.
// CleanupError is not logged here since TriggerCleanup already logs it.
func LogNotifications(logger *slog.Logger) Listener {
	return func(n Notification) {
		switch n := n.(type) {
		case MemoryCheck:
			logger.Debug("memory check",
				"clients", n.Stats.ClientCount,
				"progress_types", n.Stats.ProgressTypeCount,
				"events", n.Stats.TotalEventHistory,
				"estimated_bytes", n.Stats.EstimatedMemoryUsage,
			)
		case ConnectionThresholdExceeded:
			logger.Warn("connection threshold exceeded", "current", n.Current, "max", n.Max, "threshold", n.Threshold)
		case ProgressTypeThresholdExceeded:
			logger.Warn("progress type threshold exceeded", "current", n.Current, "max", n.Max, "threshold", n.Threshold)
		case MemoryThresholdExceeded:
			logger.Warn("memory threshold exceeded", "current", n.Current, "threshold", n.Threshold)
		case EventHistoryThresholdExceeded:
			logger.Warn("event history threshold exceeded", "current", n.Current, "max", n.Max, "threshold", n.Threshold)
		case CleanupTriggered:
			logger.Info("cleanup triggered",
				"reason", n.Reason,
				"events", n.Removed.Events,
				"progress_types", n.Removed.ProgressTypes,
				"connections", n.Removed.Connections,
			)
		case CleanupError:
		}
	}
}
