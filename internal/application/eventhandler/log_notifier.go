package eventhandler

import (
	"context"

	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

// LogNotifier writes confirmation messages to the application log. It stands
// in for an SMS channel until one is wired.
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Default()
	}
	return &LogNotifier{logger: log.With(logger.Component("notifier"))}
}

// Send implements Notifier.
func (n *LogNotifier) Send(_ context.Context, studentID, message string) error {
	n.logger.Info("payment confirmation",
		logger.StudentID(studentID),
		logger.String("message", message),
	)
	return nil
}
