package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogSender writes notifications to the log instead of delivering them.
// Used when no push gateway is configured.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{log: logger}
}

func (l *LogSender) Send(_ context.Context, patientID uuid.UUID, title, body string) error {
	l.log.Info().
		Str("patient_id", patientID.String()).
		Str("title", title).
		Str("body", body).
		Msg("notification")
	return nil
}
