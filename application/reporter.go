package application

import (
	"github.com/rs/zerolog"
)

// Reporter receives the report of every finished scenario.
type Reporter interface {
	Report(report Report) error
}

// MultiReporter hands a report to every reporter in turn. A failing reporter
// is logged and does not stop the others.
type MultiReporter struct {
	Reporters []Reporter
	Log       zerolog.Logger
}

func (m *MultiReporter) Report(report Report) error {
	for _, r := range m.Reporters {
		if err := r.Report(report); err != nil {
			m.Log.Error().Err(err).Str("scenario", report.Scenario).Msg("failed to report results")
		}
	}
	return nil
}

var _ Reporter = &MultiReporter{}
