package adapters

import (
	"fmt"
	"os"
	"sparkplug-tck/application"
	"sync"

	"github.com/rs/zerolog"
)

const DefaultResultLogPath = "SparkplugTCKresults.log"

// LogReporter writes every requirement result to the service log.
type LogReporter struct {
	Log zerolog.Logger
}

func (r *LogReporter) Report(report application.Report) error {
	for _, e := range report.Entries {
		r.Log.Info().
			Str("scenario", report.Scenario).
			Str("requirement", e.ID).
			Str("outcome", string(e.Result.Outcome)).
			Str("reason", e.Result.Reason).
			Send()
	}
	r.Log.Info().Str("scenario", report.Scenario).Str("overall", string(report.Overall())).Msg("test finished")
	return nil
}

// Publisher is satisfied by Broker.
type Publisher interface {
	Publish(topic string, payload []byte, retain bool, qos byte) error
}

// TopicReporter publishes reports on the results topic so the test driver
// can collect them.
type TopicReporter struct {
	publisher Publisher
	topic     string
}

func NewTopicReporter(publisher Publisher, topic string) (*TopicReporter, error) {
	if publisher == nil {
		return nil, fmt.Errorf("Publisher is nil")
	}
	if topic == "" {
		topic = ResultTopic
	}
	return &TopicReporter{publisher: publisher, topic: topic}, nil
}

func (r *TopicReporter) Report(report application.Report) error {
	payload := fmt.Sprintf("%s\n%s", report.Scenario, report.Payload())
	return r.publisher.Publish(r.topic, []byte(payload), false, 1)
}

// ResultLog appends every report to a plain text file.
type ResultLog struct {
	path string

	mu sync.Mutex
}

func NewResultLog(path string) *ResultLog {
	if path == "" {
		path = DefaultResultLogPath
	}
	return &ResultLog{path: path}
}

func (r *ResultLog) Report(report application.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open result log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "Summary Test Results for %s\n%s\n", report.Scenario, report.Payload()); err != nil {
		return fmt.Errorf("write result log: %w", err)
	}
	return nil
}

var _ application.Reporter = &LogReporter{}
var _ application.Reporter = &TopicReporter{}
var _ application.Reporter = &ResultLog{}
var _ Publisher = &Broker{}
