package main

import "github.com/urfave/cli/v2"

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	Usage:    "one of: [console, json]",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagConfig = &cli.StringFlag{
	Name:     "config",
	Usage:    "path to a yaml config file",
	EnvVars:  []string{"TCK_CONFIG"},
	Required: false,
}

var FlagListenAddress = &cli.StringFlag{
	Name:     "listen-address",
	Usage:    "host:port the embedded broker listens on",
	EnvVars:  []string{"TCK_LISTEN_ADDRESS"},
	Required: false,
}

var FlagResultLog = &cli.StringFlag{
	Name:     "result-log",
	Usage:    "file every test report is appended to",
	EnvVars:  []string{"TCK_RESULT_LOG"},
	Required: false,
}

var FlagResultsTopic = &cli.StringFlag{
	Name:     "results-topic",
	Usage:    "topic test reports are published on",
	EnvVars:  []string{"TCK_RESULTS_TOPIC"},
	Required: false,
}

var FlagStartDelay = &cli.DurationFlag{
	Name:     "start-delay",
	Usage:    "delay before broker tests start probing",
	EnvVars:  []string{"TCK_START_DELAY"},
	Required: false,
}

var FlagProbeTimeout = &cli.DurationFlag{
	Name:     "probe-timeout",
	Usage:    "bound on every wait of a broker probe",
	EnvVars:  []string{"TCK_PROBE_TIMEOUT"},
	Required: false,
}

var FlagProbeUsername = &cli.StringFlag{
	Name:     "probe-username",
	EnvVars:  []string{"TCK_PROBE_USERNAME"},
	Required: false,
}

var FlagProbePassword = &cli.StringFlag{
	Name:     "probe-password",
	EnvVars:  []string{"TCK_PROBE_PASSWORD"},
	Required: false,
}

// applyFlags overrides config values with the flags that were set.
func applyFlags(ctx *cli.Context, config *Config) {
	if ctx.IsSet(FlagListenAddress.Name) {
		config.ListenAddress = ctx.String(FlagListenAddress.Name)
	}
	if ctx.IsSet(FlagResultLog.Name) {
		config.ResultLog = ctx.String(FlagResultLog.Name)
	}
	if ctx.IsSet(FlagResultsTopic.Name) {
		config.ResultsTopic = ctx.String(FlagResultsTopic.Name)
	}
	if ctx.IsSet(FlagStartDelay.Name) {
		config.StartDelay = ctx.Duration(FlagStartDelay.Name)
	}
	if ctx.IsSet(FlagProbeTimeout.Name) {
		config.Probe.Timeout = ctx.Duration(FlagProbeTimeout.Name)
	}
	if ctx.IsSet(FlagProbeUsername.Name) {
		config.Probe.Username = ctx.String(FlagProbeUsername.Name)
	}
	if ctx.IsSet(FlagProbePassword.Name) {
		config.Probe.Password = ctx.String(FlagProbePassword.Name)
	}
	config.EnsureDefaults()
}
