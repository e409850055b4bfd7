package ctl

// LogsOptions configures the logs command.
type LogsOptions struct {
	Level string
	JSON  bool
}

// Logs streams the daemon's log events, optionally limited to one level.
func Logs(baseURL string, opts LogsOptions) error {
	return Watch(baseURL, WatchOptions{
		Filter: []string{"log"},
		Level:  opts.Level,
		JSON:   opts.JSON,
	})
}
