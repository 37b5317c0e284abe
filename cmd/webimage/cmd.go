package main

import "time"

type RunCmd struct {
	HttpAddr string `arg:"--http-addr" help:"address of the server" default:"127.0.0.1:5000"`
}

type FetchCmd struct {
	URLs     []string `arg:"positional,required" help:"urls of the images to fetch"`
	Width    int      `arg:"--width" help:"crop width"`
	Height   int      `arg:"--height" help:"crop height"`
	Priority string   `arg:"--priority" help:"queue priority" default:"normal" valid:"low,normal,high"`
}

type SweepCmd struct{}

type Arguments struct {
	Run   *RunCmd   `arg:"subcommand:run" help:"run the server"`
	Fetch *FetchCmd `arg:"subcommand:fetch" help:"fetch images into the cache"`
	Sweep *SweepCmd `arg:"subcommand:sweep" help:"run one eviction sweep"`

	Config string `arg:"-c,--config" help:"path of a toml configuration file"`

	// Overrides of the configuration file.
	Dir           *string        `arg:"--dir" help:"cache directory"`
	MaxAge        *time.Duration `arg:"--max-age" help:"maximum age of cached files, 0 disables"`
	MaxSize       *int64         `arg:"--max-size" help:"maximum total size of cached files in bytes, 0 disables"`
	SweepInterval *time.Duration `arg:"--sweep-interval" help:"interval of eviction sweeps"`
	FetchWorkers  *int           `arg:"--fetch-workers" help:"number of concurrent downloads"`
	DecodeWorkers *int           `arg:"--decode-workers" help:"number of concurrent decodes"`

	Version  bool   `arg:"-v" help:"show version and exit"`
	LogLevel string `arg:"--log-level" help:"set the log level" default:"info" valid:"debug,info,warn,error,fatal,panic"`
}

var version string
