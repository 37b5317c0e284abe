package main

type BenchCmd struct {
	Server      string   `arg:"--server" help:"the image server, such as http://127.0.0.1:5000"`
	Images      []string `arg:"positional" help:"urls of the images to request"`
	Concurrency int      `arg:"--concurrency" help:"number of concurrent requests" default:"8"`
	Rounds      int      `arg:"--rounds" help:"number of passes over all images" default:"2"`
}

type Arguments struct {
	Bench   *BenchCmd `arg:"subcommand:bench"`
	Version bool      `arg:"-v" help:"show version and exit"`
}

var version string
