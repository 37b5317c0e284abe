// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/azure/webimage/tests/bench"
	"github.com/rs/zerolog"
)

func main() {
	args := &Arguments{}
	arg.MustParse(args)

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	l := zerolog.New(os.Stdout).With().Timestamp().Str("version", version).Logger()
	ctx := l.WithContext(context.Background())

	err := run(ctx, args)
	if err != nil {
		l.Error().Err(err).Msg("error")
		os.Exit(1)
	}

	l.Info().Msg("shutdown")
}

func run(ctx context.Context, args *Arguments) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	switch {
	case args.Version:
		zerolog.Ctx(ctx).Info().Msg("version") // version field is already added to the logger
		return nil

	case args.Bench != nil:
		_, err := bench.Bench(ctx, args.Bench.Server, args.Bench.Images, args.Bench.Concurrency, args.Bench.Rounds)
		return err

	default:
		return fmt.Errorf("unknown subcommand")
	}
}
