// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The mailsync command keeps a local cache of IMAP folders up to date.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/matta/mailsync/internal/config"
)

// app is the state shared by every subcommand.
type app struct {
	configPath string
	trace      bool
	verbose    bool

	v   *viper.Viper
	cfg *config.Config
	log zerolog.Logger
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	switch {
	case a.trace:
		level = zerolog.TraceLevel
	case a.verbose:
		level = zerolog.DebugLevel
	}
	a.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	root := &cobra.Command{
		Use:               "mailsync",
		Short:             "Synchronize IMAP folders into a local cache",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", config.DefaultPath(), "configuration file")
	pf.BoolVarP(&a.trace, "trace", "T", false, "request protocol tracing")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log debug messages")
	pf.Int("concurrency", config.DefaultConcurrency, "folders synchronized at once")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address")
	pf.String("database", "", "state database path")
	a.v.BindPFlag("concurrency", pf.Lookup("concurrency"))
	a.v.BindPFlag("metrics_addr", pf.Lookup("metrics-addr"))
	a.v.BindPFlag("database", pf.Lookup("database"))

	root.AddCommand(
		newSyncCmd(a),
		newMarkCmd(a),
		newMoveCmd(a),
		newSearchCmd(a),
		newStatusCmd(a),
		newPasswordCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Cause(err) == context.Canceled {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
