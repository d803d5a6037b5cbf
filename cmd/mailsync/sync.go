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

package main

import (
	"context"
	"net/http"
	gosync "sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/matta/mailsync/internal/metrics"
	"github.com/matta/mailsync/internal/sync"
)

var timeNow = time.Now

func newSyncCmd(a *app) *cobra.Command {
	var account, folder string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize configured folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSync(cmd.Context(), account, folder)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "only this account")
	cmd.Flags().StringVar(&folder, "folder", "", "only this folder")
	return cmd
}

func (a *app) runSync(ctx context.Context, account, folder string) error {
	accts, err := a.accounts(account)
	if err != nil {
		return err
	}
	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var m *metrics.Metrics
	if a.cfg.MetricsAddr != "" {
		m = metrics.New()
		srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Error().Err(err).Msg("metrics server")
			}
		}()
		defer srv.Close()
	}

	failed := &failureCounter{}
	var jobs []sync.Job
	for _, acct := range accts {
		e, _, err := s.engine(ctx, acct)
		if err != nil {
			return err
		}
		log := a.log.With().Str("account", acct.Name).Logger()
		extra := []sync.Listener{failed}
		if m != nil {
			extra = append(extra, m.Account(acct.Name))
		}
		l := listener(log, extra...)
		folders := acct.Folders
		if folder != "" {
			folders = []string{folder}
		}
		for _, f := range folders {
			jobs = append(jobs, sync.Job{Engine: e, Folder: f, Listener: l})
		}
	}

	if err := sync.Sweep(ctx, jobs, a.cfg.Concurrency); err != nil {
		return errors.Wrap(err, "sync interrupted")
	}
	if n := failed.count(); n > 0 {
		return errors.Errorf("%d of %d folders failed", n, len(jobs))
	}
	a.log.Info().Int("folders", len(jobs)).Msg("sync complete")
	return nil
}

// failureCounter counts failed passes across a sweep.
type failureCounter struct {
	sync.NopListener

	mu gosync.Mutex
	n  int
}

func (c *failureCounter) SyncFailed(folder string, reason string, err error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *failureCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
