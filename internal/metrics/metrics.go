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

// Package metrics exports synchronization events to Prometheus.
package metrics

import (
	"net/http"
	gosync "sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matta/mailsync/internal/message"
	"github.com/matta/mailsync/internal/sync"
)

// Metrics holds the synchronization metrics shared by every account.
type Metrics struct {
	reg *prometheus.Registry
	now func() time.Time

	passes   *prometheus.CounterVec
	newMsgs  *prometheus.CounterVec
	flags    *prometheus.CounterVec
	removed  *prometheus.CounterVec
	duration *prometheus.HistogramVec

	mu      gosync.Mutex
	started map[passKey]time.Time
}

type passKey struct {
	account, folder string
}

// New returns metrics registered in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		now: time.Now,
		passes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_sync_passes_total",
				Help: "Completed folder synchronization passes.",
			},
			[]string{
				"account",
				"folder",
				"result", // ok, error, auth
			},
		),
		newMsgs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_new_messages_total",
				Help: "Messages stored locally for the first time.",
			},
			[]string{"account", "folder"},
		),
		flags: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_flag_changes_total",
				Help: "Local messages whose flags were updated from the server.",
			},
			[]string{"account", "folder"},
		),
		removed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_removed_messages_total",
				Help: "Messages removed from the local store.",
			},
			[]string{"account", "folder"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailsync_sync_duration_seconds",
				Help:    "Folder synchronization pass duration in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"account", "folder"},
		),
		started: make(map[passKey]time.Time),
	}
}

// Handler serves the metrics of every account.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Account returns a listener recording the passes of one account.
func (m *Metrics) Account(name string) *Listener {
	return &Listener{m: m, account: name}
}

// Listener is a sync.Listener counting pass outcomes and message
// changes per folder of one account.
type Listener struct {
	sync.NopListener

	m       *Metrics
	account string
}

var _ sync.Listener = (*Listener)(nil)

func (l *Listener) SyncStarted(folder string) {
	l.m.mu.Lock()
	l.m.started[passKey{l.account, folder}] = l.m.now()
	l.m.mu.Unlock()
}

func (l *Listener) SyncNewMessage(folder string, msg *message.Message, isOld bool) {
	if !isOld {
		l.m.newMsgs.WithLabelValues(l.account, folder).Inc()
	}
}

func (l *Listener) SyncFlagChanged(folder string, msg *message.Message) {
	l.m.flags.WithLabelValues(l.account, folder).Inc()
}

func (l *Listener) SyncRemovedMessage(folder string, uid string) {
	l.m.removed.WithLabelValues(l.account, folder).Inc()
}

func (l *Listener) SyncFinished(folder string, remoteCount, newCount int) {
	l.end(folder, "ok")
}

func (l *Listener) SyncFailed(folder string, reason string, err error) {
	if sync.IsAuthError(err) {
		l.end(folder, "auth")
		return
	}
	l.end(folder, "error")
}

func (l *Listener) end(folder, result string) {
	l.m.passes.WithLabelValues(l.account, folder, result).Inc()
	key := passKey{l.account, folder}
	l.m.mu.Lock()
	start, ok := l.m.started[key]
	delete(l.m.started, key)
	l.m.mu.Unlock()
	if ok {
		l.m.duration.WithLabelValues(l.account, folder).Observe(l.m.now().Sub(start).Seconds())
	}
}
