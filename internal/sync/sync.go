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

// Package sync reconciles a local folder cache with a remote folder.
package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// State is a stage of a synchronization pass.
type State int

const (
	Opening State = iota
	Diffing
	Classifying
	FetchingHeaders
	FetchingBodies
	RefreshingFlags
	Purging
	Finished
	Errored
)

var stateNames = [...]string{
	Opening:         "OPENING",
	Diffing:         "DIFFING",
	Classifying:     "CLASSIFYING",
	FetchingHeaders: "FETCHING_HEADERS",
	FetchingBodies:  "FETCHING_BODIES",
	RefreshingFlags: "REFRESHING_FLAGS",
	Purging:         "PURGING",
	Finished:        "FINISHED",
	Errored:         "ERRORED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Options are the per-account settings a pass honors.
type Options struct {
	// VisibleLimit caps how many of the newest remote messages are
	// synchronized.  Zero or less means no cap.
	VisibleLimit int

	// MaxDownloadSize is the size above which messages are fetched
	// partially.  Zero or less means no cap.
	MaxDownloadSize int64

	// EarliestPollDate excludes older messages when set.
	EarliestPollDate time.Time

	// SyncRemoteDeletions marks local copies deleted when the remote
	// copy carries the deleted flag.
	SyncRemoteDeletions bool

	// OutboxFolder names the local outbound queue, which is never
	// synchronized.
	OutboxFolder string
}

// Engine runs synchronization passes for one account.
type Engine struct {
	Local   LocalStore
	Remote  RemoteStore
	Options Options
	Log     zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// onState, when set, sees every state a pass enters.
	onState func(folder string, s State)
}

// New returns an Engine for one account.
func New(local LocalStore, remote RemoteStore, opts Options, log zerolog.Logger) *Engine {
	return &Engine{
		Local:   local,
		Remote:  remote,
		Options: opts,
		Log:     log,
		Now:     time.Now,
	}
}

// Synchronize runs one pass over folder, reporting to l.  If remote is
// non-nil it must already be open; it is used instead of opening a new
// one and is left open afterwards.
//
// Failures are reported through l and recorded as the local folder's
// status.  The returned error is the same one reported, for callers that
// want it.
func (e *Engine) Synchronize(ctx context.Context, folder string, l Listener, remote RemoteFolder) error {
	if l == nil {
		l = NopListener{}
	}
	log := e.Log.With().Str("folder", folder).Logger()
	if e.Options.OutboxFolder != "" && folder == e.Options.OutboxFolder {
		log.Debug().Msg("skipping outbox")
		return nil
	}

	p := &pass{
		e:      e,
		folder: folder,
		l:      l,
		log:    log,
		remote: remote,
	}
	l.SyncStarted(folder)
	err := p.run(ctx)
	if err != nil {
		p.fail(ctx, err)
	}
	if p.local != nil {
		if cerr := p.local.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("closing local folder")
		}
	}
	if p.ownsRemote {
		if cerr := p.remote.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("closing remote folder")
		}
	}
	return err
}

func (p *pass) enter(s State) {
	p.state = s
	p.log.Debug().Stringer("state", s).Msg("sync state")
	if p.e.onState != nil {
		p.e.onState(p.folder, s)
	}
}

func (p *pass) fail(ctx context.Context, err error) {
	p.enter(Errored)
	if IsAuthError(err) {
		p.log.Error().Err(err).Msg("authentication failed")
		p.l.SyncAuthFailed(p.folder, err)
		p.l.SyncFailed(p.folder, "authentication failure", err)
		return
	}

	reason := RootCause(err)
	if ctx.Err() != nil {
		p.log.Info().Err(err).Msg("sync interrupted")
	} else {
		p.log.Error().Err(err).Msg("sync failed")
	}
	if p.local != nil {
		// The pass context may be what failed.
		wctx := context.WithoutCancel(ctx)
		if serr := p.local.SetStatus(wctx, reason); serr != nil {
			p.log.Warn().Err(serr).Msg("recording folder status")
		}
		if serr := p.local.SetLastChecked(wctx, p.e.now()); serr != nil {
			p.log.Warn().Err(serr).Msg("recording last checked time")
		}
	}
	p.l.SyncFailed(p.folder, reason, err)
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}
