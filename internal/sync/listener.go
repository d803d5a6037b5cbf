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

package sync

import (
	"github.com/rs/zerolog"

	"github.com/matta/mailsync/internal/message"
)

// Listener observes a synchronization pass.  Methods are called from the
// goroutine running the pass, in order.  A pass ends with exactly one of
// SyncFinished or SyncFailed.
type Listener interface {
	SyncStarted(folder string)
	SyncAuthenticationSuccess(folder string)
	SyncHeadersStarted(folder string)
	SyncHeadersProgress(folder string, completed, total int)
	SyncHeadersFinished(folder string, total, completed int)
	SyncProgress(folder string, completed, total int)
	SyncNewMessage(folder string, msg *message.Message, isOld bool)
	SyncFlagChanged(folder string, msg *message.Message)
	SyncRemovedMessage(folder string, uid string)
	SyncFinished(folder string, remoteCount, newCount int)
	SyncFailed(folder string, reason string, err error)
	SyncAuthFailed(folder string, err error)
}

// NopListener ignores every event.  Embed it to implement only some of
// Listener.
type NopListener struct{}

func (NopListener) SyncStarted(string)                            {}
func (NopListener) SyncAuthenticationSuccess(string)              {}
func (NopListener) SyncHeadersStarted(string)                     {}
func (NopListener) SyncHeadersProgress(string, int, int)          {}
func (NopListener) SyncHeadersFinished(string, int, int)          {}
func (NopListener) SyncProgress(string, int, int)                 {}
func (NopListener) SyncNewMessage(string, *message.Message, bool) {}
func (NopListener) SyncFlagChanged(string, *message.Message)      {}
func (NopListener) SyncRemovedMessage(string, string)             {}
func (NopListener) SyncFinished(string, int, int)                 {}
func (NopListener) SyncFailed(string, string, error)              {}
func (NopListener) SyncAuthFailed(string, error)                  {}

// Multi fans every event out to each listener in turn.
type Multi []Listener

func (m Multi) SyncStarted(folder string) {
	for _, l := range m {
		l.SyncStarted(folder)
	}
}

func (m Multi) SyncAuthenticationSuccess(folder string) {
	for _, l := range m {
		l.SyncAuthenticationSuccess(folder)
	}
}

func (m Multi) SyncHeadersStarted(folder string) {
	for _, l := range m {
		l.SyncHeadersStarted(folder)
	}
}

func (m Multi) SyncHeadersProgress(folder string, completed, total int) {
	for _, l := range m {
		l.SyncHeadersProgress(folder, completed, total)
	}
}

func (m Multi) SyncHeadersFinished(folder string, total, completed int) {
	for _, l := range m {
		l.SyncHeadersFinished(folder, total, completed)
	}
}

func (m Multi) SyncProgress(folder string, completed, total int) {
	for _, l := range m {
		l.SyncProgress(folder, completed, total)
	}
}

func (m Multi) SyncNewMessage(folder string, msg *message.Message, isOld bool) {
	for _, l := range m {
		l.SyncNewMessage(folder, msg, isOld)
	}
}

func (m Multi) SyncFlagChanged(folder string, msg *message.Message) {
	for _, l := range m {
		l.SyncFlagChanged(folder, msg)
	}
}

func (m Multi) SyncRemovedMessage(folder string, uid string) {
	for _, l := range m {
		l.SyncRemovedMessage(folder, uid)
	}
}

func (m Multi) SyncFinished(folder string, remoteCount, newCount int) {
	for _, l := range m {
		l.SyncFinished(folder, remoteCount, newCount)
	}
}

func (m Multi) SyncFailed(folder string, reason string, err error) {
	for _, l := range m {
		l.SyncFailed(folder, reason, err)
	}
}

func (m Multi) SyncAuthFailed(folder string, err error) {
	for _, l := range m {
		l.SyncAuthFailed(folder, err)
	}
}

// LogListener writes the coarse events of a pass to a logger.  Progress
// events are logged at trace level.
type LogListener struct {
	Log zerolog.Logger
}

func (l LogListener) SyncStarted(folder string) {
	l.Log.Info().Str("folder", folder).Msg("sync started")
}

func (l LogListener) SyncAuthenticationSuccess(folder string) {
	l.Log.Debug().Str("folder", folder).Msg("remote folder open")
}

func (l LogListener) SyncHeadersStarted(folder string) {
	l.Log.Debug().Str("folder", folder).Msg("listing remote messages")
}

func (l LogListener) SyncHeadersProgress(folder string, completed, total int) {
	l.Log.Trace().Str("folder", folder).Int("completed", completed).Int("total", total).Msg("listing")
}

func (l LogListener) SyncHeadersFinished(folder string, total, completed int) {
	l.Log.Debug().Str("folder", folder).Int("total", total).Int("kept", completed).Msg("listed remote messages")
}

func (l LogListener) SyncProgress(folder string, completed, total int) {
	l.Log.Trace().Str("folder", folder).Int("completed", completed).Int("total", total).Msg("progress")
}

func (l LogListener) SyncNewMessage(folder string, msg *message.Message, isOld bool) {
	l.Log.Debug().Str("folder", folder).Str("uid", msg.UID).Bool("old", isOld).
		Str("download", msg.Download.String()).Msg("stored message")
}

func (l LogListener) SyncFlagChanged(folder string, msg *message.Message) {
	l.Log.Debug().Str("folder", folder).Str("uid", msg.UID).Stringer("flags", msg.Flags).Msg("flags changed")
}

func (l LogListener) SyncRemovedMessage(folder string, uid string) {
	l.Log.Debug().Str("folder", folder).Str("uid", uid).Msg("removed message")
}

func (l LogListener) SyncFinished(folder string, remoteCount, newCount int) {
	l.Log.Info().Str("folder", folder).Int("remote", remoteCount).Int("new", newCount).Msg("sync finished")
}

func (l LogListener) SyncFailed(folder string, reason string, err error) {
	l.Log.Warn().Str("folder", folder).Str("reason", reason).Err(err).Msg("sync failed")
}

func (l LogListener) SyncAuthFailed(folder string, err error) {
	l.Log.Error().Str("folder", folder).Err(err).Msg("authentication failed")
}
