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
	"fmt"
	"strconv"
	"strings"
)

const pushStateKey = "uidNext="

// UIDNext extracts the next expected UID from a push state string, or 0
// if the state is empty or unparseable.
func UIDNext(state string) uint64 {
	rest, ok := strings.CutPrefix(state, pushStateKey)
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// NextPushState folds a newly seen UID into a push state.  The result
// never moves backwards.
func NextPushState(state string, uid uint64) string {
	next := UIDNext(state)
	if uid >= next && uid < ^uint64(0) {
		next = uid + 1
	}
	return fmt.Sprintf("%s%d", pushStateKey, next)
}
