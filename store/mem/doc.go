// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mem provides an in-memory implementation of the kv engine
// interfaces. It exists for tests, which use it to simulate commit
// failures and write conflicts that bolt's single-writer model never
// produces, and for ephemeral stores.
package mem
