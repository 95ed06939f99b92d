// Package gid gives pools a way to recognize "this call is running on one
// of my own worker goroutines" without a goroutine parameter to check —
// exactly what spec §7's schedule_in_worker misuse error needs to detect
// at the Schedule/SyncWait/Detach boundary.
//
// Go deliberately has no goroutine-local storage API. The common
// workaround — parsing the numeric id out of the header line of
// runtime.Stack's own trace dump — is what every "goroutine ID" helper in
// the ecosystem does (e.g. petermattis/goid); this package inlines the
// same trick rather than pulling in a dependency for four lines of
// parsing, and is only ever used on the cold "am I on a worker" check,
// never on a scheduling hot path.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Current returns the calling goroutine's runtime id.
func Current() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]

	const prefix = "goroutine "
	if !bytes.HasPrefix(buf, []byte(prefix)) {
		return -1
	}
	buf = buf[len(prefix):]

	end := bytes.IndexByte(buf, ' ')
	if end < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(buf[:end]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
