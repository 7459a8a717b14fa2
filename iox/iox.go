// Package iox provides small I/O cleanup helpers.
package iox

import "io"

// DiscardClose closes c and discards the error. Intended for defer
// statements where a close failure has no useful handling:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseAll closes every closer in order, discarding errors.
func CloseAll[C io.Closer](closers ...C) {
	for _, c := range closers {
		_ = c.Close()
	}
}
