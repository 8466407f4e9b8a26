//go:build !linux

package netsock

import (
	"log"

	"github.com/ishidawataru/sctp"
)

// applyCMT is a no-op outside Linux: CMT is a Linux-only kernel patch, so
// every platform here behaves like "system lacks CMT" (§4.6: warn, don't
// fail).
func applyCMT(conn *sctp.SCTPConn, opts Options) {
	if opts.CMT != 0 {
		log.Printf("netsock: CMT requested but not supported on this platform, continuing without it")
	}
}
