//go:build linux

package netsock

import (
	"log"

	"github.com/ishidawataru/sctp"
	"golang.org/x/sys/unix"
)

// sctpCMTOnOff is SCTP_CMT_ON_OFF's optname under IPPROTO_SCTP on kernels
// carrying the CMT (concurrent multipath transfer) patch set. It is not
// part of golang.org/x/sys/unix's generated constants since CMT never
// landed in mainline Linux, so it is hard-coded here as the original
// project does in its own sockopt header.
const sctpCMTOnOff = 108

// applyCMT sets SCTP_CMT_ON_OFF (§4.6: "warn rather than fail if the
// system lacks CMT").
func applyCMT(conn *sctp.SCTPConn, opts Options) {
	if opts.CMT == 0 {
		return
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		log.Printf("netsock: CMT: obtaining raw conn: %v", err)
		return
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_SCTP, sctpCMTOnOff, int(opts.CMT))
	})
	if err == nil {
		err = sockErr
	}
	if err != nil {
		log.Printf("netsock: CMT not supported on this system, continuing without it: %v", err)
	}
}
