//go:build linux

package netsock

import (
	"log"
	"os"
)

// mptcpPathManagerSysctl is where Linux exposes the MPTCP path manager
// selection. Multipath TCP has no per-socket setsockopt for this (unlike
// CMT's SCTP_CMT_ON_OFF); it is a host-wide sysctl, so applyPathMgr is
// best-effort and shared across every MPTCP socket the process opens.
const mptcpPathManagerSysctl = "/proc/sys/net/mptcp/mptcp_path_manager"

// applyPathMgr sets the MPTCP path manager (§4.6's -pathmgr). Absent or
// unwritable on kernels without the sysctl (e.g. newer kernels that moved
// path-manager selection to the "ip mptcp" netlink genl family instead),
// in which case this warns rather than failing the connection.
func applyPathMgr(opts Options) {
	if opts.PathMgr == "" {
		return
	}
	if err := os.WriteFile(mptcpPathManagerSysctl, []byte(opts.PathMgr), 0644); err != nil {
		log.Printf("netsock: -pathmgr=%s not applied (%v), continuing with the kernel default", opts.PathMgr, err)
	}
}
