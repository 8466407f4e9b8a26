//go:build !linux

package netsock

import "log"

// applyPathMgr is a no-op outside Linux: MPTCP path manager selection is a
// Linux sysctl (§4.6: warn, don't fail).
func applyPathMgr(opts Options) {
	if opts.PathMgr != "" {
		log.Printf("netsock: -pathmgr=%s requested but not supported on this platform, continuing without it", opts.PathMgr)
	}
}
