//go:build unix && !linux

package procmgr

import "errors"

// waitExited is unsupported here, so exits are reaped by the watcher
func waitExited(ProcessID) error {
	return errors.New("waitid not supported")
}
