//go:build unix

package supervisor

import "github.com/jrepp/prism-supervisor/pkg/procmgr"

func defaultLauncher() (Launcher, error) {
	return procmgr.NewProcessManager(), nil
}
