//go:build !unix

package supervisor

func defaultLauncher() (Launcher, error) {
	return nil, NewError(ErrorCodeUnsupportedOperation, "no process launcher for this platform").
		WithSuggestion("Pass one with WithLauncher")
}
