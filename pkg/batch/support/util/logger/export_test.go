package logger

// SetExit replaces the process exit function for the duration of a test.
func SetExit(fn func(int)) func() {
	prev := exit
	exit = fn
	return func() { exit = prev }
}
