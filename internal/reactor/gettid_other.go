//go:build !linux

package reactor

// Without thread ids every caller is treated as foreign and all calls are
// marshaled through the switch.
func gettid() int { return 0 }
