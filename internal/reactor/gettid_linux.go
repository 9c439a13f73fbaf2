//go:build linux

package reactor

import "golang.org/x/sys/unix"

func gettid() int { return unix.Gettid() }
