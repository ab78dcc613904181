//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd)

package main

import "errors"

func isTerminal(int) bool { return false }

func makeRaw(int) (func(), error) {
	return nil, errors.New("raw mode is not supported on this platform")
}
