//go:build !linux

package adapter

import "os"

func openDirect(_ string) (*os.File, error) {
	// Direct I/O is a Linux-only optimization; cached reads are correct
	// everywhere.
	return nil, nil
}

func adviseSequential(_ *os.File) {}

func isAlignmentError(_ error) bool {
	return false
}
