//go:build !unix

package main

func setSockopt(fd uintptr) error {
	return nil
}
