//go:build linux

package nbserver

import (
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// OpenFilesLimit returns the soft RLIMIT_NOFILE of the process.
func OpenFilesLimit() (int, error) {
	limit := &unix.Rlimit{}
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, limit); err != nil {
		return 0, os.NewSyscallError("getrlimit", err)
	}
	if limit.Cur > uint64(maxInt) {
		return maxInt, nil
	}
	return int(limit.Cur), nil
}

// RaiseOpenFilesLimit lifts the soft RLIMIT_NOFILE up to the hard limit.
func RaiseOpenFilesLimit() {
	limit := &unix.Rlimit{}
	err := unix.Getrlimit(unix.RLIMIT_NOFILE, limit)
	if err != nil {
		log.Error().Msgf("error occur while getting OS limit of open files: %+v", err)
		return
	}
	if limit.Cur >= limit.Max {
		return
	}
	current := limit.Cur
	limit.Cur = limit.Max
	err = unix.Setrlimit(unix.RLIMIT_NOFILE, limit)
	if err != nil {
		log.Error().Msgf("error occur while raising OS limit of open files: %+v", err)
		return
	}
	log.Info().Msgf("raised open files limit from %d to %d", current, limit.Max)
}
