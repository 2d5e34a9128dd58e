//go:build darwin

package scanner

import (
	"io/fs"
	"syscall"
	"time"
)

// ctime returns the file birth time.
func ctime(info fs.FileInfo) time.Time {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Birthtimespec.Sec, st.Birthtimespec.Nsec)
	}
	return info.ModTime()
}
