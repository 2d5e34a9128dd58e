//go:build linux

package scanner

import (
	"io/fs"
	"syscall"
	"time"
)

// ctime returns the inode change time, the closest thing Linux exposes
// to a creation time.
func ctime(info fs.FileInfo) time.Time {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	}
	return info.ModTime()
}
