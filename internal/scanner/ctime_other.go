//go:build !linux && !darwin

package scanner

import (
	"io/fs"
	"time"
)

func ctime(info fs.FileInfo) time.Time {
	return info.ModTime()
}
