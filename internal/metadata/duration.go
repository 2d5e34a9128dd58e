package metadata

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// mediaDuration reads the duration of an audio or video file. WAV files
// are parsed natively from the RIFF header; everything else needs
// ffprobe on PATH.
func mediaDuration(ctx context.Context, path string) (time.Duration, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return wavDuration(path)
	}
	return ffprobeDuration(ctx, path)
}

// wavDuration computes duration from the fmt chunk's byte rate and the
// data chunk's size.
func wavDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := f.Read(header); err != nil {
		return 0, err
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, errors.New("not a RIFF/WAVE file")
	}

	var byteRate uint32
	var dataSize uint32
	chunk := make([]byte, 8)
	for {
		if _, err := f.Read(chunk); err != nil {
			break
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			fmtBody := make([]byte, size)
			if _, err := f.Read(fmtBody); err != nil {
				return 0, err
			}
			if size >= 12 {
				byteRate = binary.LittleEndian.Uint32(fmtBody[8:12])
			}
		case "data":
			dataSize = size
			// The data payload itself is not needed.
			if _, err := f.Seek(int64(size), 1); err != nil {
				return 0, err
			}
		default:
			if _, err := f.Seek(int64(size), 1); err != nil {
				return 0, err
			}
		}
		if byteRate > 0 && dataSize > 0 {
			break
		}
	}
	if byteRate == 0 || dataSize == 0 {
		return 0, errors.New("wav header missing fmt or data chunk")
	}
	seconds := float64(dataSize) / float64(byteRate)
	return time.Duration(seconds * float64(time.Second)), nil
}

// ffprobeDuration shells out to ffprobe when available.
func ffprobeDuration(ctx context.Context, path string) (time.Duration, error) {
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		return 0, fmt.Errorf("ffprobe not found on PATH")
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe output %q: %w", out, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
