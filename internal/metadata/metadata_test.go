package metadata

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/loupehq/loupe/internal/store"
)

func TestExtractDefaults(t *testing.T) {
	e := New(nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "mystery.bin")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	m := e.Extract(context.Background(), path)
	assert.Equal(t, store.FileTypeOther, m.FileType)
	assert.Equal(t, "mystery", m.Title)
	assert.Zero(t, m.PageCount)
	assert.Zero(t, m.Duration)
}

func TestExtractImageDimensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pic.png")

	img := image.NewRGBA(image.Rect(0, 0, 20, 15))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	m := New(nil).Extract(context.Background(), path)
	assert.Equal(t, store.FileTypeImage, m.FileType)
	assert.Equal(t, 20, m.Width)
	assert.Equal(t, 15, m.Height)
}

func TestExtractCorruptImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("not a png"), 0o644))

	m := New(nil).Extract(context.Background(), path)
	assert.Equal(t, store.FileTypeImage, m.FileType)
	assert.Zero(t, m.Width)
	assert.Zero(t, m.Height)
}

// buildWAV writes a minimal PCM WAV file with the given byte rate and
// data size.
func buildWAV(t *testing.T, path string, byteRate, dataSize uint32) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // mono
	binary.Write(&buf, binary.LittleEndian, uint32(16000))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestExtractWAVDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	// 32000 bytes/s and 96000 bytes of data is exactly 3 seconds.
	buildWAV(t, path, 32000, 96000)

	m := New(nil).Extract(context.Background(), path)
	assert.Equal(t, store.FileTypeAudio, m.FileType)
	assert.Equal(t, 3*time.Second, m.Duration)
}

func TestWAVDurationRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fake.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not riff data"), 0o644))

	_, err := wavDuration(path)
	assert.Error(t, err)
}

func TestExtractXLSXSheetCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.xlsx")

	f := excelize.NewFile()
	_, err := f.NewSheet("Expenses")
	require.NoError(t, err)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	m := New(nil).Extract(context.Background(), path)
	assert.Equal(t, store.FileTypeDocument, m.FileType)
	assert.Equal(t, 2, m.SheetCount)
}

func TestExtractCorruptPDF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 truncated"), 0o644))

	m := New(nil).Extract(context.Background(), path)
	assert.Equal(t, store.FileTypePDF, m.FileType)
	assert.Zero(t, m.PageCount)
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, " hello  world ", stripTags("<w:p>hello</w:p><w:p>world</w:p>"))
	assert.Equal(t, "plain", stripTags("plain"))
}
