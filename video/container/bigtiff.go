package container

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
)

// BigTIFF layout constants. BigTIFF uses 64-bit offsets so files may grow
// beyond 4 GiB.
const (
	tiffVersionBig = 43
	tiffHeaderSize = 16

	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPageNumber      = 297

	typeShort = 3
	typeLong  = 4
	typeLong8 = 16

	compressionNone    = 1
	compressionDeflate = 8

	photometricBlackIsZero = 1

	ifdEntrySize = 20
)

var order = binary.LittleEndian

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint64
	value uint64
}

// BigTIFF appends grayscale pages to a BigTIFF file. Each page is written as a
// single strip followed by its IFD; the previous IFD's next pointer is patched
// once the new page is on disk, so a crash leaves a readable (shorter) file.
type BigTIFF struct {
	f     *os.File
	level int

	l        sync.Mutex
	closed   bool
	frames   int
	offset   int64
	nextLink int64
	buf      bytes.Buffer
}

// CreateBigTIFF truncates path and writes the file header. level 0 stores
// pages uncompressed, 1-9 deflates them.
func CreateBigTIFF(path string, level int) (*BigTIFF, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	var hdr [tiffHeaderSize]byte
	copy(hdr[0:2], "II")
	order.PutUint16(hdr[2:4], tiffVersionBig)
	order.PutUint16(hdr[4:6], 8) // offset size
	order.PutUint16(hdr[6:8], 0)
	// hdr[8:16] holds the first IFD offset, patched on the first append.
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		return nil, err
	}

	return &BigTIFF{
		f:        f,
		level:    level,
		offset:   tiffHeaderSize,
		nextLink: 8,
	}, nil
}

func (t *BigTIFF) Append(img *image.Gray) error {
	t.l.Lock()
	defer t.l.Unlock()
	if t.closed {
		return ErrClosed
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("container: empty image")
	}

	t.buf.Reset()
	compression := uint64(compressionNone)
	if t.level > 0 {
		compression = compressionDeflate
		zw, err := zlib.NewWriterLevel(&t.buf, t.level)
		if err != nil {
			return err
		}
		if err := writeRows(zw, img); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
	} else if err := writeRows(&t.buf, img); err != nil {
		return err
	}

	stripOffset := t.offset
	stripLen := int64(t.buf.Len())
	// IFDs must start on a word boundary.
	if stripLen%2 == 1 {
		t.buf.WriteByte(0)
	}
	ifdOffset := stripOffset + int64(t.buf.Len())

	entries := []ifdEntry{
		{tagImageWidth, typeLong, 1, uint64(w)},
		{tagImageLength, typeLong, 1, uint64(h)},
		{tagBitsPerSample, typeShort, 1, 8},
		{tagCompression, typeShort, 1, compression},
		{tagPhotometric, typeShort, 1, photometricBlackIsZero},
		{tagStripOffsets, typeLong8, 1, uint64(stripOffset)},
		{tagSamplesPerPixel, typeShort, 1, 1},
		{tagRowsPerStrip, typeLong, 1, uint64(h)},
		{tagStripByteCounts, typeLong8, 1, uint64(stripLen)},
		// PageNumber holds two shorts: page index and total (0 = unknown).
		{tagPageNumber, typeShort, 2, uint64(t.frames & 0xffff)},
	}
	var scratch [8]byte
	order.PutUint64(scratch[:], uint64(len(entries)))
	t.buf.Write(scratch[:])
	for _, e := range entries {
		var b [ifdEntrySize]byte
		order.PutUint16(b[0:2], e.tag)
		order.PutUint16(b[2:4], e.typ)
		order.PutUint64(b[4:12], e.count)
		order.PutUint64(b[12:20], e.value)
		t.buf.Write(b[:])
	}
	// Next IFD offset, zero until another page is appended.
	order.PutUint64(scratch[:], 0)
	t.buf.Write(scratch[:])

	if _, err := t.f.WriteAt(t.buf.Bytes(), stripOffset); err != nil {
		return err
	}
	order.PutUint64(scratch[:], uint64(ifdOffset))
	if _, err := t.f.WriteAt(scratch[:], t.nextLink); err != nil {
		return err
	}

	t.nextLink = ifdOffset + 8 + int64(len(entries))*ifdEntrySize
	t.offset = stripOffset + int64(t.buf.Len())
	t.frames++
	return nil
}

func writeRows(w io.Writer, img *image.Gray) error {
	width := img.Rect.Dx()
	for y := 0; y < img.Rect.Dy(); y++ {
		start := y * img.Stride
		if _, err := w.Write(img.Pix[start : start+width]); err != nil {
			return err
		}
	}
	return nil
}

func (t *BigTIFF) Frames() int {
	t.l.Lock()
	defer t.l.Unlock()
	return t.frames
}

func (t *BigTIFF) Size() int64 {
	t.l.Lock()
	defer t.l.Unlock()
	return t.offset
}

func (t *BigTIFF) Close() error {
	t.l.Lock()
	defer t.l.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	if err := t.f.Sync(); err != nil {
		t.f.Close()
		return err
	}
	return t.f.Close()
}
