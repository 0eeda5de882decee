package container

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
)

var ErrFormat = errors.New("container: not a BigTIFF grayscale file")

// Page describes one image stored in a BigTIFF file.
type Page struct {
	Width, Height int
	Compression   int
	Offset        int64
	Length        int64
}

// Reader reads pages back from a file written by BigTIFF.
type Reader struct {
	f     io.ReaderAt
	Pages []Page
}

// ReadBigTIFF parses the IFD chain of path. Call Close when done.
func ReadBigTIFF(path string) (*Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, f.Close, nil
}

func NewReader(f io.ReaderAt) (*Reader, error) {
	var hdr [tiffHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if string(hdr[0:2]) != "II" || order.Uint16(hdr[2:4]) != tiffVersionBig || order.Uint16(hdr[4:6]) != 8 {
		return nil, ErrFormat
	}

	r := &Reader{f: f}
	next := int64(order.Uint64(hdr[8:16]))
	seen := map[int64]bool{}
	for next != 0 {
		if seen[next] {
			return nil, fmt.Errorf("%w: IFD loop at %d", ErrFormat, next)
		}
		seen[next] = true

		page, after, err := r.readIFD(next)
		if err != nil {
			return nil, err
		}
		r.Pages = append(r.Pages, page)
		next = after
	}
	return r, nil
}

func (r *Reader) readIFD(off int64) (Page, int64, error) {
	var b [8]byte
	if _, err := r.f.ReadAt(b[:], off); err != nil {
		return Page{}, 0, err
	}
	n := int64(order.Uint64(b[:]))
	if n <= 0 || n > 4096 {
		return Page{}, 0, fmt.Errorf("%w: bad IFD entry count %d", ErrFormat, n)
	}
	raw := make([]byte, n*ifdEntrySize+8)
	if _, err := r.f.ReadAt(raw, off+8); err != nil {
		return Page{}, 0, err
	}

	p := Page{Compression: compressionNone}
	bits, spp := 8, 1
	for i := int64(0); i < n; i++ {
		e := raw[i*ifdEntrySize : (i+1)*ifdEntrySize]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		var v int64
		switch typ {
		case typeShort:
			v = int64(order.Uint16(e[12:14]))
		case typeLong:
			v = int64(order.Uint32(e[12:16]))
		default:
			v = int64(order.Uint64(e[12:20]))
		}
		switch tag {
		case tagImageWidth:
			p.Width = int(v)
		case tagImageLength:
			p.Height = int(v)
		case tagBitsPerSample:
			bits = int(v)
		case tagSamplesPerPixel:
			spp = int(v)
		case tagCompression:
			p.Compression = int(v)
		case tagStripOffsets:
			p.Offset = v
		case tagStripByteCounts:
			p.Length = v
		}
	}
	if bits != 8 || spp != 1 || p.Width <= 0 || p.Height <= 0 {
		return Page{}, 0, fmt.Errorf("%w: page %dx%d, %d bits, %d samples", ErrFormat, p.Width, p.Height, bits, spp)
	}
	next := int64(order.Uint64(raw[n*ifdEntrySize:]))
	return p, next, nil
}

// Image decodes page i.
func (r *Reader) Image(i int) (*image.Gray, error) {
	if i < 0 || i >= len(r.Pages) {
		return nil, fmt.Errorf("container: page %d out of range", i)
	}
	p := r.Pages[i]
	data := make([]byte, p.Length)
	if _, err := r.f.ReadAt(data, p.Offset); err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	switch p.Compression {
	case compressionNone:
		if len(data) < len(img.Pix) {
			return nil, fmt.Errorf("%w: short strip on page %d", ErrFormat, i)
		}
		copy(img.Pix, data)
	case compressionDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		if _, err := io.ReadFull(zr, img.Pix); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrFormat, p.Compression)
	}
	return img, nil
}
