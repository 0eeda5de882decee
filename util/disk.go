package util

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
)

var ErrLowDisk = errors.New("util: not enough free disk space")

type DiskStatus struct {
	Path        string  `json:"path"`
	Free        uint64  `json:"free"`
	Total       uint64  `json:"total"`
	UsedPercent float64 `json:"usedPercent"`
}

func (s DiskStatus) String() string {
	return fmt.Sprintf("%v free of %v on %v", humanize.Bytes(s.Free), humanize.Bytes(s.Total), s.Path)
}

func DiskUsage(path string) (DiskStatus, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskStatus{}, err
	}
	return DiskStatus{
		Path:        path,
		Free:        usage.Free,
		Total:       usage.Total,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// CheckFree fails with ErrLowDisk when the filesystem holding path has less
// than min bytes available.
func CheckFree(path string, min uint64) (DiskStatus, error) {
	s, err := DiskUsage(path)
	if err != nil {
		return s, err
	}
	if s.Free < min {
		return s, fmt.Errorf("%w: %v, need %v", ErrLowDisk, s, humanize.Bytes(min))
	}
	return s, nil
}
