package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"imager/video"
	"imager/video/container"
	"imager/video/metadata"
)

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the frame count, size and metadata of a recorded session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0])
		},
	}
}

func inspect(w io.Writer, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%v: %v\n", path, humanize.Bytes(uint64(fi.Size())))

	switch strings.ToLower(filepath.Ext(path)) {
	case container.ExtTIFF, container.ExtTIF, container.ExtBTF:
		r, closeFn, err := container.ReadBigTIFF(path)
		if err != nil {
			return err
		}
		defer closeFn()
		fmt.Fprintf(w, "frames: %d\n", len(r.Pages))
		if len(r.Pages) > 0 {
			p := r.Pages[0]
			fmt.Fprintf(w, "geometry: %dx%d, compression %d\n", p.Width, p.Height, p.Compression)
		}
	}

	files, err := video.FilesFor(path)
	if err != nil {
		return err
	}
	rec, err := metadata.ReadFile(files.SidecarPath)
	if err != nil {
		fmt.Fprintf(w, "metadata: %v\n", err)
		return nil
	}
	js, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "metadata (%v):\n%s\n", files.SidecarPath, js)
	return nil
}
