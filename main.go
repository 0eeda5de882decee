package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"imager/config"
	"imager/notify"
	"imager/serve"
	"imager/video"
	"imager/video/levels"
	"imager/video/metadata"
	"imager/video/sink"
	"imager/video/sink/window"
	"imager/video/source"
	"imager/video/source/cvcapture"
)

func setupLogging(cfg *config.Config) error {
	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: log level: %v", video.ErrConfiguration, err)
	}
	log.SetLevel(lvl)
	if cfg.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func openSource(cfg *config.Config) (source.Source, error) {
	size := image.Pt(cfg.Width, cfg.Height)
	switch cfg.Source {
	case config.SourceCV:
		c, err := cvcapture.Open(cvcapture.Options{
			Device:    cfg.Device,
			Size:      size,
			Framerate: cfg.Framerate,
			Exposure:  cfg.DeviceExposure,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", video.ErrResource, err)
		}
		return c, nil
	default:
		interval := time.Duration(cfg.Exposure * float64(time.Second))
		if cfg.Framerate > 0 {
			interval = time.Duration(float64(time.Second) / cfg.Framerate)
		}
		return source.NewPattern(size, interval), nil
	}
}

func sessionFiles(cfg *config.Config) (*video.Filesystem, *video.SessionFiles, error) {
	dir := cfg.Dir
	if cfg.Out != "" {
		dir = filepath.Dir(cfg.Out)
	}
	fs, err := video.NewFilesystem(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", video.ErrResource, err)
	}
	if cfg.Out != "" {
		files, err := video.FilesFor(cfg.Out)
		return fs, files, err
	}
	files, err := fs.NewRecord(time.Now(), cfg.Name, cfg.Format)
	return fs, files, err
}

// handleSignals stops the session on the first signal and aborts it on the
// second.
func handleSignals(s *video.Session) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			log.Infof("Caught signal %v, finishing session (again to abort)", sig)
			s.Stop()
		case <-s.Done():
			return
		}
		select {
		case sig := <-sigs:
			log.Warnf("Caught signal %v, aborting", sig)
			s.Abort()
		case <-s.Done():
		}
	}()
}

func run(ctx context.Context, cfg config.Config, cfgPath string) error {
	live := levels.NewLive(cfg.LevelWindow())

	fs, files, err := sessionFiles(&cfg)
	if err != nil {
		return err
	}

	src, err := openSource(&cfg)
	if err != nil {
		return err
	}

	mjpegServer := sink.NewMJPEGServer()
	var display sink.Tee
	if cfg.Port > 0 {
		stream, err := mjpegServer.NewStream("default")
		if err != nil {
			src.Teardown()
			return err
		}
		display = append(display, sink.NewPreview(cfg.Name, stream, live))
	}
	if cfg.Window {
		display = append(display, window.New("imager", live))
	}
	var show sink.Sink
	if len(display) > 0 {
		show = display
		defer display.Close()
	}

	session, err := video.NewSession(video.SessionOptions{
		Files:  files,
		Source: src,
		Params: metadata.Params{
			Exposure:  cfg.Exposure,
			Framerate: cfg.Framerate,
			Stimulus:  cfg.Stimulus(),
		},
		Levels:                 live,
		Duration:               cfg.Duration,
		QueueSize:              cfg.QueueSize,
		Compression:            cfg.Compression,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		MinFreeBytes:           cfg.MinFreeBytes,
		Display:                show,
		Thumbnail:              cfg.Thumbnail,
	})
	if err != nil {
		src.Teardown()
		return err
	}

	notifier := &notify.Notifier{}
	mux := http.NewServeMux()
	if cfg.DBDSN != "" {
		db, err := notify.OpenDB(cfg.DBDSN)
		if err != nil {
			src.Teardown()
			return err
		}
		catalog, err := notify.NewCatalog(db)
		if err != nil {
			src.Teardown()
			return err
		}
		notifier.Add(catalog)
		mux.Handle("/catalog", catalog)

		wp, err := notify.NewWebPush(db, notify.WebPushOptions{
			Key: &notify.VAPIDKey{
				Public:  cfg.VAPIDPublicKey,
				Private: cfg.VAPIDPrivateKey,
			},
			Subscriber: cfg.VAPIDSubscriber,
		})
		if err != nil {
			src.Teardown()
			return err
		}
		notifier.Add(wp)
		wp.RegisterHandlers(mux)
	}

	if cfg.Port > 0 {
		mux.Handle("/mjpeg", mjpegServer)
		mux.Handle("/status", &serve.StatusServer{Session: session})
		mux.Handle("/stop", &serve.StopServer{Session: session})
		mux.Handle("/levels", serve.NewLevelUpdater(session, live, cfg.LiveLevels))
		mux.Handle("/sessions", &serve.SessionsServer{FS: fs})
		mux.Handle("/thumb", serve.NewThumbServer(fs))
		mux.Handle("/sidecar", serve.NewSidecarServer(fs))
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/debug/pprof/", http.DefaultServeMux)

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: handlers.LoggingHandler(log.StandardLogger().Writer(), mux),
		}
		go func() {
			log.Infof("Hosting status page on port %d", cfg.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("HTTP server failed: %v", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	if cfg.LiveLevels && cfgPath != "" {
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := config.WatchLevels(wctx, cfgPath, live); err != nil {
			log.Warnf("Not watching %v for level changes: %v", cfgPath, err)
		}
	}

	handleSignals(session)
	r := session.Run(ctx)
	notifier.SessionFinished(r)

	log.WithFields(log.Fields{
		"container": files.ContainerPath,
		"frames":    r.Writer.Written,
		"skipped":   r.Writer.Skipped + int(r.Producer.Skipped),
		"discarded": r.Writer.Discarded,
		"size":      humanize.Bytes(uint64(r.Writer.Bytes)),
		"elapsed":   r.Elapsed.Round(time.Millisecond),
	}).Info("Acquisition complete")
	return r.Err
}

func main() {
	cfg := config.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:   "imager",
		Short: "Acquire 16-bit camera frames into a multi-page image file",
		Long: "imager reads frames from a camera, maps them to 8 bits through a level window " +
			"and appends them to a BigTIFF (or MJPEG AVI) file with a JSON metadata sidecar.",
		Example:       "  imager --source cv --device 0 --exposure 0.05 --duration 30s --dir /data --name mouse1",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if err := setupLogging(&cfg); err != nil {
				return err
			}
			loaded, err := config.Load(cfgPath, cfg, changed)
			if err != nil {
				return err
			}
			if err := setupLogging(&loaded); err != nil {
				return err
			}
			return run(context.Background(), loaded, cfgPath)
		},
	}

	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", "path to a TOML config file")
	f.StringVar(&cfg.Source, "source", cfg.Source, "frame source: pattern or cv")
	f.StringVar(&cfg.Device, "device", cfg.Device, "capture device index or URI (cv source)")
	f.IntVar(&cfg.Width, "width", cfg.Width, "requested frame width")
	f.IntVar(&cfg.Height, "height", cfg.Height, "requested frame height")
	f.Float64Var(&cfg.DeviceExposure, "device-exposure", cfg.DeviceExposure, "exposure passed to the capture driver, in driver units")
	f.StringVar(&cfg.Out, "out", cfg.Out, "output container file (overrides --dir and --name)")
	f.StringVar(&cfg.Dir, "dir", cfg.Dir, "output directory for generated file names")
	f.StringVar(&cfg.Name, "name", cfg.Name, "session name used in generated file names")
	f.StringVar(&cfg.Format, "format", cfg.Format, "container format for generated names: .tif, .btf or .avi")
	f.Float64Var(&cfg.Exposure, "exposure", cfg.Exposure, "exposure time in seconds, required unless --framerate is set; the framerate defaults to its inverse")
	f.Float64Var(&cfg.Framerate, "framerate", cfg.Framerate, "framerate recorded in the metadata (overrides 1/exposure)")
	f.DurationVar(&cfg.Duration, "duration", cfg.Duration, "acquisition time, 0 to run until interrupted")
	f.IntVar(&cfg.Compression, "compression", cfg.Compression, "compression level 0-9")
	f.IntVar(&cfg.LevelMin, "level-min", cfg.LevelMin, "lower bound of the level window")
	f.IntVar(&cfg.LevelMax, "level-max", cfg.LevelMax, "upper bound of the level window")
	f.BoolVar(&cfg.LiveLevels, "live-levels", cfg.LiveLevels, "allow changing the level window while recording")
	f.StringVar(&cfg.Stims, "stims", cfg.Stims, "stimulus descriptor, JSON or plain text")
	f.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "frames buffered between acquisition and writer")
	f.IntVar(&cfg.MaxConsecutiveFailures, "max-failures", cfg.MaxConsecutiveFailures, "consecutive frame failures before giving up, 0 for no limit")
	f.StringVar(&cfg.MinFree, "min-free", cfg.MinFree, "refuse to start with less free disk space, e.g. 2GB")
	f.BoolVar(&cfg.Thumbnail, "thumbnail", cfg.Thumbnail, "write a JPEG thumbnail of the first frame")
	f.IntVar(&cfg.Port, "port", cfg.Port, "port for the status page, 0 to disable")
	f.BoolVar(&cfg.Window, "window", cfg.Window, "show frames in a local window")
	f.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "MySQL DSN for the session catalog and push subscriptions")
	f.StringVar(&cfg.VAPIDPublicKey, "vapid-public-key", cfg.VAPIDPublicKey, "web push public key (generated when empty)")
	f.StringVar(&cfg.VAPIDPrivateKey, "vapid-private-key", cfg.VAPIDPrivateKey, "web push private key")
	f.StringVar(&cfg.VAPIDSubscriber, "vapid-subscriber", cfg.VAPIDSubscriber, "contact address sent to push services")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	f.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "log as JSON")

	root.AddCommand(inspectCmd())

	if err := root.Execute(); err != nil {
		log.Errorf("imager: %v", err)
		os.Exit(1)
	}
}
