package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"demux/pkg/indexcache"
	"demux/pkg/log"
	"demux/pkg/media"
	"demux/pkg/probe"

	"github.com/spf13/cobra"
)

// Cached seek tables kept before the oldest is evicted.
const cacheMaxTables = 64

func newRootCommand() *cobra.Command {
	var (
		configPath string
		samples    int
		seek       time.Duration
		useCache   bool
		verbose    bool
		formats    []string
	)

	cmd := &cobra.Command{
		Use:           "mediaprobe [flags] <file>...",
		Short:         "Inspect media containers and their tracks.",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &config{}
			if configPath != "" {
				loaded, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("samples") {
				cfg.Samples = samples
			}
			if cmd.Flags().Changed("formats") {
				cfg.Formats = formats
			}
			if cmd.Flags().Changed("verbose") {
				cfg.Verbose = verbose
			}
			if useCache && cfg.CachePath == "" {
				path, err := defaultCachePath()
				if err != nil {
					return fmt.Errorf("cache path: %w", err)
				}
				cfg.CachePath = path
			}
			if !useCache {
				cfg.CachePath = ""
			}

			return run(cmd, args, cfg, seek)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "yaml probe configuration")
	cmd.Flags().IntVar(&samples, "samples", 0, "walk the first N samples of each track")
	cmd.Flags().DurationVar(&seek, "seek", 0, "exercise every seek mode at this position")
	cmd.Flags().BoolVar(&useCache, "cache", false, "cache seek tables between runs")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "debug logging")
	cmd.Flags().StringSliceVar(&formats, "formats", nil, "restrict to these formats")

	return cmd
}

func run(cmd *cobra.Command, files []string, cfg *config, seek time.Duration) error {
	ctx, cancel := context.WithCancel(cmd.Context())

	level := log.LevelInfo
	if cfg.Verbose {
		level = log.LevelDebug
	}
	wg := &sync.WaitGroup{}
	logger := log.NewLogger(level, wg)
	logger.Start(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	stderr := cmd.ErrOrStderr()
	go logger.LogToStderr(ctx, func(line string) {
		fmt.Fprintln(stderr, line)
	})

	var cache *indexcache.Cache
	if cfg.CachePath != "" {
		var err error
		cache, err = indexcache.Open(cfg.CachePath)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		defer cache.Close()
		if err := cache.Prune(cacheMaxTables); err != nil {
			logger.Warn().Src("cache").Msgf("prune: %v", err)
		}
	}

	prober := probe.New(probe.Options{
		Enabled: cfg.Formats,
		Cache:   cache,
		Logger:  logger,
	})

	stdout := cmd.OutOrStdout()
	var firstErr error
	for _, path := range files {
		if err := probeFile(stdout, prober, path, cfg.Samples, seek); err != nil {
			logger.Error().File(path).Msg(err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func probeFile(w io.Writer, prober *probe.Prober, path string, samples int, seek time.Duration) error {
	result, err := prober.Probe(path)
	if err != nil {
		return err
	}
	defer result.Close()

	printReport(w, result)

	ext := result.Extractor
	if samples > 0 {
		for i := 0; i < ext.TrackCount(); i++ {
			if err := walkSamples(w, ext.Track(i), i, samples); err != nil {
				return err
			}
		}
	}
	if seek > 0 && ext.TrackCount() > 0 {
		if err := exerciseSeek(w, ext.Track(0), seek.Microseconds()); err != nil {
			return err
		}
	}
	return nil
}

func printReport(w io.Writer, result *probe.Result) {
	fmt.Fprintf(w, "%v: %v (%v, confidence %.2f)\n",
		result.Path, result.MIME, result.FormatName, result.Confidence)

	printMetaData(w, "  ", result.Extractor.MetaData())
	for i := 0; i < result.Extractor.TrackCount(); i++ {
		fmt.Fprintf(w, "  track %d:\n", i)
		printMetaData(w, "    ", result.Extractor.TrackMetaData(i))
	}
}

func printMetaData(w io.Writer, indent string, meta *media.MetaData) {
	if meta == nil {
		return
	}
	for _, key := range meta.Keys() {
		value, _ := meta.Value(key)
		if blob, ok := value.([]byte); ok {
			fmt.Fprintf(w, "%v%v: %d bytes\n", indent, key, len(blob))
			continue
		}
		fmt.Fprintf(w, "%v%v: %v\n", indent, key, value)
	}
}

func walkSamples(w io.Writer, track media.Track, index, count int) error {
	if err := track.Start(); err != nil {
		return err
	}
	defer track.Stop()

	for n := 0; n < count; n++ {
		buf, err := track.Read(nil)
		if errors.Is(err, media.ErrEndOfStream) {
			break
		}
		if err != nil {
			return fmt.Errorf("track %d: %w", index, err)
		}
		fmt.Fprintf(w, "  track %d sample %d: time=%vus size=%v sync=%v\n",
			index, n, buf.TimeUs, len(buf.Data), buf.SyncFrame)
		buf.Release()
	}
	return nil
}

func exerciseSeek(w io.Writer, track media.Track, timeUs int64) error {
	modes := []struct {
		name string
		mode media.SeekMode
	}{
		{"closestSync", media.SeekClosestSync},
		{"previousSync", media.SeekPreviousSync},
		{"nextSync", media.SeekNextSync},
		{"closest", media.SeekClosest},
	}

	if err := track.Start(); err != nil {
		return err
	}
	defer track.Stop()

	for _, m := range modes {
		var opts media.ReadOptions
		opts.SetSeekTo(timeUs, m.mode)

		buf, err := track.Read(&opts)
		if errors.Is(err, media.ErrUnsupported) {
			fmt.Fprintf(w, "  seek %v: unsupported\n", m.name)
			continue
		}
		if errors.Is(err, media.ErrEndOfStream) {
			fmt.Fprintf(w, "  seek %v: end of stream\n", m.name)
			continue
		}
		if err != nil {
			return fmt.Errorf("seek %v: %w", m.name, err)
		}
		fmt.Fprintf(w, "  seek %v: landed at %vus\n", m.name, buf.TimeUs)
		buf.Release()
	}
	return nil
}
