// Package probe sniffs a data source and dispatches to the matching
// container extractor.
package probe

import (
	"errors"
	"fmt"
	"os"

	"demux/pkg/aac"
	"demux/pkg/amr"
	"demux/pkg/avi"
	"demux/pkg/flac"
	"demux/pkg/indexcache"
	"demux/pkg/log"
	"demux/pkg/media"
	"demux/pkg/mpegps"
	"demux/pkg/ogg"
	"demux/pkg/wav"
)

// ErrUnrecognized means no sniffer claimed the source.
var ErrUnrecognized = errors.New("probe: unrecognized format")

// Format couples a sniffer with its extractor constructor.
type Format struct {
	Name  string
	Sniff media.Sniffer
	New   func(media.DataSource) (media.Extractor, error)

	// NewWithSeekTable, when set, constructs from a previously cached
	// seek table instead of scanning the whole file.
	NewWithSeekTable func(media.DataSource, [][2]int64) (media.Extractor, error)

	// NewWithLogger, when set, is preferred over New when the prober
	// carries a logger.
	NewWithLogger func(media.DataSource, *log.Logger) (media.Extractor, error)
}

// Formats returns the built-in formats.
func Formats() []Format {
	return []Format{
		{
			Name:  "amr",
			Sniff: amr.Sniff,
			New: func(src media.DataSource) (media.Extractor, error) {
				return amr.NewExtractor(src)
			},
		},
		{
			Name:  "aac",
			Sniff: aac.Sniff,
			New: func(src media.DataSource) (media.Extractor, error) {
				return aac.NewExtractor(src)
			},
		},
		{
			Name:  "wav",
			Sniff: wav.Sniff,
			New: func(src media.DataSource) (media.Extractor, error) {
				return wav.NewExtractor(src)
			},
		},
		{
			Name:  "ogg",
			Sniff: ogg.Sniff,
			New: func(src media.DataSource) (media.Extractor, error) {
				return ogg.NewExtractor(src)
			},
			NewWithSeekTable: func(src media.DataSource, table [][2]int64) (media.Extractor, error) {
				return ogg.NewExtractorWithSeekTable(src, table)
			},
		},
		{
			Name:  "avi",
			Sniff: avi.Sniff,
			New: func(src media.DataSource) (media.Extractor, error) {
				return avi.NewExtractor(src)
			},
		},
		{
			Name:  "flac",
			Sniff: flac.Sniff,
			New: func(src media.DataSource) (media.Extractor, error) {
				return flac.NewExtractor(src)
			},
		},
		{
			Name:  "mpegps",
			Sniff: mpegps.Sniff,
			New: func(src media.DataSource) (media.Extractor, error) {
				return mpegps.NewExtractor(src)
			},
			NewWithLogger: func(src media.DataSource, logger *log.Logger) (media.Extractor, error) {
				return mpegps.NewExtractorWithLogger(src, logger)
			},
		},
	}
}

// Options configure a Prober. All fields are optional.
type Options struct {
	Formats []Format // Defaults to Formats().
	Enabled []string // Subset of format names, empty means all.
	Cache   *indexcache.Cache
	Logger  *log.Logger
}

// Prober matches sources against a set of formats.
type Prober struct {
	formats []Format
	cache   *indexcache.Cache
	logger  *log.Logger
}

// New returns a Prober for the enabled formats.
func New(opts Options) *Prober {
	formats := opts.Formats
	if formats == nil {
		formats = Formats()
	}
	if len(opts.Enabled) != 0 {
		enabled := make(map[string]bool, len(opts.Enabled))
		for _, name := range opts.Enabled {
			enabled[name] = true
		}
		kept := formats[:0]
		for _, format := range formats {
			if enabled[format.Name] {
				kept = append(kept, format)
			}
		}
		formats = kept
	}
	return &Prober{
		formats: formats,
		cache:   opts.Cache,
		logger:  opts.Logger,
	}
}

// Result is a successful probe. Close releases the underlying file
// when the result came from Probe.
type Result struct {
	Path       string
	FormatName string
	MIME       string
	Confidence float32
	Extractor  media.Extractor

	file *media.FileSource
}

// Close closes the probed file, if any.
func (r *Result) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Probe opens path, sniffs it and constructs the matching extractor.
func (p *Prober) Probe(path string) (*Result, error) {
	src, err := media.OpenFileSource(path)
	if err != nil {
		return nil, err
	}

	var id *indexcache.FileID
	if p.cache != nil {
		if info, err := os.Stat(path); err == nil {
			id = &indexcache.FileID{
				Path:    path,
				Size:    info.Size(),
				ModTime: info.ModTime().Unix(),
			}
		}
	}

	result, err := p.ProbeSource(src, id)
	if err != nil {
		src.Close()
		return nil, err
	}
	result.Path = path
	result.file = src
	return result, nil
}

// ProbeSource sniffs src and constructs the matching extractor. A
// non-nil id enables the seek-table cache for formats that support it.
func (p *Prober) ProbeSource(src media.DataSource, id *indexcache.FileID) (*Result, error) {
	type sniffResult struct {
		mime       string
		confidence float32
		ok         bool
	}

	results := make([]sniffResult, len(p.formats))
	sniffers := make([]media.Sniffer, len(p.formats))
	for i := range p.formats {
		i := i
		sniff := p.formats[i].Sniff
		sniffers[i] = func(src media.DataSource) (string, float32, bool) {
			r := sniffResult{}
			r.mime, r.confidence, r.ok = sniff(src)
			results[i] = r
			return r.mime, r.confidence, r.ok
		}
	}

	bestMIME, bestConfidence, ok := media.Sniff(src, sniffers...)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrUnrecognized, media.ErrUnsupported)
	}

	// Map the winning sniff back to its format. Sniff keeps the first
	// of equal-confidence matches, so take the first that agrees.
	var best *Format
	for i := range p.formats {
		r := results[i]
		if r.ok && r.mime == bestMIME && r.confidence == bestConfidence {
			best = &p.formats[i]
			break
		}
	}
	p.logf("sniffed as %v (%.2f)", bestMIME, bestConfidence)

	extractor, err := p.construct(best, src, id)
	if err != nil {
		return nil, fmt.Errorf("probe: %v: %w", best.Name, err)
	}

	return &Result{
		FormatName: best.Name,
		MIME:       bestMIME,
		Confidence: bestConfidence,
		Extractor:  extractor,
	}, nil
}

func (p *Prober) construct(
	format *Format,
	src media.DataSource,
	id *indexcache.FileID,
) (media.Extractor, error) {
	useCache := p.cache != nil && id != nil && format.NewWithSeekTable != nil

	if useCache {
		entries, err := p.cache.Load(*id)
		if err != nil {
			p.logf("seek-table load: %v", err)
		} else if entries != nil {
			p.logf("seek table restored, %v entries", len(entries))
			return format.NewWithSeekTable(src, entriesToTable(entries))
		}
	}

	newExtractor := format.New
	if p.logger != nil && format.NewWithLogger != nil {
		newExtractor = func(src media.DataSource) (media.Extractor, error) {
			return format.NewWithLogger(src, p.logger)
		}
	}
	extractor, err := newExtractor(src)
	if err != nil {
		return nil, err
	}

	if useCache {
		if indexed, ok := extractor.(interface{ SeekTable() [][2]int64 }); ok {
			entries := tableToEntries(indexed.SeekTable())
			if err := p.cache.Save(*id, entries); err != nil {
				p.logf("seek-table save: %v", err)
			}
		}
	}
	return extractor, nil
}

func (p *Prober) logf(format string, v ...interface{}) {
	if p.logger == nil {
		return
	}
	p.logger.Debug().Src("probe").Msgf(format, v...)
}

func entriesToTable(entries []indexcache.Entry) [][2]int64 {
	table := make([][2]int64, len(entries))
	for i, entry := range entries {
		table[i] = [2]int64{entry.TimeUs, entry.Offset}
	}
	return table
}

func tableToEntries(table [][2]int64) []indexcache.Entry {
	entries := make([]indexcache.Entry, len(table))
	for i, pair := range table {
		entries[i] = indexcache.Entry{TimeUs: pair[0], Offset: pair[1]}
	}
	return entries
}
