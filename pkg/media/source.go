package media

// SeekMode selects which sample a time-based seek resolves to.
type SeekMode int

// Seek modes.
const (
	// SeekClosestSync picks the sync sample nearest the requested time.
	SeekClosestSync SeekMode = iota

	// SeekPreviousSync picks the last sync sample at or before the
	// requested time.
	SeekPreviousSync

	// SeekNextSync picks the first sync sample at or after the requested
	// time.
	SeekNextSync

	// SeekClosest picks the nearest sample regardless of sync flags.
	SeekClosest
)

// ReadOptions carries per-call read parameters. The zero value means
// sequential. Never persisted across calls by the track.
type ReadOptions struct {
	seekTimeUs int64
	seekMode   SeekMode
	hasSeek    bool
}

// SetSeekTo requests a seek to timeUs before the next sample is returned.
func (o *ReadOptions) SetSeekTo(timeUs int64, mode SeekMode) {
	o.seekTimeUs = timeUs
	o.seekMode = mode
	o.hasSeek = true
}

// ClearSeekTo resets the options to sequential.
func (o *ReadOptions) ClearSeekTo() {
	o.hasSeek = false
}

// SeekTo returns the pending seek request, if any.
func (o *ReadOptions) SeekTo() (int64, SeekMode, bool) {
	return o.seekTimeUs, o.seekMode, o.hasSeek
}

// Track is one elementary stream of a container. A track may be started
// and stopped multiple times; Read before Start is a caller error.
// Sibling tracks of one extractor must not be read concurrently.
type Track interface {
	// Format returns the track metadata.
	Format() *MetaData

	Start() error
	Stop() error

	// Read returns the next sample, honoring a pending seek in opts.
	// A nil opts means sequential. Returns ErrEndOfStream at the end.
	Read(opts *ReadOptions) (*Buffer, error)
}

// Extractor is a parsed container exposing its elementary streams.
type Extractor interface {
	// TrackCount returns the number of usable tracks. A rejected
	// container has zero tracks.
	TrackCount() int

	// Track returns track i, or nil if out of range.
	Track(i int) Track

	// TrackMetaData returns the metadata of track i without
	// instantiating it.
	TrackMetaData(i int) *MetaData

	// MetaData returns container-level metadata (container MIME,
	// file tags).
	MetaData() *MetaData
}
