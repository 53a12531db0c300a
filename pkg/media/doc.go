// Package media defines the contracts shared by all container extractors:
// random-access data sources, typed track metadata, timestamped sample
// buffers and the pull-based track read interface.
package media
