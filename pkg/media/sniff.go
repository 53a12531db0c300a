package media

// Sniffer inspects a small fixed prefix of src and reports the container
// MIME type it recognizes, with a confidence in [0,1]. Sniffers never
// fail: a sniff that does not match returns ok == false.
type Sniffer func(src DataSource) (mime string, confidence float32, ok bool)

// Sniff runs every sniffer and returns the highest-confidence match.
// Container sniffers score above bare elementary-stream syncs, so an AVI
// file carrying MP3 audio resolves to AVI.
func Sniff(src DataSource, sniffers ...Sniffer) (string, float32, bool) {
	var bestMIME string
	var bestConfidence float32
	for _, sniff := range sniffers {
		mime, confidence, ok := sniff(src)
		if !ok {
			continue
		}
		if confidence > bestConfidence {
			bestMIME = mime
			bestConfidence = confidence
		}
	}
	return bestMIME, bestConfidence, bestMIME != ""
}
