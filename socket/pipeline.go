package socket

// ParsedMessage is the typed, dispatchable envelope the pipeline produces
// for every inbound frame that is not classified as unparseable
// (SPEC_FULL.md §4.1).
type ParsedMessage struct {
	// Identifiers are the routing keys this message claims; always
	// non-empty for a successfully parsed message.
	Identifiers []string

	// Raw is the (post-interceptor) byte payload, kept so each recipient
	// can decode it with its own TypeMapping.
	Raw []byte
}

// IdentifyFunc extracts routing identifiers from a raw (post-interceptor)
// message. It must be deterministic and total: it either returns one or
// more identifiers, or ok=false to classify the frame as unparseable.
// Identification is exchange-specific and supplied by the caller
// constructing the Client (SPEC_FULL.md §4.1).
type IdentifyFunc func(raw []byte) (identifiers []string, ok bool)

// Pipeline interprets raw inbound messages in three stages: pre-process
// (handled upstream by the transport's interceptor), identify, and
// type-resolve+decode (handled by the Connection's dispatcher, since
// decoding is per-recipient).
type Pipeline struct {
	identify IdentifyFunc
}

func NewPipeline(identify IdentifyFunc) *Pipeline {
	return &Pipeline{identify: identify}
}

// Parse runs the identify stage. Returns ok=false for an unparseable frame.
func (p *Pipeline) Parse(raw []byte) (ParsedMessage, bool) {
	ids, ok := p.identify(raw)
	if !ok || len(ids) == 0 {
		return ParsedMessage{}, false
	}
	return ParsedMessage{Identifiers: ids, Raw: raw}, true
}
