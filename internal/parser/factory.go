package parser

// MessageIDReliability is a format's declared expectation that extracted
// message-ids are present and stable across re-exports.
type MessageIDReliability string

const (
	ReliabilityHigh   MessageIDReliability = "high"
	ReliabilityMedium MessageIDReliability = "medium"
	ReliabilityNone   MessageIDReliability = "none"
)

// formatReliability and formatCeiling are lookup tables, not validation:
// the orchestrator consults them when fusing confidence, parsers never
// enforce them.
var formatReliability = map[Format]MessageIDReliability{
	FormatEML:  ReliabilityHigh,
	FormatMbox: ReliabilityHigh,
	FormatPST:  ReliabilityMedium,
	FormatTxt:  ReliabilityNone,
}

var formatCeiling = map[Format]int{
	FormatEML:  100,
	FormatMbox: 90,
	FormatPST:  80,
	FormatTxt:  60,
}

// Reliability returns the message-id reliability expectation for a format.
func Reliability(f Format) MessageIDReliability {
	if r, ok := formatReliability[f]; ok {
		return r
	}
	return ReliabilityNone
}

// ConfidenceCeiling returns the cap a format imposes on items derived
// from its messages.
func ConfidenceCeiling(f Format) int {
	if c, ok := formatCeiling[f]; ok {
		return c
	}
	return 60
}

// Factory resolves a parser for a path by probing CanParse across the
// registered parsers in a fixed priority order.
type Factory struct {
	parsers []Parser
}

// NewFactory registers the built-in parsers. Priority order is fixed:
// eml, mbox, pst, txt.
func NewFactory() *Factory {
	return &Factory{
		parsers: []Parser{
			NewEMLParser(),
			NewMboxParser(),
			NewPSTParser(),
			NewTxtParser(),
		},
	}
}

// ForPath returns the first parser accepting the path, or an
// UnsupportedFormatError enumerating the accepted extensions.
func (f *Factory) ForPath(path string) (Parser, error) {
	for _, p := range f.parsers {
		if p.CanParse(path) {
			return p, nil
		}
	}
	return nil, &UnsupportedFormatError{
		Path:     path,
		Accepted: []string{".eml", ".mbox", ".pst", ".txt"},
	}
}

// Messages parses a path, expanding multi-message containers. For
// single-message formats the result has exactly one element.
func (f *Factory) Messages(path string) ([]*ParsedEmail, error) {
	p, err := f.ForPath(path)
	if err != nil {
		return nil, err
	}
	if c, ok := p.(ContainerParser); ok {
		return c.Messages(path)
	}
	e, err := p.Parse(path)
	if err != nil {
		return nil, err
	}
	return []*ParsedEmail{e}, nil
}
