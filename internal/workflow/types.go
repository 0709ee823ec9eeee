package workflow

// Kind distinguishes the two installable unit families a workflow can
// reference.
type Kind string

const (
	KindExtension Kind = "extension"
	KindModel     Kind = "model"
)

// Reference is a single dependency recovered from a workflow document.
// References are ephemeral: produced per parse, discarded after resolution.
type Reference struct {
	Identifier  string // node type name, or model base filename
	Kind        Kind
	NodeID      string // id of the referring node, for diagnostics
	EmbeddedURL string // bracket-embedded source URL, if present
}

// Warning records a malformed field that was skipped during parsing.
// Warnings never fail a parse.
type Warning struct {
	NodeID string
	Field  string
	Reason string
}

// ScanResult is the outcome of parsing one workflow document.
type ScanResult struct {
	References []Reference
	Warnings   []Warning
}

// Extensions returns the extension references in result order.
func (r *ScanResult) Extensions() []Reference {
	return r.byKind(KindExtension)
}

// Models returns the model references in result order.
func (r *ScanResult) Models() []Reference {
	return r.byKind(KindModel)
}

func (r *ScanResult) byKind(k Kind) []Reference {
	var out []Reference
	for _, ref := range r.References {
		if ref.Kind == k {
			out = append(out, ref)
		}
	}
	return out
}
