package pandoc

// Format support tables: which output formats each input extension can be
// converted to, and which pandoc reader handles each input extension.

const (
	DefaultOutput = "docx"
	DefaultReader = "markdown"
)

var supportedOutputs = map[string][]string{
	"md":       {"docx", "pdf", "html", "odt", "rtf", "tex", "epub"},
	"markdown": {"docx", "pdf", "html", "odt", "rtf", "tex", "epub"},
	"txt":      {"docx", "pdf", "html", "odt", "rtf", "tex", "epub"},
	"docx":     {"md", "pdf", "html", "odt", "rtf", "tex"},
	"html":     {"md", "pdf", "docx", "odt"},
	"htm":      {"md", "pdf", "docx", "odt"},
	"tex":      {"pdf", "docx", "md"},
	"rtf":      {"md", "docx", "pdf"},
	"odt":      {"md", "docx", "pdf"},
	"epub":     {"md", "docx", "pdf"},
}

var inputReaders = map[string]string{
	"md":       "markdown",
	"markdown": "markdown",
	"txt":      "markdown",
	"docx":     "docx",
	"html":     "html",
	"htm":      "html",
	"rtf":      "rtf",
	"odt":      "odt",
	"tex":      "latex",
	"epub":     "epub",
}

// AllowedOutputs returns the output formats supported for an input
// extension. Unknown extensions are treated as markdown-ish, so only the
// default output is offered.
func AllowedOutputs(inputExt string) []string {
	if outs, ok := supportedOutputs[inputExt]; ok {
		return outs
	}
	return []string{DefaultOutput}
}

// ReaderFor maps an input extension to a pandoc reader name.
func ReaderFor(ext string) string {
	if r, ok := inputReaders[ext]; ok {
		return r
	}
	return DefaultReader
}

// OutputSupported reports whether the requested output format is valid for
// the given input extension.
func OutputSupported(inputExt, output string) bool {
	for _, o := range AllowedOutputs(inputExt) {
		if o == output {
			return true
		}
	}
	return false
}
