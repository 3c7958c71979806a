package conversation

// Payload is one item to add to the knowledge base. It is consumed once by the
// upload dispatcher and not retained afterwards.
type Payload struct {
	Kind     Kind
	Content  string // KindText
	Href     string // KindURL
	FileName string // KindPDF
	Data     []byte // KindPDF
}

// TextPayload wraps free text.
func TextPayload(content string) Payload {
	return Payload{Kind: KindText, Content: content}
}

// URLPayload wraps a link.
func URLPayload(href string) Payload {
	return Payload{Kind: KindURL, Href: href}
}

// PDFPayload wraps a PDF document.
func PDFPayload(fileName string, data []byte) Payload {
	return Payload{Kind: KindPDF, FileName: fileName, Data: data}
}

// Describe returns a short label for logs and notices. It never includes file bytes.
func (p Payload) Describe() string {
	switch p.Kind {
	case KindText:
		return "text"
	case KindURL:
		return "url " + p.Href
	case KindPDF:
		return "pdf " + p.FileName
	default:
		return "unknown payload"
	}
}
