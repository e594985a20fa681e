package chunk

import "bytes"

// binarySniffLen bounds how much of a file is inspected for binary
// content.
const binarySniffLen = 8000

// IsBinary reports whether content looks like binary data: a NUL byte
// in the sniff window, or more than 10% non-printable non-whitespace
// bytes.
func IsBinary(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	window := content
	if len(window) > binarySniffLen {
		window = window[:binarySniffLen]
	}

	if bytes.IndexByte(window, 0) >= 0 {
		return true
	}

	nonPrintable := 0
	for _, b := range window {
		if b == '\n' || b == '\r' || b == '\t' {
			continue
		}
		if b < 0x20 || b == 0x7f {
			nonPrintable++
		}
	}
	return nonPrintable*10 > len(window)
}
