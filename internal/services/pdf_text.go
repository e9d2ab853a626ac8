package services

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxUploadBytes bounds an uploaded PDF before its text layer is extracted.
const MaxUploadBytes = 10 << 20

// ExtractPDFText returns the text layer of a PDF. Scanned documents without
// a text layer, and files the parser cannot read, are rejected as invalid.
func ExtractPDFText(data []byte) (text string, err error) {
	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", NewInvalidError(fmt.Sprintf("could not read the PDF: %v", r))
		}
	}()
	rd, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", NewInvalidError("could not read the PDF: " + err.Error())
	}
	plain, err := rd.GetPlainText()
	if err != nil {
		return "", NewInvalidError("could not read the PDF: " + err.Error())
	}
	b, err := io.ReadAll(io.LimitReader(plain, MaxReportBytes+1))
	if err != nil {
		return "", NewInvalidError("could not read the PDF: " + err.Error())
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", NewInvalidError("could not extract any text from the PDF")
	}
	return string(b), nil
}
