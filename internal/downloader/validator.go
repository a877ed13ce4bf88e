package downloader

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/italolelis/sgx_downloader/internal/transfer"
)

// DefaultSoftFailureMarker is the phrase the publisher puts in its
// "no data yet" pages.
const DefaultSoftFailureMarker = "no record found"

// sniffLen bounds how much of the body is inspected for an HTML prologue.
const sniffLen = 512

var (
	utf8BOM      = []byte("\xef\xbb\xbf")
	htmlPrefixes = [][]byte{[]byte("<!doctype html"), []byte("<html")}
)

// Validator decides whether a 2xx body is real content. It returns an
// *transfer.InvalidContentError for soft failures.
type Validator interface {
	Validate(index int, file string, body []byte) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(index int, file string, body []byte) error

func (f ValidatorFunc) Validate(index int, file string, body []byte) error {
	return f(index, file, body)
}

// ErrorPageValidator flags empty bodies, HTML documents and bodies that
// contain one of its markers.
type ErrorPageValidator struct {
	markers [][]byte
}

// NewErrorPageValidator uses DefaultSoftFailureMarker when no marker is given.
func NewErrorPageValidator(markers ...string) *ErrorPageValidator {
	if len(markers) == 0 {
		markers = []string{DefaultSoftFailureMarker}
	}

	v := &ErrorPageValidator{}
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" {
			v.markers = append(v.markers, []byte(m))
		}
	}

	return v
}

func (v *ErrorPageValidator) Validate(index int, file string, body []byte) error {
	invalid := func(reason string) error {
		return &transfer.InvalidContentError{Filename: file, Index: index, Reason: reason}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return invalid("empty body")
	}

	if isHTMLDocument(body) {
		if title := pageTitle(body); title != "" {
			return invalid(fmt.Sprintf("html error page %q", title))
		}

		return invalid("html error page")
	}

	for _, m := range v.markers {
		if bytes.Contains(body, m) {
			return invalid(fmt.Sprintf("body contains %q", m))
		}
	}

	return nil
}

func isHTMLDocument(body []byte) bool {
	head := body
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}

	head = bytes.TrimPrefix(head, utf8BOM)
	head = bytes.ToLower(bytes.TrimLeft(head, " \t\r\n"))

	for _, p := range htmlPrefixes {
		if bytes.HasPrefix(head, p) {
			return true
		}
	}

	return false
}

// pageTitle returns the page title, falling back to the first heading.
func pageTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}

	return strings.TrimSpace(doc.Find("h1").First().Text())
}
