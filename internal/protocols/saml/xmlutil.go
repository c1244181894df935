package saml

import (
	"bytes"

	"github.com/beevik/etree"
	xrv "github.com/mattermost/xml-roundtrip-validator"
)

// parseDocument round-trip-validates raw XML and parses it into an etree
// document. Validation rejects documents that Go XML tokenization would
// mutate, which closes the classic namespace-confusion signature bypasses.
func parseDocument(raw []byte) (*etree.Document, error) {
	if err := xrv.Validate(bytes.NewReader(raw)); err != nil {
		return nil, errMalformed("xml round-trip validation", err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, errMalformed("xml parse", err)
	}
	if doc.Root() == nil {
		return nil, errMalformed("empty document", nil)
	}
	return doc, nil
}

// childElement returns the first direct child with the given local tag,
// ignoring the namespace prefix. etree path queries match prefixes
// literally, which is unreliable for messages from arbitrary IdPs.
func childElement(el *etree.Element, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// descendantElement returns the first descendant with the given local tag,
// depth first.
func descendantElement(el *etree.Element, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			return c
		}
		if found := descendantElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// serializeElement writes a detached copy of the element as standalone XML.
func serializeElement(el *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	return doc.WriteToBytes()
}

func errMalformed(detail string, cause error) error {
	if cause != nil {
		return &codecError{kind: ErrMalformedMessage, detail: detail, cause: cause}
	}
	return &codecError{kind: ErrMalformedMessage, detail: detail}
}

// codecError wraps one of the sentinel taxonomy errors with diagnostic
// detail that stays server-side.
type codecError struct {
	kind   error
	detail string
	cause  error
}

func (e *codecError) Error() string {
	msg := e.kind.Error()
	if e.detail != "" {
		msg += ": " + e.detail
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *codecError) Unwrap() error { return e.kind }
