package alerts

import (
	"bytes"
	"fmt"

	"github.com/antchfx/xmlquery"
)

// parseVOEvent parses a raw VOEvent/GCN XML payload into a navigable
// node tree, grounded on lvc_alert.py/fermi_alert.py's
// ElementTree.fromstring(payload) followed by root.find(...) lookups.
// local-name() XPath predicates are used throughout this file so a
// document's namespace prefix (voe:, ivorn:, ...) never matters,
// mirroring the original's prefix-agnostic root.find calls.
func parseVOEvent(raw []byte) (*xmlquery.Node, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("alerts: parse VOEvent XML: %w", err)
	}
	return doc, nil
}

// voEventRole returns the root element's "role" attribute, matching
// root.attrib.get('role').
func voEventRole(doc *xmlquery.Node) string {
	root := xmlquery.FindOne(doc, "//*[local-name()='VOEvent']")
	if root == nil {
		return ""
	}
	return root.SelectAttr("role")
}

// paramValue looks up //Param[@name=name]'s "value" attribute,
// matching root.find(".//Param[@name='X']").attrib.get('value'). ok is
// false if the parameter is absent, matching the original's
// "element and ..." guard pattern.
func paramValue(doc *xmlquery.Node, name string) (value string, ok bool) {
	node := xmlquery.FindOne(doc, fmt.Sprintf("//*[local-name()='Param'][@name='%s']", name))
	if node == nil {
		return "", false
	}
	v := node.SelectAttr("value")
	return v, v != ""
}

// elementText returns the text content of the first element named
// localName anywhere in the document, matching
// root.find(".//C1").text-style plain-element lookups (used by the
// GRB handler for C1/C2/Error2Radius, which are bare elements rather
// than Params).
func elementText(doc *xmlquery.Node, localName string) (text string, ok bool) {
	node := xmlquery.FindOne(doc, fmt.Sprintf("//*[local-name()='%s']", localName))
	if node == nil {
		return "", false
	}
	return node.InnerText(), true
}
