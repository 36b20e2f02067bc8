// =============================================================================
// SEPA XML Converter - XML Writer Module
// =============================================================================
//
// This module turns a generic element tree into XML text. It knows nothing
// about payment messages: callers build the tree, this package only handles
// nesting, attributes, escaping and indentation.
//
// OUTPUT SHAPE:
//
//   <?xml version="1.0" encoding="UTF-8"?>
//   <Root attr="value">
//     <Child>text</Child>
//     <Empty/>
//   </Root>
//
// Attributes are written in the order they were added, so namespace
// declarations appear exactly where the caller put them.
//
// =============================================================================

package xmlwriter

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyName is returned when an element in the tree has no name.
var ErrEmptyName = errors.New("xml element without name")

// =============================================================================
// OPTIONS
// =============================================================================

// Options controls how a tree is serialized.
type Options struct {
	// Indent is the string used for one level of indentation.
	// Default: "  " (two spaces). Empty disables line breaks entirely.
	Indent string

	// IncludeXMLDeclaration writes the <?xml ...?> prolog.
	IncludeXMLDeclaration bool

	// XMLVersion for the declaration. Default: "1.0"
	XMLVersion string

	// Encoding for the declaration. Default: "UTF-8"
	Encoding string
}

// DefaultOptions returns two-space indentation with a UTF-8 declaration.
func DefaultOptions() Options {
	return Options{
		Indent:                "  ",
		IncludeXMLDeclaration: true,
		XMLVersion:            "1.0",
		Encoding:              "UTF-8",
	}
}

// =============================================================================
// ELEMENT TREE
// =============================================================================

// Element is a node in the document tree. An element carries either a text
// value or children; when both are set the children win.
type Element struct {
	Name     string
	Attrs    []xml.Attr
	Value    string
	Children []*Element
}

// New creates an element with the given name.
func New(name string) *Element {
	return &Element{Name: name}
}

// Text creates a leaf element holding a text value.
func Text(name, value string) *Element {
	return &Element{Name: name, Value: value}
}

// Attr appends an attribute and returns the element for chaining.
func (e *Element) Attr(name, value string) *Element {
	e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
	return e
}

// Add appends children and returns the element for chaining.
func (e *Element) Add(children ...*Element) *Element {
	for _, c := range children {
		if c != nil {
			e.Children = append(e.Children, c)
		}
	}
	return e
}

// AddText appends a leaf child and returns the element for chaining.
func (e *Element) AddText(name, value string) *Element {
	return e.Add(Text(name, value))
}

// Wrap nests a chain of elements: Wrap("A", "B", leaf) yields <A><B>leaf</B></A>.
// Deeply nested ISO 20022 paths read much flatter this way.
func Wrap(names ...interface{}) *Element {
	if len(names) == 0 {
		return nil
	}

	var inner *Element
	switch last := names[len(names)-1].(type) {
	case *Element:
		inner = last
		names = names[:len(names)-1]
	case string:
		inner = New(last)
		names = names[:len(names)-1]
	default:
		return nil
	}

	for i := len(names) - 1; i >= 0; i-- {
		name, ok := names[i].(string)
		if !ok {
			return nil
		}
		inner = New(name).Add(inner)
	}

	return inner
}

// Find returns the first descendant reached by following the given path of
// element names, or nil.
func (e *Element) Find(path ...string) *Element {
	current := e
	for _, name := range path {
		var next *Element
		for _, c := range current.Children {
			if c.Name == name {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		current = next
	}
	return current
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// Marshal serializes the tree with the default options.
func Marshal(root *Element) ([]byte, error) {
	return MarshalWithOptions(root, DefaultOptions())
}

// MarshalWithOptions serializes the tree into a byte slice.
func MarshalWithOptions(root *Element, options Options) ([]byte, error) {
	var buffer bytes.Buffer
	if err := Write(&buffer, root, options); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// Write serializes the tree to w.
//
// PARAMETERS:
//   - w: Destination writer.
//   - root: The document root.
//   - options: Serialization options.
//
// RETURNS:
//   - ErrEmptyName if any element has no name, or the write error.
func Write(w io.Writer, root *Element, options Options) error {
	if root == nil {
		return ErrEmptyName
	}
	if options.XMLVersion == "" {
		options.XMLVersion = "1.0"
	}
	if options.Encoding == "" {
		options.Encoding = "UTF-8"
	}

	var buffer bytes.Buffer

	if options.IncludeXMLDeclaration {
		fmt.Fprintf(&buffer, "<?xml version=\"%s\" encoding=\"%s\"?>", options.XMLVersion, options.Encoding)
		if options.Indent != "" {
			buffer.WriteString("\n")
		}
	}

	if err := writeElement(&buffer, root, options.Indent, 0); err != nil {
		return err
	}

	_, err := w.Write(buffer.Bytes())
	return err
}

// writeElement writes an element and its subtree to the buffer.
func writeElement(buffer *bytes.Buffer, element *Element, indent string, level int) error {
	if strings.TrimSpace(element.Name) == "" {
		return ErrEmptyName
	}

	newline := ""
	if indent != "" {
		newline = "\n"
	}

	buffer.WriteString(strings.Repeat(indent, level))
	buffer.WriteString("<")
	buffer.WriteString(element.Name)

	for _, attr := range element.Attrs {
		name := attr.Name.Local
		if attr.Name.Space != "" {
			name = attr.Name.Space + ":" + name
		}
		fmt.Fprintf(buffer, " %s=\"%s\"", name, escapeXML(attr.Value))
	}

	if len(element.Children) == 0 && element.Value == "" {
		buffer.WriteString("/>")
		buffer.WriteString(newline)
		return nil
	}

	buffer.WriteString(">")

	if len(element.Children) == 0 {
		buffer.WriteString(escapeXML(element.Value))
	} else {
		buffer.WriteString(newline)
		for _, child := range element.Children {
			if err := writeElement(buffer, child, indent, level+1); err != nil {
				return err
			}
		}
		buffer.WriteString(strings.Repeat(indent, level))
	}

	buffer.WriteString("</")
	buffer.WriteString(element.Name)
	buffer.WriteString(">")
	buffer.WriteString(newline)

	return nil
}

// escapeXML escapes special characters for text and attribute values.
// Characters that XML 1.0 does not allow are dropped.
func escapeXML(s string) string {
	var buffer strings.Builder

	for _, r := range s {
		switch r {
		case '&':
			buffer.WriteString("&amp;")
		case '<':
			buffer.WriteString("&lt;")
		case '>':
			buffer.WriteString("&gt;")
		case '"':
			buffer.WriteString("&quot;")
		case '\'':
			buffer.WriteString("&apos;")
		default:
			if IsValidChar(r) {
				buffer.WriteRune(r)
			}
		}
	}

	return buffer.String()
}

// IsValidChar reports whether r may appear in an XML 1.0 document.
func IsValidChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

// ValidText reports whether every character of s may appear in an XML 1.0
// document.
func ValidText(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !IsValidChar(r) }) < 0
}
