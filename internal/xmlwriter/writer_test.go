package xmlwriter

import (
	"bytes"
	"encoding/xml"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal(t *testing.T) {
	root := New("Document").
		Attr("xmlns", "urn:example").
		Attr("xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance").
		Add(
			New("Hdr").AddText("Id", "A&B"),
			New("Empty"),
		)

	out, err := Marshal(root)
	require.NoError(t, err)

	expected := `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:example" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <Hdr>
    <Id>A&amp;B</Id>
  </Hdr>
  <Empty/>
</Document>
`
	assert.Equal(t, expected, string(out))

	// Output must be well-formed.
	dec := xml.NewDecoder(bytes.NewReader(out))
	for {
		_, err := dec.Token()
		if err != nil {
			assert.Equal(t, "EOF", err.Error())
			break
		}
	}
}

func TestMarshalCompact(t *testing.T) {
	root := New("A").Add(Text("B", "1"))
	out, err := MarshalWithOptions(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, `<A><B>1</B></A>`, string(out))
}

func TestWrapAndFind(t *testing.T) {
	tree := Wrap("A", "B", "C", Text("D", "x"))
	require.NotNil(t, tree)

	found := tree.Find("B", "C", "D")
	require.NotNil(t, found)
	assert.Equal(t, "x", found.Value)

	assert.Nil(t, tree.Find("B", "missing"))
	assert.Equal(t, "C", Wrap("C").Name)
	assert.Nil(t, Wrap())
	assert.Nil(t, Wrap("A", 42))
}

func TestMarshalEmptyName(t *testing.T) {
	_, err := Marshal(New("Root").Add(New("")))
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = Marshal(nil)
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestEscapeXML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Invoice 123", "Invoice 123"},
		{"markup", `<a href="x">`, "&lt;a href=&quot;x&quot;&gt;"},
		{"apostrophe", "O'Brien", "O&apos;Brien"},
		{"umlaut", "Müller", "Müller"},
		{"control characters", "Invoice\x0b123\x01", "Invoice123"},
		{"line breaks kept", "a\tb\nc", "a\tb\nc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeXML(tt.in))
		})
	}
}

func TestMarshalDropsIllegalCharacters(t *testing.T) {
	root := New("Document").
		Attr("note", "a\x01b").
		AddText("Ustrd", "Invoice\x0b123\x01")

	data, err := Marshal(root)
	require.NoError(t, err)

	decoder := xml.NewDecoder(bytes.NewReader(data))
	var text []string
	for {
		token, err := decoder.Token()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		if chars, ok := token.(xml.CharData); ok && len(bytes.TrimSpace(chars)) > 0 {
			text = append(text, string(chars))
		}
	}
	assert.Equal(t, []string{"Invoice123"}, text)
	assert.Contains(t, string(data), `note="ab"`)
}

func TestValidText(t *testing.T) {
	assert.True(t, ValidText("Müller & Söhne\tGmbH\n"))
	assert.False(t, ValidText("Invoice\x0b123"))
	assert.False(t, ValidText("\x00"))
	assert.False(t, ValidText("\uFFFE"))
}
