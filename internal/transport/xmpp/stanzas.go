package xmpp

import (
	"encoding/xml"

	"mellium.im/xmlstream"
)

func bodyElement(text string) xml.TokenReader {
	return xmlstream.Wrap(
		xmlstream.Token(xml.CharData(text)),
		xml.StartElement{Name: xml.Name{Local: "body"}},
	)
}

func showElement(show string) xml.TokenReader {
	return xmlstream.Wrap(
		xmlstream.Token(xml.CharData(show)),
		xml.StartElement{Name: xml.Name{Local: "show"}},
	)
}
