// Package sparql provides a SPARQL 1.1 protocol client and query escaping
// helpers for talking to a remote triplestore endpoint.
package sparql

import (
	"fmt"
	"strings"
	"time"
)

var uriEscaper = strings.NewReplacer(
	`\`, `\\`,
	`<`, `\<`,
	`>`, `\>`,
	`"`, `\"`,
)

var stringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
)

// EscapeURI formats a URI value for safe inclusion in a query
func EscapeURI(value string) string {
	return "<" + uriEscaper.Replace(value) + ">"
}

// EscapeString formats a string literal for safe inclusion in a query
func EscapeString(value string) string {
	return `"""` + stringEscaper.Replace(value) + `"""`
}

// EscapeDateTime formats a timestamp as an xsd:dateTime literal
func EscapeDateTime(value time.Time) string {
	return fmt.Sprintf("%q^^<http://www.w3.org/2001/XMLSchema#dateTime>",
		value.UTC().Format(time.RFC3339))
}
