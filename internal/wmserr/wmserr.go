// Package wmserr defines WMS client protocol errors and renders them as
// ServiceExceptionReport documents.
package wmserr

import (
	"bytes"
	"embed"
	"encoding/xml"
	"errors"
	"fmt"
	"text/template"
)

// Exception codes from the WMS 1.3.0 exception vocabulary, plus the
// layer/style count mismatch this server reports for combined requests.
const (
	CodeInvalidFormat             = "InvalidFormat"
	CodeInvalidCRS                = "InvalidCRS"
	CodeLayerNotDefined           = "LayerNotDefined"
	CodeStyleNotDefined           = "StyleNotDefined"
	CodeOperationNotSupported     = "OperationNotSupported"
	CodeMismatchedLayerStyleCount = "MismatchedLayerStyleCount"
)

// Error is a client protocol error. An empty Code selects the generic
// exception document.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

func New(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Generic returns a code-less protocol error.
func Generic(format string, args ...any) *Error {
	return New("", format, args...)
}

func MissingParameter(name string) *Error {
	return Generic("Missing mandatory parameter %q", name)
}

func LayerNotDefined(name string) *Error {
	return New(CodeLayerNotDefined, "Layer %q is not defined", name)
}

func StyleNotDefined(name string) *Error {
	return New(CodeStyleNotDefined, "Style %q is not defined", name)
}

// As extracts a protocol error from err's chain.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

//go:embed templates/*.xml
var templateFS embed.FS

var templates = template.Must(template.New("exceptions").
	Funcs(template.FuncMap{"xml": escape}).
	ParseFS(templateFS, "templates/*.xml"))

// Document renders e as a ServiceExceptionReport.
func Document(e *Error) ([]byte, error) {
	name := "exception.xml"
	if e.Code != "" {
		name = "exception_code.xml"
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, e); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
