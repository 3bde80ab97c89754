package wmserr

import (
	"fmt"
	"strings"
	"testing"
)

func TestDocument_GenericHasNoCode(t *testing.T) {
	b, err := Document(Generic(`Only version "1.3.0" is supported`))
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	s := string(b)
	if strings.Contains(s, "code=") {
		t.Fatalf("generic exception must not carry a code; got:\n%s", s)
	}
	if !strings.Contains(s, "Only version &#34;1.3.0&#34; is supported") {
		t.Fatalf("message not escaped into document; got:\n%s", s)
	}
}

func TestDocument_Coded(t *testing.T) {
	b, err := Document(LayerNotDefined("a<b"))
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `<ServiceException code="LayerNotDefined">`) {
		t.Fatalf("missing coded exception; got:\n%s", s)
	}
	if !strings.Contains(s, "a&lt;b") {
		t.Fatalf("layer name not escaped; got:\n%s", s)
	}
}

func TestAs_Unwraps(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", New(CodeInvalidCRS, "Only CRS=EPSG:4326 is valid"))
	pe, ok := As(wrapped)
	if !ok || pe.Code != CodeInvalidCRS {
		t.Fatalf("As failed: %v %v", pe, ok)
	}
	if _, ok := As(fmt.Errorf("plain")); ok {
		t.Fatal("plain error must not be a protocol error")
	}
}
