package result

import "testing"

func TestParseKindAliases(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
	}{
		{"barcode", KindBarcode},
		{"BARCODE", KindBarcode},
		{" text-line ", KindTextLine},
		{"text", KindTextLine},
		{"textline", KindTextLine},
		{"document-boundary", KindDocumentBoundary},
		{"boundary", KindDocumentBoundary},
		{"document", KindDocumentBoundary},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.in)
		if err != nil {
			t.Errorf("ParseKind(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseKindRejectsUnknown(t *testing.T) {
	if _, err := ParseKind("hologram"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestKindStringRoundTrip(t *testing.T) {
	for k := Kind(0); k < KindCount; k++ {
		got, err := ParseKind(k.String())
		if err != nil {
			t.Errorf("ParseKind(%q) error: %v", k.String(), err)
		}
		if got != k {
			t.Errorf("round trip %v -> %v", k, got)
		}
	}
}
