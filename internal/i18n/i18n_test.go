package i18n

import "testing"

func TestTranslate(t *testing.T) {
	tr, err := New("en")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cases := []struct {
		name   string
		locale string
		key    string
		params []string
		want   string
	}{
		{"english", "en", KeyBtnOpen, nil, "Open"},
		{"region tag", "ar-EG", KeyBtnOpen, nil, "فتح"},
		{"unknown locale uses default", "fr", KeyBtnIgnore, nil, "Ignore"},
		{"missing key returns key", "en", "no.such.key", nil, "no.such.key"},
		{"params", "en", KeyInboxHeader, []string{"3"}, "📥 Inbox (3)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tr.T(tc.locale, tc.key, tc.params...); got != tc.want {
				t.Fatalf("T(%q,%q) = %q, want %q", tc.locale, tc.key, got, tc.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tr, err := New("ar")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for in, want := range map[string]string{"": "ar", "EN": "en", "en_GB": "en", "de": "ar"} {
		if got := tr.Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
	if tr.Kind("en", "promo") != "promo" || tr.Kind("ar", "promo") != "عرض" {
		t.Fatalf("unexpected kind labels")
	}
}

func TestUnsupportedDefault(t *testing.T) {
	if _, err := New("xx"); err == nil {
		t.Fatalf("expected error for unsupported default locale")
	}
}
