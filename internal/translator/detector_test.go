package translator

import "testing"

func TestDetectorRecognisesCommonLanguages(t *testing.T) {
	d := NewDetector(12)
	cases := map[string]string{
		"The weather is lovely today and we are going to the park.": "en",
		"Bugün hava çok güzel ve parka gidiyoruz, sen de gel.":      "tr",
	}
	for text, want := range cases {
		if got := d.Detect(text); got != want {
			t.Fatalf("Detect(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestDetectorSkipsShortText(t *testing.T) {
	d := NewDetector(12)
	if got := d.Detect("ok"); got != "" {
		t.Fatalf("expected no detection for short text, got %q", got)
	}
	var nilDetector *Detector
	if got := nilDetector.Detect("The weather is lovely today."); got != "" {
		t.Fatalf("nil detector should return empty, got %q", got)
	}
}
