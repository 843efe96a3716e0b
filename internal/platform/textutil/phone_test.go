package textutil

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"01711-000000", "8801711000000", true},
		{"+880 1711 000000", "8801711000000", true},
		{"8801911222333", "8801911222333", true},
		{"00 880 1811222333", "8801811222333", true},
		{"1711000000", "8801711000000", true},
		{"০১৭১১০০০০০০", "8801711000000", true},
		{"0171100", "880171100", false},
		{"01211000000", "8801211000000", false},
		{"call me", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizePhone(tc.in, "880")
		if got != tc.want || ok != tc.ok {
			t.Errorf("NormalizePhone(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNormalizePhoneOtherCountry(t *testing.T) {
	got, ok := NormalizePhone("07700 900123", "+44")
	if !ok || got != "447700900123" {
		t.Fatalf("got %q %v", got, ok)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", " b ", "c"); got != "b" {
		t.Fatalf("got %q", got)
	}
}
