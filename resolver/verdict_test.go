package resolver

import "testing"

func TestCombineVerdicts(t *testing.T) {
	cases := []struct {
		a, b, want Verdict
	}{
		{VerdictSecure, VerdictSecure, VerdictSecure},
		{VerdictSecure, VerdictUnsigned, VerdictUnsigned},
		{VerdictUnsigned, VerdictSecure, VerdictUnsigned},
		{VerdictSecure, VerdictInsecure, VerdictInsecure},
		{VerdictSecure, VerdictBogus, VerdictBogus},
		{VerdictUnsigned, VerdictBogus, VerdictBogus},
		{VerdictInsecure, VerdictIndeterminate, VerdictIndeterminate},
		{VerdictBogus, VerdictIndeterminate, VerdictBogus},
	}
	for _, tc := range cases {
		if got := CombineVerdicts(tc.a, tc.b); got != tc.want {
			t.Errorf("Combine(%s, %s) = %s, want %s", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestVerdictStrings(t *testing.T) {
	for v, want := range map[Verdict]string{
		VerdictSecure:        "secure",
		VerdictInsecure:      "insecure",
		VerdictBogus:         "bogus",
		VerdictIndeterminate: "indeterminate",
		VerdictUnsigned:      "unsigned",
	} {
		if v.String() != want {
			t.Errorf("%d.String() = %q, want %q", v, v.String(), want)
		}
	}
}
