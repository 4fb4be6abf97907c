package main

import "testing"

func TestTrimKnownSourceExt(t *testing.T) {
	cases := map[string]string{
		"program.droe":     "program",
		"/a/b/program.droe": "/a/b/program",
		"program":          "program.out",
		"program.txt":      "program.txt.out",
	}
	for in, want := range cases {
		if got := trimKnownSourceExt(in); got != want {
			t.Errorf("trimKnownSourceExt(%q) = %q, want %q", in, got, want)
		}
	}
}
