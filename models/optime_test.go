package models

import (
	"encoding/json"
	"testing"
)

func TestOpTimeOrdering(t *testing.T) {
	cases := []struct {
		name string
		a, b OpTime
		less bool
	}{
		{"equal", OpTime{1, 1}, OpTime{1, 1}, false},
		{"secs dominate", OpTime{1, 9}, OpTime{2, 0}, true},
		{"counter breaks ties", OpTime{1, 1}, OpTime{1, 2}, true},
		{"zero before everything", OpTime{}, OpTime{0, 1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Less(tc.b); got != tc.less {
				t.Fatalf("%v.Less(%v) = %v, want %v", tc.a, tc.b, got, tc.less)
			}
			if tc.less {
				if !tc.b.After(tc.a) {
					t.Fatalf("%v.After(%v) should hold", tc.b, tc.a)
				}
				if tc.a.AtLeast(tc.b) {
					t.Fatalf("%v.AtLeast(%v) should not hold", tc.a, tc.b)
				}
			}
		})
	}
}

func TestOpTimeZero(t *testing.T) {
	if !(OpTime{}).IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	if (OpTime{Secs: 1}).IsZero() {
		t.Fatal("non-zero value should not report IsZero")
	}
}

func TestMaxOpTime(t *testing.T) {
	a, b := OpTime{3, 1}, OpTime{3, 2}
	if got := MaxOpTime(a, b); got != b {
		t.Fatalf("MaxOpTime = %v, want %v", got, b)
	}
	if got := MaxOpTime(b, a); got != b {
		t.Fatalf("MaxOpTime = %v, want %v", got, b)
	}
}

func TestOpTimeJSON(t *testing.T) {
	in := OpTime{Secs: 12, Counter: 34}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"secs":12,"counter":34}` {
		t.Fatalf("unexpected encoding: %s", data)
	}
	var out OpTime
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %v != %v", out, in)
	}
}
