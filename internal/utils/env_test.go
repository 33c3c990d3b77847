package utils

import (
	"os"
	"testing"
	"time"
)

func TestGetEnvAsBool(t *testing.T) {
	cases := []struct {
		val  string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"garbage", true, true},
		{"", false, false},
	}
	for _, c := range cases {
		os.Setenv("TEST_BOOL", c.val)
		if got := GetEnvAsBool("TEST_BOOL", c.def); got != c.want {
			t.Errorf("GetEnvAsBool(%q, %v) = %v, want %v", c.val, c.def, got, c.want)
		}
	}
	os.Unsetenv("TEST_BOOL")
}

func TestGetEnvAsInt(t *testing.T) {
	os.Setenv("TEST_INT", "42")
	if got := GetEnvAsInt("TEST_INT", 7); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	os.Setenv("TEST_INT", "not-a-number")
	if got := GetEnvAsInt("TEST_INT", 7); got != 7 {
		t.Errorf("got %d, want default 7", got)
	}
	os.Unsetenv("TEST_INT")
	if got := GetEnvAsInt("TEST_INT", 7); got != 7 {
		t.Errorf("got %d, want default 7", got)
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	os.Setenv("TEST_FLOAT", "2.5")
	if got := GetEnvAsFloat("TEST_FLOAT", 1.0); got != 2.5 {
		t.Errorf("got %f, want 2.5", got)
	}
	os.Unsetenv("TEST_FLOAT")
	if got := GetEnvAsFloat("TEST_FLOAT", 1.0); got != 1.0 {
		t.Errorf("got %f, want default 1.0", got)
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	os.Setenv("TEST_DUR", "150ms")
	if got := GetEnvAsDuration("TEST_DUR", time.Second); got != 150*time.Millisecond {
		t.Errorf("got %v, want 150ms", got)
	}
	os.Setenv("TEST_DUR", "nonsense")
	if got := GetEnvAsDuration("TEST_DUR", time.Second); got != time.Second {
		t.Errorf("got %v, want default 1s", got)
	}
	os.Unsetenv("TEST_DUR")
}

func TestGetEnvAsSlice(t *testing.T) {
	os.Setenv("TEST_SLICE", "a,b,c")
	got := GetEnvAsSlice("TEST_SLICE", []string{"x"}, ",")
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("got %v", got)
	}
	os.Unsetenv("TEST_SLICE")
	got = GetEnvAsSlice("TEST_SLICE", []string{"x"}, ",")
	if len(got) != 1 || got[0] != "x" {
		t.Errorf("got %v, want default", got)
	}
}
