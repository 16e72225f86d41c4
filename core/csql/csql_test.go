package csql

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePinger struct {
	err   error
	pings int
}

func (f *fakePinger) PingContext(ctx context.Context) error {
	f.pings++
	return f.err
}

func TestPingProbeCachesResult(t *testing.T) {
	pinger := &fakePinger{}
	probe := &PingProbe{db: pinger, interval: time.Hour}

	if !probe.Online() {
		t.Fatal("expected online while pings succeed")
	}
	if !probe.Online() {
		t.Fatal("expected the cached result to stay online")
	}
	if pinger.pings != 1 {
		t.Fatalf("expected a single ping within the interval, got %d", pinger.pings)
	}
}

func TestPingProbeDetectsOutageAndRecovery(t *testing.T) {
	pinger := &fakePinger{err: errors.New("connection refused")}
	probe := &PingProbe{db: pinger, interval: time.Millisecond}

	if probe.Online() {
		t.Fatal("expected offline while pings fail")
	}
	pinger.err = nil
	time.Sleep(5 * time.Millisecond)
	if !probe.Online() {
		t.Fatal("expected online again after connectivity returns")
	}
}

func TestIsPlaceholder(t *testing.T) {
	cases := map[string]bool{
		"":                                  true,
		"   ":                               true,
		"your-api-key":                      true,
		"CHANGEME":                          true,
		"<connection string>":               true,
		"host=localhost port=5432 dbname=x": false,
		"AIzaSyRealLookingKey":              false,
	}
	for value, want := range cases {
		if got := IsPlaceholder(value); got != want {
			t.Errorf("IsPlaceholder(%q): expected %v, got %v", value, want, got)
		}
	}
}
