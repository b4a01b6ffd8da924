package adapter

import (
	"reflect"
	"testing"
	"time"

	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
)

func descWithParams(params map[string]string) feed.Descriptor {
	return feed.Descriptor{
		Name:     "param_test",
		Class:    feed.ClassStock,
		Priority: feed.PriorityLow,
		Adapter:  "x",
		Params:   params,
	}
}

func TestRequireParam(t *testing.T) {
	desc := descWithParams(map[string]string{"api_key": " k123 ", "empty": "  "})

	v, err := requireParam(desc, "api_key")
	if err != nil || v != "k123" {
		t.Fatalf("requireParam = %q, %v", v, err)
	}
	for _, key := range []string{"empty", "absent"} {
		if _, err := requireParam(desc, key); !errors.Is(err, errors.ErrInvalidManifest) {
			t.Errorf("requireParam(%q) err = %v, want ErrInvalidManifest", key, err)
		}
	}
}

func TestDurationParam(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]string
		want    time.Duration
		wantErr bool
	}{
		{"default when absent", nil, 5 * time.Second, false},
		{"parses value", map[string]string{"interval": "250ms"}, 250 * time.Millisecond, false},
		{"rejects garbage", map[string]string{"interval": "fast"}, 0, true},
		{"rejects zero", map[string]string{"interval": "0s"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := durationParam(descWithParams(tt.params), "interval", 5*time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSymbolsParam(t *testing.T) {
	desc := descWithParams(map[string]string{"symbols": "aapl, msft ,,nvda"})
	got, err := symbolsParam(desc, "symbols")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"AAPL", "MSFT", "NVDA"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := symbolsParam(descWithParams(map[string]string{"symbols": " , "}), "symbols"); err == nil {
		t.Fatal("expected error for empty symbol list")
	}
}

func TestIntAndFloatParams(t *testing.T) {
	desc := descWithParams(map[string]string{"limit": "50", "rate_limit": "2.5", "bad": "x"})

	if n, err := intParam(desc, "limit", 10); err != nil || n != 50 {
		t.Errorf("intParam = %d, %v", n, err)
	}
	if n, err := intParam(desc, "absent", 10); err != nil || n != 10 {
		t.Errorf("intParam default = %d, %v", n, err)
	}
	if _, err := intParam(desc, "bad", 10); err == nil {
		t.Error("intParam accepted garbage")
	}
	if f, err := floatParam(desc, "rate_limit", 1); err != nil || f != 2.5 {
		t.Errorf("floatParam = %v, %v", f, err)
	}
}
