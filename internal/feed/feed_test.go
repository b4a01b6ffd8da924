package feed

import (
	"testing"
	"time"
)

func TestParseClass(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Class
		wantErr bool
	}{
		{name: "stock", input: "stock", want: ClassStock},
		{name: "uppercase", input: "CRYPTO", want: ClassCrypto},
		{name: "padded", input: "  news ", want: ClassNews},
		{name: "account", input: "account", want: ClassAccount},
		{name: "unknown", input: "bond", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClass(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseClass(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseClass(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Priority
		wantErr bool
	}{
		{name: "critical", input: "critical", want: PriorityCritical},
		{name: "mixed case", input: "High", want: PriorityHigh},
		{name: "low", input: "low", want: PriorityLow},
		{name: "unknown", input: "urgent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePriority(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePriority(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParsePriority(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTierOrder(t *testing.T) {
	want := []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	if len(TierOrder) != len(want) {
		t.Fatalf("TierOrder has %d tiers, want %d", len(TierOrder), len(want))
	}
	for i, p := range want {
		if TierOrder[i] != p {
			t.Errorf("TierOrder[%d] = %v, want %v", i, TierOrder[i], p)
		}
	}
}

func TestDescriptorValidate(t *testing.T) {
	valid := Descriptor{
		Name:     "polygon_stocks",
		Class:    ClassStock,
		Priority: PriorityCritical,
		Stagger:  5 * time.Second,
		Adapter:  "polygon_stocks",
	}

	tests := []struct {
		name    string
		mutate  func(d *Descriptor)
		wantErr bool
	}{
		{name: "valid", mutate: func(d *Descriptor) {}},
		{name: "no name", mutate: func(d *Descriptor) { d.Name = " " }, wantErr: true},
		{name: "bad class", mutate: func(d *Descriptor) { d.Class = "equity" }, wantErr: true},
		{name: "bad priority", mutate: func(d *Descriptor) { d.Priority = "urgent" }, wantErr: true},
		{name: "no adapter", mutate: func(d *Descriptor) { d.Adapter = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStateActive(t *testing.T) {
	active := map[State]bool{
		StateRegistered: false,
		StateStarting:   false,
		StateRunning:    true,
		StateDegraded:   true,
		StateStopped:    false,
		StateFailed:     false,
	}
	for state, want := range active {
		if got := state.Active(); got != want {
			t.Errorf("%s.Active() = %v, want %v", state, got, want)
		}
	}
}
