package command

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		text     string
		wantName string
		wantArgs int
		wantErr  error
	}{
		{"status", "status", 0, nil},
		{"  control   light.a  on  ", "control", 2, nil},
		{"control\tlight.a\ton brightness=5", "control", 3, nil},
		{"", "", 0, ErrMalformedCommand},
		{" \t\n", "", 0, ErrMalformedCommand},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, err := Parse("sender", tt.text)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
			}
			if cmd.Sender != "sender" {
				t.Errorf("Sender = %q", cmd.Sender)
			}
			if cmd.Name != tt.wantName || len(cmd.Args) != tt.wantArgs {
				t.Errorf("Parse() = %+v, want name %q with %d args", cmd, tt.wantName, tt.wantArgs)
			}
		})
	}
}

func TestSplitEntityID(t *testing.T) {
	tests := []struct {
		id         string
		wantDomain string
		wantErr    bool
	}{
		{"light.kitchen", "light", false},
		{"sensor.temp.outside", "sensor", false},
		{"nodot", "", true},
		{".object", "", true},
		{"domain.", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			domain, _, err := SplitEntityID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitEntityID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedEntityID) {
				t.Errorf("error = %v, want ErrMalformedEntityID", err)
			}
			if domain != tt.wantDomain {
				t.Errorf("domain = %q, want %q", domain, tt.wantDomain)
			}
		})
	}
}

func TestServiceFor(t *testing.T) {
	if s, ok := ServiceFor("TOGGLE"); !ok || s != "toggle" {
		t.Errorf("ServiceFor(TOGGLE) = %q, %v", s, ok)
	}
	if _, ok := ServiceFor("dim"); ok {
		t.Error("ServiceFor(dim) ok = true")
	}
}

func TestParseParams(t *testing.T) {
	params, ignored := ParseParams([]string{"a=1", "b=-2.5", "c=true", "d=text", "e=", "=x", "loose"})

	want := map[string]any{"a": int64(1), "b": -2.5, "c": true, "d": "text", "e": ""}
	for k, v := range want {
		if params[k] != v {
			t.Errorf("params[%s] = %#v, want %#v", k, params[k], v)
		}
	}
	if len(ignored) != 2 {
		t.Errorf("ignored = %v, want [=x loose]", ignored)
	}

	if p, _ := ParseParams(nil); p != nil {
		t.Errorf("ParseParams(nil) = %v, want nil", p)
	}
}
