package svcquery

import "testing"

func TestParseSystemdShow(t *testing.T) {
	cases := []struct {
		name string
		out  string
		want Service
	}{
		{
			name: "running and enabled",
			out:  "LoadState=loaded\nActiveState=active\nUnitFileState=enabled\n",
			want: Service{Name: "inventory-agent", State: StateRunning, StartType: "automatic"},
		},
		{
			name: "failed unit",
			out:  "LoadState=loaded\nActiveState=failed\nUnitFileState=disabled\n",
			want: Service{Name: "inventory-agent", State: StateStopped, StartType: "manual"},
		},
		{
			name: "missing unit",
			out:  "LoadState=not-found\nActiveState=inactive\nUnitFileState=\n",
			want: Service{Name: "inventory-agent", State: StateNotInstalled},
		},
		{
			name: "garbage",
			out:  "nothing useful",
			want: Service{Name: "inventory-agent", State: StateUnknown},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := parseSystemdShow("inventory-agent", c.out); got != c.want {
				t.Fatalf("got %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestServiceString(t *testing.T) {
	if got := (Service{State: StateRunning, StartType: "automatic"}).String(); got != "running (automatic)" {
		t.Fatalf("String() = %q", got)
	}
	if got := (Service{State: StateNotInstalled}).String(); got != "not installed" {
		t.Fatalf("String() = %q", got)
	}
}
