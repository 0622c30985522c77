package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"text/tabwriter"
	"time"

	"github.com/fleetsync/inventory/internal/inventory"
	"github.com/fleetsync/inventory/pkg/api"
)

func withOutput(t *testing.T, format string) {
	t.Helper()
	prev := output
	output = format
	t.Cleanup(func() { output = prev })
}

func TestRenderTable(t *testing.T) {
	withOutput(t, "table")
	tasks := []inventory.TaskRecord{{
		ID:           7,
		EndpointUUID: "0b6f3c1e-2f44-4c1a-9b7e-1d2f3a4b5c6d",
		Name:         api.TaskDeleteUserProfile,
		CreatedAt:    time.Now().Add(-2 * time.Hour),
		Status:       api.TaskFailed,
		Result:       []byte(`{"error":"profile in use"}`),
	}}

	var buf bytes.Buffer
	if err := render(&buf, tasks, func(tw *tabwriter.Writer) { writeTaskRows(tw, tasks) }); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"ID", "STATUS", "Failed", "2 hours ago", "profile in use"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderYAML(t *testing.T) {
	withOutput(t, "yaml")
	tasks := []inventory.TaskRecord{{ID: 3, Name: "noop", Status: api.TaskRunning}}

	var buf bytes.Buffer
	called := false
	if err := render(&buf, tasks, func(*tabwriter.Writer) { called = true }); err != nil {
		t.Fatalf("render: %v", err)
	}
	if called {
		t.Error("table callback ran for yaml output")
	}
	out := buf.String()
	if !strings.Contains(out, "status: Running") {
		t.Errorf("yaml output should carry the status name:\n%s", out)
	}
	if !strings.Contains(out, "name: noop") {
		t.Errorf("yaml output missing task name:\n%s", out)
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	withOutput(t, "xml")
	err := render(&bytes.Buffer{}, nil, func(*tabwriter.Writer) {})
	if err == nil || !strings.Contains(err.Error(), "xml") {
		t.Fatalf("expected unknown format error, got %v", err)
	}
}

func TestDisplayUser(t *testing.T) {
	str := func(s string) *string { return &s }
	cases := []struct {
		domain, name *string
		want         string
	}{
		{nil, nil, "-"},
		{nil, str("alice"), "alice"},
		{str(""), str("alice"), "alice"},
		{str("CORP"), str("alice"), `CORP\alice`},
	}
	for _, c := range cases {
		if got := displayUser(c.domain, c.name); got != c.want {
			t.Errorf("displayUser(%v, %v) = %q, want %q", c.domain, c.name, got, c.want)
		}
	}
}

func TestAgo(t *testing.T) {
	if got := ago(nil); got != "-" {
		t.Errorf("ago(nil) = %q", got)
	}
	zero := time.Time{}
	if got := ago(&zero); got != "-" {
		t.Errorf("ago(zero) = %q", got)
	}
	past := time.Now().Add(-3 * 24 * time.Hour)
	if got := ago(&past); got != fmt.Sprintf("%d days ago", 3) {
		t.Errorf("ago(3 days) = %q", got)
	}
}
