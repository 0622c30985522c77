package taskrunner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fleetsync/inventory/pkg/api"
)

func payload(t *testing.T, p api.TaskPayload) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func elevatedRunner(elevated bool) *Runner {
	r := New()
	r.elevated = func() bool { return elevated }
	return r
}

func TestUnknownTaskFails(t *testing.T) {
	out := New().Execute(context.Background(), 1, payload(t, api.TaskPayload{Name: "bogus-op"}))
	if out.Status != api.TaskFailed {
		t.Fatalf("status = %s, want Failed", out.Status)
	}
	if out.Error() != "unknown task" {
		t.Fatalf("error = %q, want %q", out.Error(), "unknown task")
	}
}

func TestMalformedPayloadFails(t *testing.T) {
	out := New().Execute(context.Background(), 1, json.RawMessage(`{"name":`))
	if out.Status != api.TaskFailed || out.Error() != "malformed task payload" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestDeleteProfileMissingParameters(t *testing.T) {
	r := elevatedRunner(true)
	cases := []api.TaskPayload{
		{Name: api.TaskDeleteUserProfile},
		{Name: api.TaskDeleteUserProfile, Parameters: map[string]any{"sid": ""}},
		{Name: api.TaskDeleteUserProfile, Parameters: map[string]any{"sid": 42}},
		{Name: "Delete-User-Profile", Parameters: map[string]any{"other": "x"}},
	}
	for _, p := range cases {
		out := r.Execute(context.Background(), 1, payload(t, p))
		if out.Status != api.TaskFailed || out.Error() != "missing parameters" {
			t.Errorf("payload %+v: outcome = %+v", p, out)
		}
	}
}

func TestNamesMatchCaseInsensitively(t *testing.T) {
	r := New()
	called := 0
	r.Register("Flush-Cache", func(ctx context.Context, p api.TaskPayload) error {
		called++
		return nil
	})

	out := r.Execute(context.Background(), 1, payload(t, api.TaskPayload{Name: "FLUSH-cache"}))
	if out.Status != api.TaskSuccessful {
		t.Fatalf("status = %s, want Successful", out.Status)
	}
	if len(out.Result) != 0 {
		t.Fatalf("successful task carries result %s", out.Result)
	}
	if called != 1 {
		t.Fatalf("handler called %d times", called)
	}
}

func TestHandlerErrorBecomesResult(t *testing.T) {
	r := New()
	r.Register("fail", func(ctx context.Context, p api.TaskPayload) error {
		return errors.New("access denied")
	})
	out := r.Execute(context.Background(), 1, payload(t, api.TaskPayload{Name: "fail"}))
	if out.Status != api.TaskFailed || out.Error() != "access denied" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	r := New()
	r.Register("boom", func(ctx context.Context, p api.TaskPayload) error {
		panic("kaboom")
	})
	out := r.Execute(context.Background(), 1, payload(t, api.TaskPayload{Name: "boom"}))
	if out.Status != api.TaskFailed || out.Error() != "task panicked" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestDeleteProfileReachesPlatformCode(t *testing.T) {
	r := elevatedRunner(true)
	var got string
	r.Register(api.TaskDeleteUserProfile, func(ctx context.Context, p api.TaskPayload) error {
		sid, ok := p.StringParam("sid")
		if !ok {
			return ErrMissingParameters
		}
		got = sid
		return nil
	})
	out := r.Execute(context.Background(), 9, payload(t, api.TaskPayload{
		Name:       api.TaskDeleteUserProfile,
		Parameters: map[string]any{"sid": "S-1-5-21-1000"},
	}))
	if out.Status != api.TaskSuccessful || got != "S-1-5-21-1000" {
		t.Fatalf("outcome = %+v, sid = %q", out, got)
	}
}

func TestDeleteProfileNeedsElevation(t *testing.T) {
	r := elevatedRunner(false)
	called := false
	r.Register(api.TaskDeleteUserProfile, func(ctx context.Context, p api.TaskPayload) error {
		called = true
		return nil
	})
	out := r.Execute(context.Background(), 4, payload(t, api.TaskPayload{
		Name:       api.TaskDeleteUserProfile,
		Parameters: map[string]any{"sid": "S-1-5-21-1000"},
	}))
	if out.Status != api.TaskFailed || out.Error() != "insufficient privileges" {
		t.Fatalf("outcome = %+v", out)
	}
	if called {
		t.Fatal("handler ran without elevation")
	}
}

func TestMissingParametersReportedBeforePrivileges(t *testing.T) {
	r := elevatedRunner(false)
	out := r.Execute(context.Background(), 5, payload(t, api.TaskPayload{Name: api.TaskDeleteUserProfile}))
	if out.Status != api.TaskFailed || out.Error() != "missing parameters" {
		t.Fatalf("outcome = %+v, want missing parameters", out)
	}
}
