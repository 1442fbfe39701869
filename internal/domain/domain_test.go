package domain

import (
	"errors"
	"testing"
)

func validJob() Job {
	return Job{
		Name:       "curation",
		Transport:  TransportSMTP,
		SMTP:       SMTPSettings{Host: "smtp.example.org", Port: 587},
		From:       "portal@example.org",
		To:         "$_owner_email",
		Subject:    "Update",
		Body:       "Hello",
		BodyFormat: BodyFormatHTML,
		Vars:       []string{"$title", TokenOwnerEmail},
		Mapping:    map[string]string{"$title": "dc_title"},
	}
}

func TestJobValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Job)
		wantErr bool
	}{
		{name: "valid job", mutate: func(j *Job) {}},
		{name: "missing from", mutate: func(j *Job) { j.From = " " }, wantErr: true},
		{name: "missing to", mutate: func(j *Job) { j.To = "" }, wantErr: true},
		{name: "invalid transport", mutate: func(j *Job) { j.Transport = Transport("FAX") }, wantErr: true},
		{name: "missing smtp host", mutate: func(j *Job) { j.SMTP.Host = "" }, wantErr: true},
		{name: "invalid smtp port", mutate: func(j *Job) { j.SMTP.Port = 70000 }, wantErr: true},
		{
			name: "resend without key",
			mutate: func(j *Job) {
				j.Transport = TransportResend
			},
			wantErr: true,
		},
		{
			name: "webhook with url",
			mutate: func(j *Job) {
				j.Transport = TransportWebhook
				j.WebhookURL = "https://hooks.example.org/mail"
			},
		},
		{name: "testmode without redirect", mutate: func(j *Job) { j.TestMode = true }, wantErr: true},
		{
			name: "testmode with redirect",
			mutate: func(j *Job) {
				j.TestMode = true
				j.Redirect = "ops@example.org"
			},
		},
		{name: "empty token", mutate: func(j *Job) { j.Vars = append(j.Vars, "") }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			job := validJob()
			tt.mutate(&job)

			err := job.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrConfiguration) {
					t.Fatalf("Validate() error = %v, want ErrConfiguration", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestJobFieldFor(t *testing.T) {
	t.Parallel()

	job := validJob()
	if got := job.FieldFor("$title"); got != "dc_title" {
		t.Fatalf("FieldFor($title) = %q, want dc_title", got)
	}
	if got := job.FieldFor(TokenOwnerName); got != OwnerField {
		t.Fatalf("FieldFor(owner name) = %q, want %q", got, OwnerField)
	}
	if got := job.FieldFor("$unmapped"); got != "" {
		t.Fatalf("FieldFor($unmapped) = %q, want empty", got)
	}
}

func TestParseTransportFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseTransportFromString(" smtp ")
	if err != nil {
		t.Fatalf("ParseTransportFromString() unexpected error = %v", err)
	}
	if got != TransportSMTP {
		t.Fatalf("ParseTransportFromString() = %s, want %s", got, TransportSMTP)
	}

	_, err = ParseTransportFromString("pigeon")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseTransportFromString() error = %v, want ErrValidation", err)
	}
}

func TestRecordScalar(t *testing.T) {
	t.Parallel()

	record := Record{
		ID: "oid-1",
		Fields: map[string]Field{
			"title":   {Value: "A Dataset"},
			"creator": {Values: []string{"first", "second"}},
			"empty":   {Value: "", Values: []string{"fallback"}},
			"blank":   {},
		},
	}

	tests := []struct {
		field string
		want  string
	}{
		{field: "title", want: "A Dataset"},
		{field: "creator", want: "first"},
		{field: "empty", want: "fallback"},
		{field: "blank", want: ""},
		{field: "missing", want: ""},
		{field: "", want: ""},
	}

	for _, tt := range tests {
		if got := record.Scalar(tt.field); got != tt.want {
			t.Fatalf("Scalar(%q) = %q, want %q", tt.field, got, tt.want)
		}
	}
}

func TestOutcomeTransitions(t *testing.T) {
	t.Parallel()

	o := NewOutcome("oid-1")
	for _, next := range []OutcomeState{OutcomeResolved, OutcomeRendered, OutcomeDispatching, OutcomeSucceeded} {
		if err := o.Transition(next); err != nil {
			t.Fatalf("Transition(%s) unexpected error = %v", next, err)
		}
	}

	if err := o.Transition(OutcomeFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition from terminal error = %v, want ErrInvalidTransition", err)
	}

	skip := NewOutcome("oid-2")
	if err := skip.Transition(OutcomeDispatching); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition(skip) error = %v, want ErrInvalidTransition", err)
	}
}

func TestOutcomeFailKeepsFirstReason(t *testing.T) {
	t.Parallel()

	o := NewOutcome("oid-1")
	o.Fail("record not found")
	o.Fail("second cause")

	if !o.Failed() {
		t.Fatal("outcome should be failed")
	}
	if o.Reason != "record not found" {
		t.Fatalf("Reason = %q, want first cause", o.Reason)
	}
}

func TestResolutionErrorsWrap(t *testing.T) {
	t.Parallel()

	if !errors.Is(ErrRecordNotFound, ErrResolution) || !errors.Is(ErrRecordNotFound, ErrNotFound) {
		t.Fatal("ErrRecordNotFound should wrap ErrResolution and ErrNotFound")
	}
	if !errors.Is(ErrAmbiguous, ErrResolution) {
		t.Fatal("ErrAmbiguous should wrap ErrResolution")
	}
}
