package bridge

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestParseDocument(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		wantOutcome Outcome
		wantKind    ErrorKind
		wantData    string
		wantMessage string
	}{
		{
			name:        "success keeps data verbatim",
			doc:         `{"success":true,"data":{"b":2,"a":[1,2,{"c":null}]}}`,
			wantOutcome: OutcomeSuccess,
			wantData:    `{"b":2,"a":[1,2,{"c":null}]}`,
		},
		{
			name:        "failure carries error text",
			doc:         `{"success":false,"error":"app.json not found","stackTrace":"at line 3"}`,
			wantOutcome: OutcomeFailure,
			wantKind:    KindInterpreterError,
			wantMessage: "app.json not found",
		},
		{
			name:        "failure with reported kind",
			doc:         `{"success":false,"error":"exit 1","errorKind":"process-exit-nonzero"}`,
			wantOutcome: OutcomeFailure,
			wantKind:    KindNonZeroExit,
			wantMessage: "exit 1",
		},
		{
			name:        "unknown kind falls back",
			doc:         `{"success":false,"error":"x","errorKind":"weird"}`,
			wantOutcome: OutcomeFailure,
			wantKind:    KindInterpreterError,
			wantMessage: "x",
		},
		{
			name:        "invalid json",
			doc:         `{"success":tru`,
			wantOutcome: OutcomeFailure,
			wantKind:    KindMalformedResult,
		},
		{
			name:        "missing success",
			doc:         `{"data":1}`,
			wantOutcome: OutcomeFailure,
			wantKind:    KindMalformedResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseDocument([]byte(tt.doc), time.Second)

			if res.Outcome != tt.wantOutcome {
				t.Fatalf("Outcome = %s, want %s", res.Outcome, tt.wantOutcome)
			}

			if tt.wantOutcome == OutcomeSuccess {
				if got := string(*res.Data); got != tt.wantData {
					t.Errorf("Data = %s, want %s", got, tt.wantData)
				}

				return
			}

			if res.Error.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", res.Error.Kind, tt.wantKind)
			}

			if tt.wantMessage != "" && res.Error.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", res.Error.Message, tt.wantMessage)
			}

			if tt.wantKind == KindMalformedResult && !strings.Contains(res.Error.Diagnostic, strings.TrimSpace(tt.doc)[:5]) {
				t.Errorf("Diagnostic = %q, want lead fragment of raw document", res.Error.Diagnostic)
			}
		})
	}
}

func TestParseDocument_DiagnosticFromErrorRecord(t *testing.T) {
	res := ParseDocument([]byte(`{"success":false,"error":"boom","type":"System.IO.IOException","stackTrace":"at <ScriptBlock>, line 4"}`), 0)

	for _, want := range []string{"System.IO.IOException", "line 4"} {
		if !strings.Contains(res.Error.Diagnostic, want) {
			t.Errorf("Diagnostic = %q, missing %q", res.Error.Diagnostic, want)
		}
	}
}

func TestSideChannelDecoder_MissingFile(t *testing.T) {
	ch, err := NewResultChannel(t.TempDir())
	if err != nil {
		t.Fatalf("NewResultChannel() error = %v", err)
	}

	dec := &SideChannelDecoder{Channel: ch, Retries: 3, Interval: 5 * time.Millisecond}

	start := time.Now()
	res := dec.Decode(t.Context(), &Exit{Code: 3, Stderr: "boom\n"})

	if res.Outcome != OutcomeFailure || res.Error.Kind != KindMalformedResult {
		t.Fatalf("result = %+v, want malformed-result failure", res)
	}

	if !strings.Contains(res.Error.Diagnostic, "boom") {
		t.Errorf("Diagnostic = %q, want stderr", res.Error.Diagnostic)
	}

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("retries took %s, want bounded", elapsed)
	}
}

func TestSideChannelDecoder_LateFile(t *testing.T) {
	ch, err := NewResultChannel(t.TempDir())
	if err != nil {
		t.Fatalf("NewResultChannel() error = %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		partial := ch.Path() + partialSuffix
		_ = os.WriteFile(partial, []byte(`{"success":true,"data":"late"}`), 0o600)
		_ = os.Rename(partial, ch.Path())
	}()

	dec := &SideChannelDecoder{Channel: ch, Retries: 20, Interval: 10 * time.Millisecond}

	res := dec.Decode(t.Context(), &Exit{})
	if !res.OK() {
		t.Fatalf("result = %+v, want success", res)
	}

	if string(*res.Data) != `"late"` {
		t.Errorf("Data = %s", *res.Data)
	}

	if _, statErr := os.Stat(ch.Path()); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("result file still present: %v", statErr)
	}
}

func TestSideChannelDecoder_CancelledDiscardsPartial(t *testing.T) {
	ch, err := NewResultChannel(t.TempDir())
	if err != nil {
		t.Fatalf("NewResultChannel() error = %v", err)
	}

	for _, p := range []string{ch.Path(), ch.Path() + partialSuffix} {
		if writeErr := os.WriteFile(p, []byte(`{"success":true,"data":1}`), 0o600); writeErr != nil {
			t.Fatal(writeErr)
		}
	}

	res := (&SideChannelDecoder{Channel: ch}).Decode(t.Context(), &Exit{Cancelled: true})

	if res.Outcome != OutcomeCancelled || res.Cancellation.Kind != KindCancelled {
		t.Fatalf("result = %+v, want cancelled", res)
	}

	for _, p := range []string{ch.Path(), ch.Path() + partialSuffix} {
		if _, statErr := os.Stat(p); !errors.Is(statErr, os.ErrNotExist) {
			t.Errorf("%s still present after cancel", p)
		}
	}

	if _, readErr := ch.Read(); !errors.Is(readErr, errChannelConsumed) {
		t.Errorf("Read() after discard = %v, want consumed", readErr)
	}
}

func TestStdoutDecoder(t *testing.T) {
	tests := []struct {
		name        string
		exit        *Exit
		wantOutcome Outcome
		wantKind    ErrorKind
		wantMessage string
	}{
		{
			name:        "result after noise",
			exit:        &Exit{Stdout: "WARNING: x\nhello\n{\"success\":true,\"data\":{}}\n"},
			wantOutcome: OutcomeSuccess,
		},
		{
			name:        "non-zero exit without stdout uses stderr",
			exit:        &Exit{Code: 2, Stderr: "\x1b[31mfatal: no module\x1b[0m\n"},
			wantOutcome: OutcomeFailure,
			wantKind:    KindNonZeroExit,
			wantMessage: "fatal: no module",
		},
		{
			name:        "non-zero exit without stderr",
			exit:        &Exit{Code: 4},
			wantOutcome: OutcomeFailure,
			wantKind:    KindNonZeroExit,
			wantMessage: "interpreter exited with code 4",
		},
		{
			name:        "clean exit without object",
			exit:        &Exit{Stdout: "nothing here"},
			wantOutcome: OutcomeFailure,
			wantKind:    KindMalformedResult,
		},
		{
			name:        "timeout",
			exit:        &Exit{TimedOut: true, Timeout: time.Minute, Stdout: `{"success":true}`},
			wantOutcome: OutcomeCancelled,
			wantKind:    KindTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := StdoutDecoder{}.Decode(t.Context(), tt.exit)

			if res.Outcome != tt.wantOutcome {
				t.Fatalf("Outcome = %s, want %s (%+v)", res.Outcome, tt.wantOutcome, res)
			}

			switch res.Outcome {
			case OutcomeFailure:
				if res.Error.Kind != tt.wantKind {
					t.Errorf("Kind = %s, want %s", res.Error.Kind, tt.wantKind)
				}

				if tt.wantMessage != "" && res.Error.Message != tt.wantMessage {
					t.Errorf("Message = %q, want %q", res.Error.Message, tt.wantMessage)
				}
			case OutcomeCancelled:
				if res.Cancellation.Kind != tt.wantKind {
					t.Errorf("Cancellation.Kind = %s, want %s", res.Cancellation.Kind, tt.wantKind)
				}
			}
		})
	}
}

func TestMapResult(t *testing.T) {
	raw := Succeeded(json.RawMessage(`{"port":7049}`), time.Second)

	typed := MapResult(raw, func(data json.RawMessage) (int, error) {
		var v struct {
			Port int `json:"port"`
		}

		err := json.Unmarshal(data, &v)

		return v.Port, err
	})

	if !typed.OK() || *typed.Data != 7049 {
		t.Fatalf("MapResult() = %+v", typed)
	}

	bad := MapResult(raw, func(json.RawMessage) (int, error) {
		return 0, errors.New("wrong shape")
	})

	if bad.Outcome != OutcomeFailure || bad.Error.Kind != KindMalformedResult {
		t.Fatalf("MapResult() = %+v, want malformed-result", bad)
	}

	if bad.Error.Diagnostic != `{"port":7049}` {
		t.Errorf("Diagnostic = %q", bad.Error.Diagnostic)
	}

	cancelled := MapResult(Cancelled[json.RawMessage](&Cancellation{Kind: KindTimeout}, 0), func(json.RawMessage) (int, error) {
		t.Fatal("mapper called for cancelled result")
		return 0, nil
	})

	var info *ErrorInfo
	if !errors.As(cancelled.Err(), &info) || info.Kind != KindTimeout {
		t.Errorf("Err() = %v, want timeout ErrorInfo", cancelled.Err())
	}
}
