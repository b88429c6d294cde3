package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func echoHandler(ctx context.Context, params json.RawMessage) (Response, error) {
	return Response{OK: true, Result: json.RawMessage(params)}, nil
}

func TestServe_NDJSONRoundTrip(t *testing.T) {
	in := strings.NewReader(`{"id":"1","method":"compas.validate","params":{"mode":"warn"}}` + "\n")
	var out bytes.Buffer

	err := Serve(context.Background(), in, &out, Dispatcher{"compas.validate": echoHandler})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimRight(out.Bytes(), "\n"), &resp); err != nil {
		t.Fatalf("invalid response json: %v, got %q", err, out.String())
	}
	if !resp.OK {
		t.Fatalf("expected ok=true, got %+v", resp)
	}
	if string(resp.ID) != `"1"` {
		t.Errorf("expected id echoed back, got %s", resp.ID)
	}
}

func TestServe_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	in := strings.NewReader(`{"id":"2","method":"compas.unknown"}` + "\n")
	var out bytes.Buffer

	if err := Serve(context.Background(), in, &out, Dispatcher{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimRight(out.Bytes(), "\n"), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.OK {
		t.Fatal("expected ok=false")
	}
	if resp.Error == nil || resp.Error.Code != "rpc.method_not_found" {
		t.Fatalf("expected rpc.method_not_found, got %+v", resp.Error)
	}
}

func TestServe_ContentLengthFraming(t *testing.T) {
	body := `{"id":"3","method":"compas.gate","params":{"kind":"ci_fast"}}`
	framed := "Content-Length: " + itoa(len(body)) + "\r\n\r\n" + body
	in := strings.NewReader(framed)
	var out bytes.Buffer

	err := Serve(context.Background(), in, &out, Dispatcher{"compas.gate": echoHandler})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(out.String(), "Content-Length: ") {
		t.Fatalf("expected response framed with Content-Length, got %q", out.String())
	}
	_, jsonPart, found := strings.Cut(out.String(), "\r\n\r\n")
	if !found {
		t.Fatalf("expected header/body separator in %q", out.String())
	}
	var resp Response
	if err := json.Unmarshal([]byte(jsonPart), &resp); err != nil {
		t.Fatalf("invalid framed response body: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true, got %+v", resp)
	}
}

func TestServe_HandlerErrorBecomesHandlerFailedResponse(t *testing.T) {
	in := strings.NewReader(`{"id":"4","method":"compas.exec"}` + "\n")
	var out bytes.Buffer

	failing := func(ctx context.Context, params json.RawMessage) (Response, error) {
		return Response{}, errAlways
	}
	if err := Serve(context.Background(), in, &out, Dispatcher{"compas.exec": failing}); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimRight(out.Bytes(), "\n"), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != "rpc.handler_failed" {
		t.Fatalf("expected rpc.handler_failed, got %+v", resp.Error)
	}
}

func TestServe_MultipleNDJSONMessages(t *testing.T) {
	in := strings.NewReader(
		`{"id":"1","method":"compas.validate"}` + "\n" +
			`{"id":"2","method":"compas.validate"}` + "\n",
	)
	var out bytes.Buffer

	if err := Serve(context.Background(), in, &out, Dispatcher{"compas.validate": echoHandler}); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 response lines, got %d: %v", len(lines), lines)
	}
}

var errAlways = simpleError("handler exploded")

type simpleError string

func (e simpleError) Error() string { return string(e) }

func itoa(n int) string {
	return string(rune('0'+n/100%10)) + string(rune('0'+n/10%10)) + string(rune('0'+n%10))
}
