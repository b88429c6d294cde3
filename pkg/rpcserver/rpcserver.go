// Package rpcserver implements the JSON-RPC-like tool-server protocol
// (spec §6.3): a stdin/stdout transport that auto-detects per-stream
// framing (NDJSON or Content-Length-prefixed), dispatching named tool
// calls (compas.validate, compas.gate, compas.catalog, compas.exec) to
// the core engine and writing back responses in the same framing it
// read. Grounded on spec §6.2/§6.3's envelope and framing rules; no
// teacher or example repo carries a precedent for this exact dual-framing
// stdio protocol, so the transport itself is hand-written against stdlib
// only (see DESIGN.md).
package rpcserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Request is one tool-server call.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorPayload is the shared error shape embedded in every response.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the shared top-level envelope (spec §6.2): `id`, `ok`,
// `error`, `repo_root` plus whatever Result carries. Result is never
// nested under a "result" key on the wire — MarshalJSON flattens its
// fields into the same top-level object, so a validate call's
// `schema_version`/`violations`/`verdict`/... sit alongside `ok` and
// `repo_root` exactly as documented, and likewise for gate/exec/catalog.
type Response struct {
	ID       json.RawMessage
	OK       bool
	Error    *ErrorPayload
	RepoRoot string
	Result   interface{}
}

// MarshalJSON flattens Result's own fields (if any) into the envelope
// object rather than nesting them under a "result" key. Result is
// expected to marshal to a JSON object; a Result that marshals to a
// JSON scalar or array is nested under "result" as a fallback since it
// cannot be flattened into an object.
func (r Response) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}

	if r.Result != nil {
		resultJSON, err := json.Marshal(r.Result)
		if err != nil {
			return nil, err
		}
		if len(resultJSON) > 0 && resultJSON[0] == '{' {
			if err := json.Unmarshal(resultJSON, &out); err != nil {
				return nil, err
			}
		} else {
			out["result"] = r.Result
		}
	}

	out["ok"] = r.OK
	if r.Error != nil {
		out["error"] = r.Error
	}
	if r.RepoRoot != "" {
		out["repo_root"] = r.RepoRoot
	}
	if len(r.ID) > 0 {
		out["id"] = r.ID
	}
	return json.Marshal(out)
}

// Handler executes one named tool call against its raw params.
type Handler func(ctx context.Context, params json.RawMessage) (Response, error)

// Dispatcher routes method names to handlers.
type Dispatcher map[string]Handler

func methodNotFound(method string) Response {
	return Response{OK: false, Error: &ErrorPayload{
		Code:    "rpc.method_not_found",
		Message: fmt.Sprintf("unknown tool %q", method),
	}}
}

// Serve reads requests from r using auto-detected framing, dispatches
// each to d, and writes each response back to w using the SAME framing
// the stream was detected to use. It runs until r is exhausted or ctx is
// canceled.
func Serve(ctx context.Context, r io.Reader, w io.Writer, d Dispatcher) error {
	br := bufio.NewReader(r)
	framing, err := detectFraming(br)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, err := framing.readMessage(br)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		resp := handleMessage(ctx, d, raw)
		if err := framing.writeMessage(w, resp); err != nil {
			return err
		}
	}
}

func handleMessage(ctx context.Context, d Dispatcher, raw []byte) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Response{OK: false, Error: &ErrorPayload{
			Code: "rpc.invalid_request", Message: err.Error(),
		}}
	}

	handler, ok := d[req.Method]
	if !ok {
		resp := methodNotFound(req.Method)
		resp.ID = req.ID
		return resp
	}

	resp, err := handler(ctx, req.Params)
	if err != nil {
		resp = Response{OK: false, Error: &ErrorPayload{
			Code: "rpc.handler_failed", Message: err.Error(),
		}}
	}
	resp.ID = req.ID
	return resp
}

// framingKind is the detected per-stream message framing.
type framingKind int

const (
	framingNDJSON framingKind = iota
	framingContentLength
)

type framing struct {
	kind framingKind
}

// detectFraming peeks the first non-whitespace byte: '{' or '[' means
// NDJSON; a case-insensitive "Content-Length:" header means length-framed.
func detectFraming(br *bufio.Reader) (framing, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			if err == io.EOF {
				return framing{kind: framingNDJSON}, nil
			}
			return framing{}, err
		}
		if b[0] == ' ' || b[0] == '\t' || b[0] == '\r' || b[0] == '\n' {
			if _, err := br.Discard(1); err != nil {
				return framing{}, err
			}
			continue
		}
		if b[0] == '{' || b[0] == '[' {
			return framing{kind: framingNDJSON}, nil
		}

		head, err := br.Peek(len("content-length:"))
		if err == nil && strings.EqualFold(string(head), "content-length:") {
			return framing{kind: framingContentLength}, nil
		}
		return framing{kind: framingNDJSON}, nil
	}
}

func (f framing) readMessage(br *bufio.Reader) ([]byte, error) {
	switch f.kind {
	case framingContentLength:
		return readLengthFramed(br)
	default:
		return readNDJSONLine(br)
	}
}

func (f framing) writeMessage(w io.Writer, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	switch f.kind {
	case framingContentLength:
		_, err = fmt.Fprintf(w, "Content-Length: %d\r\n\r\n%s", len(data), data)
		return err
	default:
		_, err = w.Write(append(data, '\n'))
		return err
	}
}

// readNDJSONLine reads one line, tolerating a trailing \r, and skips
// blank lines between messages.
func readNDJSONLine(br *bufio.Reader) ([]byte, error) {
	for {
		line, err := br.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}
		return line, nil
	}
}

// readLengthFramed reads one "Content-Length: N\r\n\r\n<N bytes>" message,
// tolerating a bare "\n\n" header terminator and additional headers
// before it (ignored, matching the spec's tolerant framing description).
func readLengthFramed(br *bufio.Reader) ([]byte, error) {
	var length int
	haveLength := false

	for {
		line, err := br.ReadString('\n')
		if line == "" && err != nil {
			return nil, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break // blank line terminates the header block
		}
		if name, value, ok := strings.Cut(trimmed, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "content-length") {
			n, convErr := strconv.Atoi(strings.TrimSpace(value))
			if convErr != nil {
				return nil, fmt.Errorf("rpcserver: invalid Content-Length %q", value)
			}
			length = n
			haveLength = true
		}
		if err != nil {
			break
		}
	}
	if !haveLength {
		return nil, fmt.Errorf("rpcserver: missing Content-Length header")
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}
	return body, nil
}
