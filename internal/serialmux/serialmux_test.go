package serialmux

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func blockingPort() *TestableSerialPort {
	p := NewTestableSerialPort()
	p.BlockReads = true
	return p
}

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(blockingPort())

	id, ch := mux.Subscribe()
	if id == "" {
		t.Fatal("expected non-empty subscriber id")
	}
	mux.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after Unsubscribe")
	}
	// Unknown ids are ignored.
	mux.Unsubscribe("missing")
}

func TestSerialMux_SendCommandAppendsNewline(t *testing.T) {
	port := blockingPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("STREAM scan on"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := mux.SendCommand("FORMAT json\n"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got := string(port.GetWrittenData()); got != "STREAM scan on\nFORMAT json\n" {
		t.Errorf("written = %q", got)
	}

	port.WriteError = errors.New("boom")
	if err := mux.SendCommand("X"); err == nil {
		t.Error("expected write error")
	}
}

func TestSerialMux_Initialise(t *testing.T) {
	port := blockingPort()
	mux := NewSerialMux(port)

	if err := mux.Initialise(); err != nil {
		t.Fatalf("Initialise returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(port.GetWrittenData())), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 commands, got %d: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "CLOCK ") {
		t.Errorf("first command = %q, want clock sync", lines[0])
	}
	for _, want := range []string{"STREAM odom on", "STREAM scan on", "STREAM map on"} {
		if !strings.Contains(string(port.GetWrittenData()), want) {
			t.Errorf("missing %q", want)
		}
	}

	port.WriteError = errors.New("unplugged")
	if err := NewSerialMux(port).Initialise(); err == nil {
		t.Error("expected error when the clock sync write fails")
	}
}

func TestSerialMux_MonitorFansOutLines(t *testing.T) {
	port := blockingPort()
	mux := NewSerialMux(port)
	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte(`{"type":"odom","x":1}` + "\n" + `{"type":"scan","ranges":[1]}` + "\n"))

	for _, ch := range []chan string{a, b} {
		for _, want := range []string{`{"type":"odom","x":1}`, `{"type":"scan","ranges":[1]}`} {
			select {
			case got := <-ch:
				if got != want {
					t.Errorf("line = %q, want %q", got, want)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	port.Close()
}

func TestSerialMux_MonitorReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("device gone")
	mux := NewSerialMux(port)

	err := mux.Monitor(context.Background())
	if err == nil || !strings.Contains(err.Error(), "device gone") {
		t.Errorf("Monitor error = %v", err)
	}
}

func TestSerialMux_MonitorSkipsOversizedLine(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	mux.maxLine = 1024
	_, ch := mux.Subscribe()

	odom := `{"type":"odom","stamp_ns":1,"x":1,"qw":1}`
	huge := `{"type":"map","width":2000,"height":1,"data":[` + strings.Repeat("100,", 1999) + "100]}"
	port.AddReadData([]byte(`{"type":"scan","ranges":[1]}` + "\n" + huge + "\r\n" + odom + "\n"))

	// the port reports EOF once drained, which ends Monitor cleanly
	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor returned %v after an oversized line", err)
	}

	var got []string
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	want := []string{`{"type":"scan","ranges":[1]}`, odom}
	if len(got) != len(want) {
		t.Fatalf("delivered %d lines, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSerialMux_MonitorAcceptsLargeMap(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	// 1200×1200 fully occupied, over the old 4 MiB limit
	big := `{"type":"map","width":1200,"height":1200,"data":[` + strings.Repeat("100,", 1200*1200-1) + "100]}"
	port.AddReadData([]byte(big + "\n"))

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	select {
	case line := <-ch:
		if len(line) != len(big) {
			t.Errorf("line length = %d, want %d", len(line), len(big))
		}
	default:
		t.Fatal("map line was not delivered")
	}
}

func TestSerialMux_CloseClosesSubscribers(t *testing.T) {
	port := blockingPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel closed")
	}
	if !port.Closed {
		t.Error("expected port closed")
	}
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	port := blockingPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name   string
		method string
		form   url.Values
		status int
	}{
		{name: "valid", method: http.MethodPost, form: url.Values{"command": {"STREAM map off"}}, status: http.StatusOK},
		{name: "empty", method: http.MethodPost, form: url.Values{"command": {"  "}}, status: http.StatusBadRequest},
		{name: "get", method: http.MethodGet, status: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := localHostRequest(tt.method, "/debug/send-command-api", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
	if !strings.Contains(string(port.GetWrittenData()), "STREAM map off\n") {
		t.Errorf("command not written: %q", port.GetWrittenData())
	}
}

func TestAttachAdminRoutes_TailFiltersByType(t *testing.T) {
	port := blockingPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail?type=scan", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET tail: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	ping, _ := r.ReadString('\n')
	if !strings.HasPrefix(ping, ": ping") {
		t.Fatalf("first line = %q", ping)
	}

	port.AddReadData([]byte(`{"type":"odom","x":2}` + "\n" + `{"type":"scan","ranges":[3]}` + "\n"))

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"scan"`) {
				t.Errorf("unfiltered event: %q", line)
			}
			break
		}
	}
	port.Close()
}
