package http2_test

import (
	"net"
	"testing"
	"time"

	"github.com/perbu/h2prio/pkg/hpack"
	"github.com/perbu/h2prio/pkg/http2"
	"github.com/perbu/h2prio/pkg/logging"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		header http2.FrameHeader
	}{
		{
			name: "DATA frame",
			header: http2.FrameHeader{
				Length:   100,
				Type:     http2.FrameData,
				Flags:    http2.FlagEndStream,
				StreamID: 1,
			},
		},
		{
			name: "HEADERS frame",
			header: http2.FrameHeader{
				Length:   200,
				Type:     http2.FrameHeaders,
				Flags:    http2.FlagEndHeaders,
				StreamID: 3,
			},
		},
		{
			name: "SETTINGS frame",
			header: http2.FrameHeader{
				Length:   0,
				Type:     http2.FrameSettings,
				Flags:    http2.FlagAck,
				StreamID: 0,
			},
		},
		{
			name: "PING frame",
			header: http2.FrameHeader{
				Length:   8,
				Type:     http2.FramePing,
				Flags:    http2.FlagNone,
				StreamID: 0,
			},
		},
		{
			name: "PRIORITY frame",
			header: http2.FrameHeader{
				Length:   5,
				Type:     http2.FramePriority,
				Flags:    http2.FlagNone,
				StreamID: 5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			go func() {
				if err := http2.WriteFrameHeader(client, tt.header); err != nil {
					t.Errorf("WriteFrameHeader failed: %v", err)
				}
			}()

			header, err := http2.ReadFrameHeader(server)
			if err != nil {
				t.Fatalf("ReadFrameHeader failed: %v", err)
			}

			if header.Length != tt.header.Length {
				t.Errorf("Length mismatch: got %d, want %d", header.Length, tt.header.Length)
			}
			if header.Type != tt.header.Type {
				t.Errorf("Type mismatch: got %s, want %s", header.Type, tt.header.Type)
			}
			if header.Flags != tt.header.Flags {
				t.Errorf("Flags mismatch: got 0x%x, want 0x%x", header.Flags, tt.header.Flags)
			}
			if header.StreamID != tt.header.StreamID {
				t.Errorf("StreamID mismatch: got %d, want %d", header.StreamID, tt.header.StreamID)
			}
		})
	}
}

func TestPriorityFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	p := http2.PriorityParam{Exclusive: true, StreamDep: 7, Weight: 42}

	go func() {
		if err := http2.WritePriorityFrame(client, 9, p); err != nil {
			t.Errorf("WritePriorityFrame failed: %v", err)
		}
	}()

	header, err := http2.ReadFrameHeader(server)
	if err != nil {
		t.Fatalf("ReadFrameHeader failed: %v", err)
	}
	if header.Type != http2.FramePriority {
		t.Fatalf("frame type mismatch: got %s, want PRIORITY", header.Type)
	}

	payload := make([]byte, header.Length)
	if _, err := server.Read(payload); err != nil {
		t.Fatalf("reading PRIORITY payload failed: %v", err)
	}

	got, err := http2.ParsePriorityFrame(payload)
	if err != nil {
		t.Fatalf("ParsePriorityFrame failed: %v", err)
	}
	if got != p {
		t.Errorf("PriorityParam mismatch: got %+v, want %+v", got, p)
	}
}

func TestHPACKEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		headers []hpack.HeaderField
	}{
		{
			name: "Simple headers",
			headers: []hpack.HeaderField{
				{Name: ":method", Value: "GET"},
				{Name: ":path", Value: "/"},
				{Name: ":scheme", Value: "https"},
				{Name: ":authority", Value: "example.com"},
			},
		},
		{
			name: "Headers with custom values",
			headers: []hpack.HeaderField{
				{Name: ":method", Value: "POST"},
				{Name: ":path", Value: "/api/users"},
				{Name: ":scheme", Value: "https"},
				{Name: ":authority", Value: "api.example.com"},
				{Name: "content-type", Value: "application/json"},
				{Name: "content-length", Value: "123"},
			},
		},
		{
			name: "Response headers",
			headers: []hpack.HeaderField{
				{Name: ":status", Value: "200"},
				{Name: "content-type", Value: "text/html"},
				{Name: "content-length", Value: "1024"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder := hpack.NewEncoder(4096)
			decoder := hpack.NewDecoder(4096)

			encoded, err := encoder.Encode(tt.headers)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, err := decoder.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if len(decoded) != len(tt.headers) {
				t.Fatalf("Header count mismatch: got %d, want %d", len(decoded), len(tt.headers))
			}
			for i, hf := range decoded {
				if hf.Name != tt.headers[i].Name {
					t.Errorf("Header %d name mismatch: got %q, want %q", i, hf.Name, tt.headers[i].Name)
				}
				if hf.Value != tt.headers[i].Value {
					t.Errorf("Header %d value mismatch: got %q, want %q", i, hf.Value, tt.headers[i].Value)
				}
			}
		})
	}
}

func TestStreamManagerLifecycle(t *testing.T) {
	sm := http2.NewStreamManager()

	s1 := sm.Create(1, "stream-1")
	s2 := sm.Create(3, "stream-3")

	if s1.ID != 1 {
		t.Errorf("Stream 1 ID mismatch: got %d, want 1", s1.ID)
	}
	if s2.ID != 3 {
		t.Errorf("Stream 3 ID mismatch: got %d, want 3", s2.ID)
	}

	retrieved, ok := sm.Get(1)
	if !ok {
		t.Fatal("Failed to get stream 1")
	}
	if retrieved.ID != 1 {
		t.Errorf("Retrieved stream ID mismatch: got %d, want 1", retrieved.ID)
	}

	retrieved, ok = sm.GetByName("stream-3")
	if !ok {
		t.Fatal("Failed to get stream by name")
	}
	if retrieved.ID != 3 {
		t.Errorf("Retrieved stream ID mismatch: got %d, want 3", retrieved.ID)
	}

	if sm.Count() != 2 {
		t.Errorf("Stream count mismatch: got %d, want 2", sm.Count())
	}

	sm.Delete(1)
	if sm.Count() != 1 {
		t.Errorf("Stream count after delete mismatch: got %d, want 1", sm.Count())
	}
}

func TestStreamStateTransitions(t *testing.T) {
	stream := http2.NewStream(1, "test-stream")

	if stream.State != http2.StreamIdle {
		t.Errorf("Initial state mismatch: got %s, want idle", stream.State)
	}

	stream.UpdateState(false, true)
	if stream.State != http2.StreamOpen {
		t.Errorf("State after HEADERS mismatch: got %s, want open", stream.State)
	}

	stream.UpdateState(true, true)
	if stream.State != http2.StreamHalfClosedLocal {
		t.Errorf("State after END_STREAM mismatch: got %s, want half-closed(local)", stream.State)
	}

	stream.UpdateState(true, false)
	if stream.State != http2.StreamClosed {
		t.Errorf("Final state mismatch: got %s, want closed", stream.State)
	}
}

func TestConnectionSetupExchangesSettings(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	logger := logging.NewLogger("test")

	client := http2.NewConn(clientConn, logger, true)
	server := http2.NewConn(serverConn, logger, false)

	errChan := make(chan error, 2)
	go func() { errChan <- client.Start() }()
	go func() { errChan <- server.Start() }()

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("Connection start failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connection start timeout")
	}

	time.Sleep(200 * time.Millisecond)

	if client.GetSetting(http2.SettingHeaderTableSize) != 4096 {
		t.Error("Client settings not initialized")
	}
	if server.GetSetting(http2.SettingHeaderTableSize) != 4096 {
		t.Error("Server settings not initialized")
	}

	client.Stop()
	server.Stop()
}

// TestRequestResponseRoundTrip sends a request and response across a pipe and
// verifies both sides observe the decoded headers and body.
// TODO: intermittently flaky under -race due to sleep-based synchronization
// around connection setup; needs an explicit settings-ack barrier instead.
func TestRequestResponseRoundTrip(t *testing.T) {
	t.Skip("flaky under -race: sleep-based connection setup, see TODO")

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	logger := logging.NewLogger("test")

	client := http2.NewConn(clientConn, logger, true)
	server := http2.NewConn(serverConn, logger, false)

	go client.Start()
	go server.Start()

	time.Sleep(500 * time.Millisecond)

	streamID := uint32(1)
	reqOpts := http2.TxReqOptions{
		Method:    "GET",
		Path:      "/test",
		Scheme:    "https",
		Authority: "example.com",
		Headers: map[string]string{
			"user-agent": "test-client",
		},
		Body:      []byte("test body"),
		EndStream: true,
	}

	errChan := make(chan error, 1)
	go func() { errChan <- client.TxReq(streamID, reqOpts) }()

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("TxReq failed: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("TxReq timeout")
	}

	time.Sleep(200 * time.Millisecond)

	stream, ok := server.GetStream(streamID)
	if !ok {
		t.Fatal("Stream not found on server")
	}
	if stream.Method != "GET" {
		t.Errorf("Method mismatch: got %q, want GET", stream.Method)
	}
	if stream.Path != "/test" {
		t.Errorf("Path mismatch: got %q, want /test", stream.Path)
	}

	respOpts := http2.TxRespOptions{
		Status: "200",
		Headers: map[string]string{
			"content-type": "text/plain",
		},
		Body:      []byte("response body"),
		EndStream: true,
	}

	go func() { errChan <- server.TxResp(streamID, respOpts) }()

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("TxResp failed: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("TxResp timeout")
	}

	time.Sleep(200 * time.Millisecond)

	clientStream, ok := client.GetStream(streamID)
	if !ok {
		t.Fatal("Stream not found on client")
	}
	if clientStream.Status != "200" {
		t.Errorf("Status mismatch: got %q, want 200", clientStream.Status)
	}

	client.Stop()
	server.Stop()
}

func TestFlowControlWindowUpdate(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	logger := logging.NewLogger("test")

	client := http2.NewConn(clientConn, logger, true)
	server := http2.NewConn(serverConn, logger, false)

	go client.Start()
	go server.Start()

	time.Sleep(200 * time.Millisecond)

	clientWindow := client.GetSendWindow(0)
	if clientWindow != http2.DefaultWindowSize {
		t.Errorf("Initial client window mismatch: got %d, want %d", clientWindow, http2.DefaultWindowSize)
	}

	increment := uint32(1024)
	if err := client.TxWinup(0, increment); err != nil {
		t.Fatalf("TxWinup failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	serverWindow := server.GetSendWindow(0)
	if serverWindow != http2.DefaultWindowSize+int32(increment) {
		t.Errorf("Server window not updated: got %d, want %d",
			serverWindow, http2.DefaultWindowSize+int32(increment))
	}

	client.Stop()
	server.Stop()
}

func TestMalformedFramesDoNotPanic(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	logger := logging.NewLogger("test")
	client := http2.NewConn(clientConn, logger, true)

	go func() {
		buf := make([]byte, 4096)
		for {
			_, err := serverConn.Read(buf)
			if err != nil {
				return
			}
		}
	}()

	go client.Start()

	time.Sleep(100 * time.Millisecond)

	err := client.WriteRaw(
		999,
		http2.FrameData,
		http2.FlagEndStream,
		1,
		[]byte("short payload"),
	)
	if err != nil {
		t.Fatalf("WriteRaw failed: %v", err)
	}

	err = client.SendHex("000000 04 00 00000000")
	if err != nil {
		t.Fatalf("SendHex failed: %v", err)
	}

	client.Stop()
}

func TestSettingsUpdatePropagates(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	logger := logging.NewLogger("test")

	client := http2.NewConn(clientConn, logger, true)
	server := http2.NewConn(serverConn, logger, false)

	go client.Start()
	go server.Start()

	time.Sleep(200 * time.Millisecond)

	newSettings := map[http2.SettingID]uint32{
		http2.SettingHeaderTableSize: 8192,
		http2.SettingMaxFrameSize:    32768,
	}

	if err := client.TxSettings(false, newSettings); err != nil {
		t.Fatalf("TxSettings failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if client.GetSetting(http2.SettingHeaderTableSize) != 8192 {
		t.Error("Client HEADER_TABLE_SIZE not updated")
	}
	if client.GetSetting(http2.SettingMaxFrameSize) != 32768 {
		t.Error("Client MAX_FRAME_SIZE not updated")
	}

	client.Stop()
	server.Stop()
}

// TestReceivedPriorityFrameReparentsStream verifies that a standalone
// PRIORITY frame moves the named stream's forest node, not just its
// bookkeeping fields.
func TestReceivedPriorityFrameReparentsStream(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	logger := logging.NewLogger("test")

	client := http2.NewConn(clientConn, logger, true)
	server := http2.NewConn(serverConn, logger, false)

	go client.Start()
	go server.Start()

	time.Sleep(200 * time.Millisecond)

	if err := client.TxReq(1, http2.TxReqOptions{
		Method: "GET", Path: "/a", Scheme: "http", Authority: "x",
		Headers: map[string]string{}, EndStream: true,
	}); err != nil {
		t.Fatalf("TxReq stream 1 failed: %v", err)
	}
	if err := client.TxReq(3, http2.TxReqOptions{
		Method: "GET", Path: "/b", Scheme: "http", Authority: "x",
		Headers: map[string]string{}, EndStream: true,
	}); err != nil {
		t.Fatalf("TxReq stream 3 failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := client.TxPriority(3, false, 1, 32); err != nil {
		t.Fatalf("TxPriority failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	stream3, ok := server.GetStream(3)
	if !ok {
		t.Fatal("stream 3 not found on server")
	}
	if stream3.Prio.DepPrev() == nil {
		t.Fatal("stream 3 has no forest parent after reparenting")
	}
	if stream3.Prio.DepPrev().StreamID != 1 {
		t.Errorf("stream 3 parent mismatch: got %d, want 1", stream3.Prio.DepPrev().StreamID)
	}

	client.Stop()
	server.Stop()
}
