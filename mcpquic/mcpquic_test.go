package mcpquic

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/shotdiff/kit"
)

func TestMagicBytes_Roundtrip(t *testing.T) {
	var buf bytes.Buffer
	if err := SendMagicBytes(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "MCP1" {
		t.Fatalf("magic: got %q", buf.String())
	}
	if err := ValidateMagicBytes(&buf); err != nil {
		t.Fatal(err)
	}
}

func TestValidateMagicBytes_Invalid(t *testing.T) {
	for _, in := range []string{"HTTP", "MC", ""} {
		err := ValidateMagicBytes(strings.NewReader(in))
		if !errors.Is(err, ErrInvalidMagicBytes) {
			t.Errorf("ValidateMagicBytes(%q) = %v", in, err)
		}
	}
}

func TestProductionQUICConfig(t *testing.T) {
	cfg := ProductionQUICConfig()
	if cfg.MaxIdleTimeout != DefaultIdleTimeout || cfg.KeepAlivePeriod != DefaultKeepAlive {
		t.Fatalf("unexpected timeouts: %v %v", cfg.MaxIdleTimeout, cfg.KeepAlivePeriod)
	}
	if cfg.Allow0RTT {
		t.Fatal("0-RTT should be disabled")
	}
}

func TestTLSConfigs(t *testing.T) {
	srv, err := ServerTLSConfig("", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(srv.Certificates) != 1 || srv.MinVersion != 0x0304 || srv.NextProtos[0] != ALPNProtocolMCP {
		t.Fatalf("server config: %+v", srv)
	}
	if _, err := ServerTLSConfig("missing.crt", "missing.key"); err == nil {
		t.Fatal("expected error for missing key pair")
	}
	if !ClientTLSConfig(true).InsecureSkipVerify || ClientTLSConfig(false).InsecureSkipVerify {
		t.Fatal("InsecureSkipVerify not honoured")
	}
}

func TestConnectionError(t *testing.T) {
	inner := errors.New("timeout")
	ce := &ConnectionError{RemoteAddr: "127.0.0.1:8443", Code: ConnErrorProtocolViolation, Err: inner}
	msg := ce.Error()
	if !strings.Contains(msg, "127.0.0.1:8443") || !strings.Contains(msg, "0x03") {
		t.Fatalf("error message: %s", msg)
	}
	if !errors.Is(ce, inner) {
		t.Fatal("Unwrap should return inner error")
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient("localhost:1234", nil)
	if c.tlsCfg == nil || c.tlsCfg.InsecureSkipVerify {
		t.Fatal("default TLS should verify the server")
	}
	ctx := context.Background()
	if _, err := c.ListTools(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("ListTools err = %v", err)
	}
	if _, err := c.CallTool(ctx, "locate_screenshot", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("CallTool err = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEndToEnd(t *testing.T) {
	tlsCfg, err := SelfSignedTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := mcp.NewServer(&mcp.Implementation{Name: "shotdiff-test", Version: "0.1.0"}, nil)
	var transport string
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "whoami",
		InputSchema: map[string]any{"type": "object"},
	}, func(ctx context.Context, _ any) (any, error) {
		transport = kit.GetTransport(ctx)
		return "transport=" + transport, nil
	}, func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	})

	l, err := Listen("127.0.0.1:0", tlsCfg, srv, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go l.Serve(ctx)

	c := NewClient(l.Addr().String(), ClientTLSConfig(true))
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	tools, err := c.ListTools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != "whoami" {
		t.Fatalf("tools: %+v", tools.Tools)
	}

	res, err := c.CallTool(ctx, "whoami", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Content[0].(*mcp.TextContent).Text; got != "transport=mcp_quic" {
		t.Fatalf("result: %q", got)
	}
}
