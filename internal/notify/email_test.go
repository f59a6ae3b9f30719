package notify

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("noreply@example.com", "a@example.com", "Reset your password", "<p>hi</p>")

	head, body, ok := strings.Cut(msg, "\r\n\r\n")
	require.True(t, ok)
	assert.Equal(t, "<p>hi</p>", body)
	assert.Contains(t, head, "From: noreply@example.com\r\n")
	assert.Contains(t, head, "To: a@example.com\r\n")
	assert.Contains(t, head, "Content-Type: text/html; charset=UTF-8")
}

func TestTokenLink(t *testing.T) {
	assert.Equal(t, "https://chat.example.com/verify-email?token=a%2Bb%2Fc",
		tokenLink("https://chat.example.com", "/verify-email", "a+b/c"))
}

// fakeSMTP accepts one plain SMTP session and returns the DATA payload
func fakeSMTP(t *testing.T) (addr string, received <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		reply("220 localhost ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 OK")
			case cmd == "DATA":
				reply("354 go ahead")
				var sb strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					sb.WriteString(l)
				}
				out <- sb.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("502 not implemented")
			}
		}
	}()
	return ln.Addr().String(), out
}

func TestSMTPMailer_sendVerification(t *testing.T) {
	addr, received := fakeSMTP(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	m := NewSMTPMailer(host, port, "", "", "noreply@example.com", "https://chat.example.com/", zap.NewNop().Sugar())
	require.NoError(t, m.SendVerification(context.Background(), "alice@example.com", "<alice>", "tok123"))

	select {
	case data := <-received:
		assert.Contains(t, data, "To: alice@example.com")
		assert.Contains(t, data, "https://chat.example.com/verify-email?token=tok123")
		assert.Contains(t, data, "&lt;alice&gt;")
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
