// Package session is the loopback TCP channel for sending follow-up prompts
// to a running task's runner process. The runner publishes its listener port
// through the ledger; any conductor process can then reach it.
//
// Wire format: an 8-digit zero-padded decimal length header followed by a
// JSON message, answered with "ok" or "error".
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	applog "github.com/CarpseDeam/Claude-Conductor/internal/log"
)

const (
	host        = "127.0.0.1"
	headerSize  = 8
	dialTimeout = 5 * time.Second

	maxMessageBytes = 1 << 20
)

type message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// SendPrompt delivers a follow-up prompt to the listener on port.
func SendPrompt(port int, prompt string) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), dialTimeout)
	if err != nil {
		return fmt.Errorf("connect to session %d: %w", port, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(dialTimeout))

	payload, err := json.Marshal(message{Type: "prompt", Content: prompt})
	if err != nil {
		return fmt.Errorf("encode prompt: %w", err)
	}

	frame := append([]byte(fmt.Sprintf("%08d", len(payload))), payload...)
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}

	resp := make([]byte, 16)
	n, err := conn.Read(resp)
	if err != nil {
		return fmt.Errorf("read session response: %w", err)
	}
	if string(resp[:n]) != "ok" {
		return fmt.Errorf("session rejected prompt: %q", string(resp[:n]))
	}
	return nil
}

// Listener accepts follow-up prompts for one running task.
type Listener struct {
	onPrompt func(string)
	ln       net.Listener
	logger   *slog.Logger
}

func NewListener(onPrompt func(string)) *Listener {
	return &Listener{onPrompt: onPrompt, logger: applog.WithComponent("session")}
}

// Start binds an ephemeral loopback port and serves until ctx is cancelled
// or Stop is called. Returns the bound port.
func (l *Listener) Start(ctx context.Context) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("bind session listener: %w", err)
	}
	l.ln = ln

	port := ln.Addr().(*net.TCPAddr).Port
	l.logger.Info("session listener started", slog.Int("port", port))

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go l.acceptLoop()

	return port, nil
}

// Stop closes the listener. Safe to call more than once.
func (l *Listener) Stop() {
	if l.ln != nil {
		_ = l.ln.Close()
	}
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		l.handle(conn)
	}
}

// handle reads one framed message, dispatches it, and answers. One message
// per connection, matching the sender.
func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(dialTimeout))

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		l.reject(conn, "short header")
		return
	}
	msgLen, err := strconv.Atoi(string(header))
	if err != nil || msgLen <= 0 || msgLen > maxMessageBytes {
		l.reject(conn, "bad length header")
		return
	}

	data := make([]byte, msgLen)
	if _, err := io.ReadFull(conn, data); err != nil {
		l.reject(conn, "short body")
		return
	}

	var msg message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "prompt" {
		l.reject(conn, "unrecognized message")
		return
	}

	l.onPrompt(msg.Content)
	_, _ = conn.Write([]byte("ok"))
}

func (l *Listener) reject(conn net.Conn, why string) {
	l.logger.Warn("session message rejected", slog.String("reason", why))
	_, _ = conn.Write([]byte("error"))
}
