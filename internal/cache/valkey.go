package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	MaxIdle      int
	TLS          bool
}

// ValkeyProvider implements Provider over RESP2 with a small pool of idle connections.
type ValkeyProvider struct {
	cfg  ValkeyConfig
	idle chan *respConn
}

// ErrServer wraps error replies sent by the server.
var ErrServer = errors.New("valkey error reply")

// NewValkeyProvider creates a Provider and pings the server so bad addresses or
// credentials fail at startup.
func NewValkeyProvider(ctx context.Context, cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	cfg = withDefaults(cfg)
	p := &ValkeyProvider{cfg: cfg, idle: make(chan *respConn, cfg.MaxIdle)}

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	reply, err := p.do(ctx, "PING")
	if err != nil {
		return nil, fmt.Errorf("valkey ping %s: %w", cfg.Addr, err)
	}
	if reply.kind != kindStatus || string(reply.data) != "PONG" {
		return nil, fmt.Errorf("unexpected PING reply %q", reply.data)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", p.key(key))
	if err != nil {
		return nil, err
	}
	switch reply.kind {
	case kindNil:
		return nil, ErrCacheMiss
	case kindBulk:
		return reply.data, nil
	default:
		return nil, fmt.Errorf("unexpected GET reply kind %q", reply.kind)
	}
}

// Set stores bytes, expiring them after ttl when ttl is positive.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := [][]byte{[]byte("SET"), p.key(key), value}
	if ttl > 0 {
		args = append(args, []byte("PX"), []byte(strconv.FormatInt(ttl.Milliseconds(), 10)))
	}
	reply, err := p.doArgs(ctx, args)
	if err != nil {
		return err
	}
	if reply.kind != kindStatus || string(reply.data) != "OK" {
		return fmt.Errorf("unexpected SET reply %q", reply.data)
	}
	return nil
}

// Del removes a key from the cache.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", p.key(key))
	return err
}

// Close drops every idle connection.
func (p *ValkeyProvider) Close() error {
	for {
		select {
		case rc := <-p.idle:
			rc.close()
		default:
			return nil
		}
	}
}

func (p *ValkeyProvider) key(key string) []byte {
	return []byte(p.cfg.KeyPrefix + key)
}

func (p *ValkeyProvider) do(ctx context.Context, command string, args ...[]byte) (respReply, error) {
	parts := make([][]byte, 0, len(args)+1)
	parts = append(parts, []byte(command))
	return p.doArgs(ctx, append(parts, args...))
}

// doArgs runs one command, retrying transient network failures with exponential backoff.
func (p *ValkeyProvider) doArgs(ctx context.Context, args [][]byte) (respReply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return respReply{}, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}

		rc, err := p.acquire(ctx)
		if err != nil {
			lastErr = err
			if retryable(err) {
				continue
			}
			return respReply{}, err
		}
		reply, err := rc.roundTrip(args)
		if err != nil {
			rc.close()
			lastErr = err
			if retryable(err) {
				continue
			}
			return respReply{}, err
		}
		p.release(rc)
		return reply, nil
	}
	return respReply{}, lastErr
}

func (p *ValkeyProvider) acquire(ctx context.Context) (*respConn, error) {
	select {
	case rc := <-p.idle:
		return rc, nil
	default:
	}
	rc, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.handshake(rc); err != nil {
		rc.close()
		return nil, err
	}
	return rc, nil
}

func (p *ValkeyProvider) release(rc *respConn) {
	select {
	case p.idle <- rc:
	default:
		rc.close()
	}
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostForTLS(p.cfg.Addr)}}
		conn, err = td.DialContext(ctx, "tcp", p.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

// handshake authenticates and selects the database on a fresh connection.
func (p *ValkeyProvider) handshake(rc *respConn) error {
	if p.cfg.Password != "" {
		args := [][]byte{[]byte("AUTH")}
		if p.cfg.Username != "" {
			args = append(args, []byte(p.cfg.Username))
		}
		args = append(args, []byte(p.cfg.Password))
		if err := rc.expectOK(args); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if err := rc.expectOK([][]byte{[]byte("SELECT"), []byte(strconv.Itoa(p.cfg.DB))}); err != nil {
			return fmt.Errorf("select db %d: %w", p.cfg.DB, err)
		}
	}
	return nil
}

type replyKind byte

const (
	kindStatus  replyKind = '+'
	kindInteger replyKind = ':'
	kindBulk    replyKind = '$'
	kindNil     replyKind = '_'
)

type respReply struct {
	kind replyKind
	data []byte
}

// respConn is one RESP2 connection. It is not safe for concurrent use.
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (rc *respConn) close() {
	_ = rc.conn.Close()
}

func (rc *respConn) roundTrip(args [][]byte) (respReply, error) {
	if err := rc.write(args); err != nil {
		return respReply{}, err
	}
	return rc.read()
}

func (rc *respConn) expectOK(args [][]byte) error {
	reply, err := rc.roundTrip(args)
	if err != nil {
		return err
	}
	if reply.kind != kindStatus || !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("unexpected reply %q", reply.data)
	}
	return nil
}

func (rc *respConn) write(args [][]byte) error {
	if err := rc.conn.SetWriteDeadline(time.Now().Add(rc.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(rc.writer, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(rc.writer, "$%d\r\n", len(arg))
		rc.writer.Write(arg)
		rc.writer.WriteString("\r\n")
	}
	// bufio.Writer keeps the first error and reports it here
	return rc.writer.Flush()
}

func (rc *respConn) read() (respReply, error) {
	if err := rc.conn.SetReadDeadline(time.Now().Add(rc.readTimeout)); err != nil {
		return respReply{}, err
	}
	line, err := rc.line()
	if err != nil {
		return respReply{}, err
	}
	if len(line) == 0 {
		return respReply{}, errors.New("empty RESP line")
	}
	kind, body := replyKind(line[0]), line[1:]
	switch kind {
	case kindStatus, kindInteger:
		return respReply{kind: kind, data: body}, nil
	case '-':
		return respReply{}, fmt.Errorf("%w: %s", ErrServer, body)
	case kindBulk:
		size, err := strconv.Atoi(string(body))
		if err != nil {
			return respReply{}, fmt.Errorf("bulk length %q: %w", body, err)
		}
		if size < 0 {
			return respReply{kind: kindNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(rc.reader, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("bulk string not terminated by CRLF")
		}
		return respReply{kind: kindBulk, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", line[0])
	}
}

func (rc *respConn) line() ([]byte, error) {
	line, err := rc.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(string(line), "\r\n")), nil
}

func withDefaults(cfg ValkeyConfig) ValkeyConfig {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 4
	}
	return cfg
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 25 * time.Millisecond
}

func retryable(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
