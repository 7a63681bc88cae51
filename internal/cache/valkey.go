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

// ValkeyProvider implements Provider backed by a Valkey/Redis-compatible
// server. Connections are short-lived: each operation dials, authenticates,
// runs, and closes, which keeps the provider stateless and safe for
// concurrent use without a pool.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the Valkey target.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

func (cfg *ValkeyConfig) applyDefaults() {
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
		cfg.MaxRetries = 1
	}
}

// NewValkeyProvider creates a Provider and pings the target to fail fast when
// connectivity or credentials are wrong.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	cfg.applyDefaults()
	provider := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := provider.ping(ctx); err != nil {
		return nil, err
	}
	return provider, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.do(ctx, func(conn *respConn) error {
		if err := conn.command("GET", []byte(key)); err != nil {
			return err
		}
		reply, err := conn.reply()
		if err != nil {
			return err
		}
		if reply.isNil {
			return ErrCacheMiss
		}
		if !reply.bulk() {
			return fmt.Errorf("unexpected GET reply type %q", reply.prefix)
		}
		payload = reply.data
		return nil
	})
	return payload, err
}

// Set stores bytes with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.do(ctx, func(conn *respConn) error {
		if err := conn.command("SET", setArgs(key, value, ttl, false)...); err != nil {
			return err
		}
		reply, err := conn.reply()
		if err != nil {
			return err
		}
		if !reply.ok() {
			return fmt.Errorf("unexpected SET response: %s", reply.data)
		}
		return nil
	})
}

// SetNX stores the value only if the key does not exist.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var stored bool
	err := p.do(ctx, func(conn *respConn) error {
		if err := conn.command("SET", setArgs(key, value, ttl, true)...); err != nil {
			return err
		}
		reply, err := conn.reply()
		if err != nil {
			return err
		}
		stored = !reply.isNil
		return nil
	})
	return stored, err
}

// Del removes a key from the cache.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	return p.do(ctx, func(conn *respConn) error {
		if err := conn.command("DEL", []byte(key)); err != nil {
			return err
		}
		_, err := conn.reply()
		return err
	})
}

// Close is a no-op; the provider holds no persistent connections.
func (p *ValkeyProvider) Close() error { return nil }

func setArgs(key string, value []byte, ttl time.Duration, nx bool) [][]byte {
	args := [][]byte{[]byte(key), value}
	if ttl > 0 {
		args = append(args, []byte("PX"), []byte(strconv.FormatInt(ttl.Milliseconds(), 10)))
	}
	if nx {
		args = append(args, []byte("NX"))
	}
	return args
}

func (p *ValkeyProvider) ping(ctx context.Context) error {
	return p.do(ctx, func(conn *respConn) error {
		if err := conn.command("PING"); err != nil {
			return err
		}
		reply, err := conn.reply()
		if err != nil {
			return err
		}
		if reply.prefix != '+' || string(reply.data) != "PONG" {
			return fmt.Errorf("unexpected PING response: %s", reply.data)
		}
		return nil
	})
}

// do runs fn against a fresh authenticated connection, retrying transient
// network failures with exponential backoff.
func (p *ValkeyProvider) do(ctx context.Context, fn func(*respConn) error) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := p.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !transient(err) || attempt == p.cfg.MaxRetries-1 {
			return err
		}
		time.Sleep(time.Duration(1<<attempt) * 25 * time.Millisecond)
	}
	return lastErr
}

func (p *ValkeyProvider) attempt(ctx context.Context, fn func(*respConn) error) error {
	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.close()

	if err := p.handshake(conn); err != nil {
		return err
	}
	return fn(conn)
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: dialDeadline(ctx, p.cfg.DialTimeout)}

	var (
		raw net.Conn
		err error
	)
	if p.cfg.TLS {
		host := p.cfg.Addr
		if h, _, splitErr := net.SplitHostPort(p.cfg.Addr); splitErr == nil {
			host = h
		}
		raw, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		})
	} else {
		raw, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}

	return &respConn{
		conn:         raw,
		reader:       bufio.NewReader(raw),
		writer:       bufio.NewWriter(raw),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

func (p *ValkeyProvider) handshake(conn *respConn) error {
	if p.cfg.Password != "" {
		args := [][]byte{[]byte(p.cfg.Password)}
		if p.cfg.Username != "" {
			args = [][]byte{[]byte(p.cfg.Username), []byte(p.cfg.Password)}
		}
		if err := conn.command("AUTH", args...); err != nil {
			return err
		}
		reply, err := conn.reply()
		if err != nil {
			return err
		}
		if !reply.ok() {
			return fmt.Errorf("auth failed: %s", reply.data)
		}
	}

	if p.cfg.DB > 0 {
		if err := conn.command("SELECT", []byte(strconv.Itoa(p.cfg.DB))); err != nil {
			return err
		}
		reply, err := conn.reply()
		if err != nil {
			return err
		}
		if !reply.ok() {
			return fmt.Errorf("select failed: %s", reply.data)
		}
	}
	return nil
}

// respConn wraps a network connection with the RESP subset the provider needs.
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

type respReply struct {
	prefix byte
	data   []byte
	isNil  bool
}

func (r respReply) bulk() bool { return r.prefix == '$' }
func (r respReply) ok() bool {
	return r.prefix == '+' && strings.EqualFold(string(r.data), "OK")
}

func (c *respConn) close() {
	_ = c.conn.Close()
}

func (c *respConn) command(name string, args ...[]byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}

	parts := append([][]byte{[]byte(name)}, args...)
	if _, err := fmt.Fprintf(c.writer, "*%d\r\n", len(parts)); err != nil {
		return err
	}
	for _, part := range parts {
		if _, err := fmt.Fprintf(c.writer, "$%d\r\n", len(part)); err != nil {
			return err
		}
		if _, err := c.writer.Write(part); err != nil {
			return err
		}
		if _, err := c.writer.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return c.writer.Flush()
}

func (c *respConn) reply() (respReply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respReply{}, err
	}

	prefix, err := c.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}

	switch prefix {
	case '+', ':':
		line, err := c.line()
		return respReply{prefix: prefix, data: line}, err
	case '-':
		line, err := c.line()
		if err != nil {
			return respReply{}, err
		}
		return respReply{}, errors.New(string(line))
	case '$':
		line, err := c.line()
		if err != nil {
			return respReply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size < 0 {
			return respReply{prefix: prefix, isNil: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, fmt.Errorf("invalid bulk termination")
		}
		return respReply{prefix: prefix, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) line() ([]byte, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func dialDeadline(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if d <= 0 || remaining < d {
			return remaining
		}
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func transient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
