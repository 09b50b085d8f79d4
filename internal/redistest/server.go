// Package redistest runs a scripted RESP endpoint so go-redis calls can be
// exercised in unit tests without a Redis server.
package redistest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-redis/redis/v8"
)

// Handler answers one command. args[0] is the upper-cased command name and the
// returned string is written to the client as raw RESP.
type Handler func(args []string) string

type Server struct {
	ln      net.Listener
	handler Handler

	mu       sync.Mutex
	conns    []net.Conn
	commands [][]string
	wg       sync.WaitGroup
}

// NewServer listens on a loopback port until the test ends
func NewServer(t testing.TB, handler Handler) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("redistest: listen: %v", err)
	}

	s := &Server{ln: ln, handler: handler}
	s.wg.Add(1)
	go s.serve()

	t.Cleanup(s.Close)
	return s
}

// Client returns a go-redis client pointed at the server
func (s *Server) Client(t testing.TB) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: s.ln.Addr().String()})
	t.Cleanup(func() { client.Close() })
	return client
}

// Commands lists every command received so far
func (s *Server) Commands() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]string, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		args[0] = strings.ToUpper(args[0])

		s.mu.Lock()
		s.commands = append(s.commands, args)
		s.mu.Unlock()

		if _, err := io.WriteString(conn, s.handler(args)); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("redistest: expected array, got %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil || n < 1 {
		return nil, fmt.Errorf("redistest: bad array header %q", line)
	}

	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(header, "$") {
			return nil, fmt.Errorf("redistest: expected bulk string, got %q", header)
		}
		size, err := strconv.Atoi(header[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// RESP reply builders

func Int(n int64) string {
	return fmt.Sprintf(":%d\r\n", n)
}

func Array(items ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(items))
	for _, item := range items {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(item), item)
	}
	return b.String()
}

// NilArray is the reply of a blocking pop that timed out
func NilArray() string {
	return "*-1\r\n"
}

func Error(msg string) string {
	return "-ERR " + msg + "\r\n"
}
