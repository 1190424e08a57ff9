// Package qmptest provides a minimal QMP server for tests.
package qmptest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const greeting = `{"QMP": {"version": {"qemu": {"micro": 0, "minor": 2, "major": 8}, "package": ""}, "capabilities": ["oob"]}}`

// Server answers qmp_capabilities and query-cpus-fast on a loopback port.
type Server struct {
	ln      net.Listener
	threads []int

	mu       sync.Mutex
	commands []string
}

// NewServer reports one vCPU per entry in threads, in order.
func NewServer(t testing.TB, threads ...int) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("qmptest: listen: %v", err)
	}
	s := &Server{ln: ln, threads: threads}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Commands returns the commands received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	if _, err := io.WriteString(conn, greeting+"\r\n"); err != nil {
		return
	}
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return
		}
		var req struct {
			Execute string `json:"execute"`
			ID      string `json:"id"`
		}
		if err := json.Unmarshal(line, &req); err != nil {
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, req.Execute)
		s.mu.Unlock()

		var reply string
		switch req.Execute {
		case "qmp_capabilities":
			reply = fmt.Sprintf(`{"return": {}, "id": %q}`, req.ID)
		case "query-cpus-fast":
			reply = fmt.Sprintf(`{"return": %s, "id": %q}`, s.cpus(), req.ID)
		default:
			reply = fmt.Sprintf(`{"error": {"class": "CommandNotFound", "desc": "The command %s has not been found"}, "id": %q}`, req.Execute, req.ID)
		}
		if _, err := io.WriteString(conn, reply+"\r\n"); err != nil {
			return
		}
	}
}

func (s *Server) cpus() string {
	entries := make([]string, 0, len(s.threads))
	for i, tid := range s.threads {
		entries = append(entries, `{"cpu-index": `+strconv.Itoa(i)+`, "qom-path": "/machine/unattached/device[`+strconv.Itoa(i)+`]", "thread-id": `+strconv.Itoa(tid)+`, "target": "x86_64"}`)
	}
	return "[" + strings.Join(entries, ", ") + "]"
}
