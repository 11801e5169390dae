// Package gpsdtest provides a scripted gpsd daemon on a loopback listener
// for tests of gpsd clients.
package gpsdtest

import (
	"bufio"
	"net"
	"strings"
	"sync"
)

// Canned daemon messages.
const (
	VersionLine = `{"class":"VERSION","release":"3.25","rev":"3.25","proto_major":3,"proto_minor":15}`
	DevicesLine = `{"class":"DEVICES","devices":[{"class":"DEVICE","path":"/dev/ttyACM0","driver":"u-blox","activated":"2024-05-01T12:00:00.000Z","native":1,"bps":9600,"parity":"N","stopbits":1,"cycle":1.00}]}`
	NoDevicesLine = `{"class":"DEVICES","devices":[]}`
	WatchLine     = `{"class":"WATCH","enable":true,"json":false,"nmea":false,"raw":0,"scaled":false,"timing":false,"split24":false,"pps":false}`
	PollLine      = `{"class":"POLL","time":"2024-05-01T12:30:45.123Z","active":1,` +
		`"tpv":[{"class":"TPV","device":"/dev/ttyACM0","mode":3,"time":"2024-05-01T12:30:45.123Z","ept":0.005,` +
		`"lat":40.0,"lon":-105.0,"alt":1609.0,"epx":2.5,"epy":3.5,"epv":6.0,"track":270.0,"speed":3.2,"climb":-0.4,"eps":0.5,"epc":0.2}],` +
		`"sky":[{"class":"SKY","device":"/dev/ttyACM0","hdop":0.9,"vdop":1.4,"pdop":1.7,` +
		`"satellites":[{"PRN":2,"el":45,"az":120,"ss":38,"used":true},{"PRN":5,"el":12,"az":300,"ss":21,"used":false},{"PRN":9,"el":70,"az":10,"ss":44,"used":true}]}]}`
)

// Option configures a Server.
type Option func(*Server)

// WithGreeting replaces the VERSION announcement sent on accept.
func WithGreeting(line string) Option {
	return func(s *Server) {
		s.greeting = line
	}
}

// WithWatchReplies replaces the lines sent in answer to ?WATCH.
func WithWatchReplies(lines ...string) Option {
	return func(s *Server) {
		s.watchReplies = lines
	}
}

// WithPollResponses sets the answers to successive ?POLL commands. The last
// one is repeated once the list is exhausted.
func WithPollResponses(lines ...string) Option {
	return func(s *Server) {
		s.pollReplies = lines
	}
}

// WithDropAfterPolls closes the first accepted connection when it receives
// its (n+1)th ?POLL, without answering it.
func WithDropAfterPolls(n int) Option {
	return func(s *Server) {
		s.dropAfter = n
	}
}

// WithDropOnEveryConnection applies WithDropAfterPolls to every accepted
// connection instead of only the first.
func WithDropOnEveryConnection() Option {
	return func(s *Server) {
		s.dropAll = true
	}
}

// WithDropMidLine makes a dropped connection first write the start of the
// pending poll answer, without its newline.
func WithDropMidLine() Option {
	return func(s *Server) {
		s.dropMidLine = true
	}
}

// Server is a scripted gpsd daemon.
type Server struct {
	Host string
	Port int

	ln           net.Listener
	greeting     string
	watchReplies []string
	pollReplies  []string
	dropAfter    int
	dropAll      bool
	dropMidLine  bool

	mu       sync.Mutex
	conns    []net.Conn
	accepted int
	polls    int
	commands []string
	closed   bool
	wg       sync.WaitGroup
}

// NewServer starts a daemon on 127.0.0.1 with a random port.
func NewServer(opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	addr := ln.Addr().(*net.TCPAddr)
	s := &Server{
		Host:         addr.IP.String(),
		Port:         addr.Port,
		ln:           ln,
		greeting:     VersionLine,
		watchReplies: []string{DevicesLine, WatchLine},
		pollReplies:  []string{PollLine},
		dropAfter:    -1,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Commands returns every command line received, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Close stops the listener and closes all connections.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	_ = s.ln.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.accepted++
		first := s.accepted == 1
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn, first)
	}
}

func (s *Server) serve(conn net.Conn, first bool) {
	defer s.wg.Done()
	defer conn.Close()

	if !writeLine(conn, s.greeting) {
		return
	}

	reader := bufio.NewReader(conn)
	connPolls := 0
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)

		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		switch {
		case strings.HasPrefix(cmd, "?WATCH"):
			for _, reply := range s.watchReplies {
				if !writeLine(conn, reply) {
					return
				}
			}
		case cmd == "?POLL;":
			if (first || s.dropAll) && connPolls == s.dropAfter {
				if s.dropMidLine {
					reply := s.nextPoll()
					_, _ = conn.Write([]byte(reply[:len(reply)/2]))
				}
				return
			}
			connPolls++
			if !writeLine(conn, s.nextPoll()) {
				return
			}
		}
	}
}

func (s *Server) nextPoll() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.polls
	if i >= len(s.pollReplies) {
		i = len(s.pollReplies) - 1
	}
	s.polls++
	return s.pollReplies[i]
}

func writeLine(conn net.Conn, line string) bool {
	_, err := conn.Write([]byte(line + "\n"))
	return err == nil
}
