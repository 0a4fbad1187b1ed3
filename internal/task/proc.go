package task

import (
	"os"
	"sync"
	"syscall"
	"time"

	"baton/internal/logging"
)

// Server is a long-running process (typically a dev server) the agent
// started. Unlike ordinary spawned commands, servers are tracked so they can
// be signalled when their task is cancelled or baton shuts down.
type Server struct {
	TaskID    string
	PID       int
	Port      int
	Command   string
	StartedAt time.Time

	process *os.Process
}

// ProcRegistry tracks long-running servers by pid.
type ProcRegistry struct {
	mu      sync.Mutex
	servers map[int]*Server
}

// NewProcRegistry creates an empty ProcRegistry.
func NewProcRegistry() *ProcRegistry {
	return &ProcRegistry{servers: make(map[int]*Server)}
}

// Register starts tracking proc as a server owned by taskID. port may be 0
// when unknown.
func (p *ProcRegistry) Register(taskID string, proc *os.Process, port int, command string) {
	if proc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servers[proc.Pid] = &Server{
		TaskID:    taskID,
		PID:       proc.Pid,
		Port:      port,
		Command:   command,
		StartedAt: time.Now(),
		process:   proc,
	}
}

// Unregister stops tracking pid without signalling it.
func (p *ProcRegistry) Unregister(pid int) {
	p.mu.Lock()
	delete(p.servers, pid)
	p.mu.Unlock()
}

// SignalTask sends SIGTERM to every server owned by taskID and stops
// tracking them. Returns the number of servers signalled.
func (p *ProcRegistry) SignalTask(taskID string) int {
	return p.signal(func(s *Server) bool { return s.TaskID == taskID })
}

// Rebind moves ownership of oldID's servers to newID. Recovery rebinds a
// conversation to a fresh task id; its dev servers must follow so a later
// cancel still reaches them. Returns the number of servers moved.
func (p *ProcRegistry) Rebind(oldID, newID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	moved := 0
	for _, s := range p.servers {
		if s.TaskID == oldID {
			s.TaskID = newID
			moved++
		}
	}
	return moved
}

// Shutdown signals every tracked server.
func (p *ProcRegistry) Shutdown() int {
	return p.signal(func(*Server) bool { return true })
}

func (p *ProcRegistry) signal(match func(*Server) bool) int {
	p.mu.Lock()
	var doomed []*Server
	for pid, s := range p.servers {
		if match(s) {
			doomed = append(doomed, s)
			delete(p.servers, pid)
		}
	}
	p.mu.Unlock()

	count := 0
	for _, s := range doomed {
		if err := s.process.Signal(syscall.SIGTERM); err != nil {
			logging.Warn("cannot signal server, killing", "pid", s.PID, "error", err)
			if err := s.process.Kill(); err != nil {
				continue
			}
		}
		logging.Info("server stopped", "pid", s.PID, "port", s.Port, "task", s.TaskID)
		count++
	}
	return count
}

// Servers lists the tracked servers.
func (p *ProcRegistry) Servers() []Server {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Server, 0, len(p.servers))
	for _, s := range p.servers {
		out = append(out, *s)
	}
	return out
}

// PortInUse reports whether a tracked server claims port.
func (p *ProcRegistry) PortInUse(port int) bool {
	if port == 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.servers {
		if s.Port == port {
			return true
		}
	}
	return false
}
