package controller

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"ringkv/internal/node"
	"ringkv/pkg/cluster"
	"ringkv/pkg/coord"
)

// Launcher starts the storage node process for a pool slot. Launch returns
// once the start was requested; the controller waits for the liveness entry
// itself.
type Launcher interface {
	Launch(ctx context.Context, m cluster.Member) error
}

// ExecLauncher runs a command per node, typically ssh to the node host.
// Args may contain {name}, {host}, {port} and {zk}.
type ExecLauncher struct {
	Command string
	Args    []string
	ZK      []string

	log *slog.Logger
}

func NewExecLauncher(command string, args, zk []string) *ExecLauncher {
	return &ExecLauncher{
		Command: command,
		Args:    args,
		ZK:      zk,
		log:     slog.Default().With("component", "launcher"),
	}
}

func (l *ExecLauncher) Launch(_ context.Context, m cluster.Member) error {
	r := strings.NewReplacer(
		"{name}", m.Name,
		"{host}", m.Host,
		"{port}", strconv.Itoa(m.Port),
		"{zk}", strings.Join(l.ZK, ","),
	)
	args := make([]string, len(l.Args))
	for i, a := range l.Args {
		args[i] = r.Replace(a)
	}

	// процесс живёт дольше запроса, поэтому без CommandContext
	cmd := exec.Command(l.Command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", m.Name, err)
	}
	l.log.Info("node process started", "node", m.Name, "pid", cmd.Process.Pid, "command", l.Command)

	go func() {
		if err := cmd.Wait(); err != nil {
			l.log.Warn("node process exited", "node", m.Name, "error", err)
		}
	}()
	return nil
}

// LocalLauncher runs nodes inside the controller process, each with its own
// coordination session.
type LocalLauncher struct {
	Paths   coord.Paths
	Connect func() (coord.Coordinator, error)
	Options []node.Option

	mu    sync.Mutex
	nodes map[string]*node.Server
}

func NewLocalLauncher(paths coord.Paths, connect func() (coord.Coordinator, error), opts ...node.Option) *LocalLauncher {
	return &LocalLauncher{
		Paths:   paths,
		Connect: connect,
		Options: opts,
		nodes:   make(map[string]*node.Server),
	}
}

func (l *LocalLauncher) Launch(_ context.Context, m cluster.Member) error {
	sess, err := l.Connect()
	if err != nil {
		return fmt.Errorf("connect %s: %w", m.Name, err)
	}

	s := node.New(node.Config{Name: m.Name, Host: m.Host, Port: m.Port, Paths: l.Paths}, sess, l.Options...)
	if err := s.Start(context.Background()); err != nil {
		_ = sess.Close()
		return fmt.Errorf("start %s: %w", m.Name, err)
	}

	l.mu.Lock()
	l.nodes[m.Name] = s
	l.mu.Unlock()

	go func() {
		<-s.Done()
		l.mu.Lock()
		if l.nodes[m.Name] == s {
			delete(l.nodes, m.Name)
		}
		l.mu.Unlock()
	}()
	return nil
}

// Node returns the running in-process node for name.
func (l *LocalLauncher) Node(name string) (*node.Server, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.nodes[name]
	return s, ok
}

// Close stops every node still running.
func (l *LocalLauncher) Close() {
	l.mu.Lock()
	nodes := make([]*node.Server, 0, len(l.nodes))
	for _, s := range l.nodes {
		nodes = append(nodes, s)
	}
	l.mu.Unlock()

	for _, s := range nodes {
		s.Stop()
	}
}
