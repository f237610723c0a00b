package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"exercise-runner/pkg/seccomp"
)

// DefaultNamePrefix marks every interpreter container this service starts.
const DefaultNamePrefix = "exercise-py-"

// Container describes how the interpreter is run inside a container.
type Container struct {
	Engine     string // docker or podman
	Image      string
	Binary     string // python binary inside the image
	Limits     Limits
	Network    bool
	User       string
	Env        []string
	NamePrefix string

	// SeccompPath is a profile file; empty leaves the engine default.
	SeccompPath string
}

// DefaultContainer returns a locked-down python:3.12-slim launcher.
func DefaultContainer() Container {
	return Container{
		Engine:     "docker",
		Image:      "python:3.12-slim",
		Binary:     "python3",
		Limits:     DefaultLimits(),
		User:       "65534:65534",
		NamePrefix: DefaultNamePrefix,
	}
}

func (c Container) Validate() error {
	if c.Image == "" {
		return ErrNoImage
	}
	if c.Engine == "" || c.Binary == "" {
		return fmt.Errorf("%w: engine and binary are required", ErrInvalidLimits)
	}
	return c.Limits.Validate()
}

// Args builds the engine command line for a container called name. The
// interpreter arguments are appended by the runtime.
func (c Container) Args(name string) []string {
	network := "none"
	if c.Network {
		network = "bridge"
	}
	user := c.User
	if user == "" {
		user = "65534:65534"
	}

	args := []string{
		c.Engine, "run", "-i", "--rm",
		"--name", name,
		"--network", network,
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
	}
	if c.SeccompPath != "" {
		args = append(args, "--security-opt", "seccomp="+c.SeccompPath)
	}
	args = append(args,
		"--memory", fmt.Sprintf("%dm", c.Limits.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", c.Limits.MemoryMB),
		"--pids-limit", fmt.Sprintf("%d", c.Limits.PidsLimit),
		"--cpus", c.Limits.cpus(),
		"--tmpfs", fmt.Sprintf("/tmp:rw,nosuid,nodev,size=%dm", c.Limits.DiskMB),
		"--read-only",
		"--user", user,
		"-e", "HOME=/tmp",
		"-e", "LANG=C.UTF-8",
		"-e", "PYTHONIOENCODING=utf-8",
		"-e", "PYTHONDONTWRITEBYTECODE=1",
	)
	for _, env := range c.Env {
		args = append(args, "-e", env)
	}
	return append(args, c.Image, c.Binary)
}

// Launcher returns a function producing a fresh container command for each
// interpreter start. Its release func force-removes the container, which
// outlives a killed engine client.
func (c Container) Launcher() func() ([]string, func()) {
	prefix := c.NamePrefix
	if prefix == "" {
		prefix = DefaultNamePrefix
	}
	return func() ([]string, func()) {
		name := prefix + uuid.New().String()[:12]
		return c.Args(name), func() { c.remove(name) }
	}
}

// WriteSeccompProfile writes the interpreter profile into dir and points the
// container at it.
func (c *Container) WriteSeccompProfile(dir string) error {
	data, err := seccomp.DockerJSON(seccomp.InterpreterProfile(c.Network))
	if err != nil {
		return &LauncherError{Op: "seccomp_profile", Err: err}
	}
	path := filepath.Join(dir, "interpreter-seccomp.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return &LauncherError{Op: "write_seccomp", Err: err}
	}
	c.SeccompPath = path
	return nil
}

// CheckEngine verifies that the container engine binary is installed.
func (c Container) CheckEngine() error {
	if _, err := exec.LookPath(c.Engine); err != nil {
		return &LauncherError{Op: "lookup_engine", Err: fmt.Errorf("%w: %s", ErrNoEngine, c.Engine)}
	}
	return nil
}

// CleanupOrphans removes containers left behind by an earlier process.
// Call it before the first interpreter starts.
func (c Container) CleanupOrphans(ctx context.Context) int {
	prefix := c.NamePrefix
	if prefix == "" {
		prefix = DefaultNamePrefix
	}
	out, err := exec.CommandContext(ctx, c.Engine, "ps", "-a", "--filter", "name="+prefix, "-q").Output() // #nosec G204 -- no user input
	if err != nil {
		return 0
	}
	ids := strings.Fields(strings.TrimSpace(string(out)))
	for _, id := range ids {
		log.Warn().Str("container_id", id).Msg("removing orphaned interpreter container")
		_ = exec.CommandContext(ctx, c.Engine, "rm", "-f", id).Run() // #nosec G204 -- id from engine ps
	}
	return len(ids)
}

func (c Container) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Usually already gone through --rm.
	_ = exec.CommandContext(ctx, c.Engine, "rm", "-f", name).Run() // #nosec G204 -- name generated internally
}
