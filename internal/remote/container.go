package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultModelPort is the port model images serve the control protocol on
// inside the container.
const DefaultModelPort = 50051

// ContainerSpec describes a model process to launch. The working directory is
// mounted read-write; input directories (parameter set, forcing) are mounted
// read-only so a model can never corrupt shared data.
type ContainerSpec struct {
	// Engine is "docker" or "apptainer".
	Engine string
	// Image is the docker image reference. For apptainer the image is
	// resolved to a .sif file under ImageDir.
	Image string
	// ImageDir holds converted apptainer images; unused for docker.
	ImageDir string
	WorkDir  string
	// InputDirs are mounted read-only at their host paths.
	InputDirs []string
	// HostPort is the host port to publish; 0 picks a free one.
	HostPort int
	// StartupTimeout bounds the wait for the process to accept connections.
	StartupTimeout time.Duration
}

// Container is a running model process plus the client speaking to it.
type Container struct {
	ID     string
	Addr   string
	client *Client
	engine string
	cmd    *exec.Cmd
}

// Bmi returns the protocol client for the running process.
func (c *Container) Bmi() Bmi { return c.client }

// StartContainer launches a model process with the configured engine and
// waits until it accepts connections. The returned Container owns the
// process; callers must Stop it.
func StartContainer(ctx context.Context, spec ContainerSpec) (*Container, error) {
	if spec.WorkDir == "" {
		return nil, fmt.Errorf("container spec has no working directory")
	}
	port := spec.HostPort
	if port == 0 {
		p, err := freePort()
		if err != nil {
			return nil, err
		}
		port = p
	}
	name := "hyc-" + uuid.NewString()[:8]

	var cmd *exec.Cmd
	switch spec.Engine {
	case "docker":
		args := []string{
			"run", "--rm", "--name", name,
			"-p", fmt.Sprintf("%d:%d", port, DefaultModelPort),
			"-v", spec.WorkDir + ":" + spec.WorkDir,
			"-w", spec.WorkDir,
		}
		for _, dir := range spec.InputDirs {
			args = append(args, "-v", dir+":"+dir+":ro")
		}
		args = append(args, spec.Image)
		cmd = exec.CommandContext(ctx, "docker", args...)
	case "apptainer":
		sif := filepath.Join(spec.ImageDir, sifName(spec.Image))
		args := []string{
			"run", "--contain",
			"--bind", spec.WorkDir,
			"--pwd", spec.WorkDir,
			"--env", fmt.Sprintf("PORT=%d", port),
		}
		for _, dir := range spec.InputDirs {
			args = append(args, "--bind", dir+":"+dir+":ro")
		}
		args = append(args, sif)
		cmd = exec.CommandContext(ctx, "apptainer", args...)
	default:
		return nil, fmt.Errorf("unknown container engine %q", spec.Engine)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start model container: %w", err)
	}
	c := &Container{
		ID:     name,
		Addr:   fmt.Sprintf("http://127.0.0.1:%d", port),
		engine: spec.Engine,
		cmd:    cmd,
	}
	c.client = NewClient(c.Addr)

	timeout := spec.StartupTimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	if err := waitForPort(ctx, port, timeout); err != nil {
		c.Stop()
		return nil, fmt.Errorf("model container %s did not come up: %w", name, err)
	}
	slog.Info("started model container", "id", name, "engine", spec.Engine, "image", spec.Image, "addr", c.Addr)
	return c, nil
}

// Stop tears the process down. It is safe to call more than once; errors are
// logged and swallowed because the process is being discarded.
func (c *Container) Stop() {
	if c.cmd == nil {
		return
	}
	if c.engine == "docker" {
		// docker run --rm cleans up the container after stop.
		if out, err := exec.Command("docker", "stop", c.ID).CombinedOutput(); err != nil {
			slog.Warn("docker stop failed", "id", c.ID, "err", err, "output", strings.TrimSpace(string(out)))
		}
	}
	if c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil && !strings.Contains(err.Error(), "already finished") {
			slog.Warn("kill model process", "id", c.ID, "err", err)
		}
		c.cmd.Wait()
	}
	c.cmd = nil
}

// sifName maps a docker image reference to the conventional converted image
// file name, e.g. ewatercycle/wflow-grpc4bmi:2020.1.1 ->
// ewatercycle-wflow-grpc4bmi_2020.1.1.sif.
func sifName(image string) string {
	name := strings.ReplaceAll(image, "/", "-")
	name = strings.ReplaceAll(name, ":", "_")
	return name + ".sif"
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitForPort(ctx context.Context, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("timeout after %s waiting for %s", timeout, addr)
}
