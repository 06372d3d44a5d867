// Package docker runs sandbox attempts in throwaway Docker containers.
// One container per compile or run attempt; nothing is shared between runs.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"crucible/internal/sandbox"
)

const (
	workDir = "/box"

	// Hard cap on captured stdout/stderr per attempt.
	maxOutputBytes = 1024 * 1024

	// Extra wall-clock allowance on top of the configured time limit,
	// covering container attach/start overhead.
	timeoutGrace = 250 * time.Millisecond

	memorySamplePeriod = 50 * time.Millisecond
)

type DockerRunner struct {
	cli    *client.Client
	logger *zerolog.Logger
}

func NewDockerRunner(logger *zerolog.Logger) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRunner{cli: cli, logger: logger}, nil
}

// create builds one locked-down container. The caller owns removal.
func (r *DockerRunner) create(ctx context.Context, image string, cmd, env []string, memoryMB int, openStdin bool) (string, error) {
	pidsLimit := int64(64)
	memory := int64(memoryMB) * 1024 * 1024

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:           image,
		Cmd:             cmd,
		Env:             env,
		WorkingDir:      workDir,
		Tty:             false,
		OpenStdin:       openStdin,
		StdinOnce:       openStdin,
		NetworkDisabled: true,
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory, // no swap, the cgroup ceiling is the ceiling
			CPUPeriod:  100000,
			CPUQuota:   100000, // 1 CPU
			PidsLimit:  &pidsLimit,
		},
		NetworkMode: "none",
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
	}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

func (r *DockerRunner) remove(id string) {
	// Removal must succeed on every exit path; use a fresh context so a
	// cancelled run context cannot leak the container. The timeout path
	// removes early and the deferred call runs again, so an already-gone
	// container is not an error.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		r.logger.Error().Err(err).Str("container", id).Msg("failed to remove sandbox container")
	}
}

func (r *DockerRunner) Compile(ctx context.Context, spec sandbox.CompileSpec) (*sandbox.CompileResult, error) {
	p := spec.Profile
	if !p.Compiles() {
		return nil, fmt.Errorf("language %s has no compile step", p.ID)
	}

	id, err := r.create(ctx, p.CompileImage, p.CompileCmd, p.CompileEnv, spec.MemoryLimitMB, false)
	if err != nil {
		return nil, err
	}
	defer r.remove(id)

	ws, err := workspaceTar(p.SourceFile, []byte(spec.SourceCode), 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to build workspace archive: %w", err)
	}
	if err := r.cli.CopyToContainer(ctx, id, "/", bytes.NewReader(ws), container.CopyToContainerOptions{}); err != nil {
		return nil, fmt.Errorf("failed to upload source: %w", err)
	}

	start := time.Now()
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start compile container: %w", err)
	}

	exitCode, timedOut, err := r.waitExit(ctx, id, time.Duration(spec.TimeLimitMS)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	duration := time.Since(start).Milliseconds()

	output, err := r.collectLogs(ctx, id)
	if err != nil {
		return nil, err
	}

	if timedOut {
		return &sandbox.CompileResult{
			OK:         false,
			Output:     "compilation exceeded the time limit",
			DurationMS: duration,
		}, nil
	}
	if exitCode != 0 {
		return &sandbox.CompileResult{
			OK:         false,
			Output:     output,
			DurationMS: duration,
		}, nil
	}

	artifact, err := r.downloadArtifact(ctx, id, p.ArtifactPath)
	if err != nil {
		return nil, err
	}

	return &sandbox.CompileResult{
		OK:         true,
		Output:     output,
		Artifact:   artifact,
		DurationMS: duration,
	}, nil
}

func (r *DockerRunner) Run(ctx context.Context, spec sandbox.RunSpec) (*sandbox.RunResult, error) {
	p := spec.Profile

	id, err := r.create(ctx, p.RunImage, p.RunCmd, nil, spec.MemoryLimitMB, true)
	if err != nil {
		return nil, err
	}
	defer r.remove(id)

	var ws []byte
	if spec.Artifact != nil {
		ws, err = rerootTar(spec.Artifact)
	} else {
		ws, err = workspaceTar(p.SourceFile, []byte(spec.SourceCode), 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build workspace archive: %w", err)
	}
	if err := r.cli.CopyToContainer(ctx, id, "/", bytes.NewReader(ws), container.CopyToContainerOptions{}); err != nil {
		return nil, fmt.Errorf("failed to upload workspace: %w", err)
	}

	attach, err := r.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to container: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		_, _ = stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
	}()

	start := time.Now()
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start run container: %w", err)
	}

	go func() {
		// The program may exit without draining stdin; write errors are
		// expected and irrelevant.
		_, _ = attach.Conn.Write([]byte(spec.Stdin))
		_ = attach.CloseWrite()
	}()

	peakCh := r.samplePeakMemory(id, copyDone)

	exitCode, timedOut, err := r.waitExit(ctx, id, time.Duration(spec.TimeLimitMS)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	duration := time.Since(start).Milliseconds()

	if timedOut {
		// Kill now so the output copier unblocks; the deferred remove
		// would do it too, but only after we stopped reading.
		r.remove(id)
	}

	select {
	case <-copyDone:
	case <-time.After(2 * time.Second):
	}
	peakMemoryMB := <-peakCh

	oomKilled := false
	if !timedOut {
		inspect, ierr := r.cli.ContainerInspect(ctx, id)
		if ierr != nil {
			return nil, fmt.Errorf("failed to inspect container: %w", ierr)
		}
		if inspect.State != nil {
			oomKilled = inspect.State.OOMKilled
		}
	}

	return &sandbox.RunResult{
		Stdout:       truncate(stdout.String()),
		Stderr:       truncate(stderr.String()),
		ExitCode:     exitCode,
		DurationMS:   duration,
		PeakMemoryMB: peakMemoryMB,
		TimedOut:     timedOut,
		OOMKilled:    oomKilled,
	}, nil
}

// waitExit blocks until the container exits or the wall-clock limit (plus a
// fixed grace margin) passes.
func (r *DockerRunner) waitExit(ctx context.Context, id string, limit time.Duration) (exitCode int, timedOut bool, err error) {
	waitCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNextExit)
	select {
	case resp := <-waitCh:
		return int(resp.StatusCode), false, nil
	case werr := <-errCh:
		return 0, false, fmt.Errorf("failed to wait for container: %w", werr)
	case <-time.After(limit + timeoutGrace):
		return 0, true, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

func (r *DockerRunner) collectLogs(ctx context.Context, id string) (string, error) {
	logs, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, logs); err != nil {
		return "", fmt.Errorf("failed to demux container logs: %w", err)
	}
	return truncate(combined.String()), nil
}

func (r *DockerRunner) downloadArtifact(ctx context.Context, id, path string) ([]byte, error) {
	reader, _, err := r.cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, fmt.Errorf("failed to download artifact %s: %w", path, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact stream: %w", err)
	}
	return data, nil
}

// samplePeakMemory polls cgroup memory usage while the container runs. The
// ceiling itself is enforced by the cgroup; sampling is for reporting only.
func (r *DockerRunner) samplePeakMemory(id string, stop <-chan struct{}) <-chan int64 {
	out := make(chan int64, 1)
	go func() {
		var peak uint64
		ticker := time.NewTicker(memorySamplePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				out <- int64(peak / (1024 * 1024))
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), memorySamplePeriod)
				stats, err := r.cli.ContainerStatsOneShot(ctx, id)
				if err != nil {
					cancel()
					continue
				}
				var v container.StatsResponse
				derr := json.NewDecoder(stats.Body).Decode(&v)
				stats.Body.Close()
				cancel()
				if derr != nil {
					continue
				}
				usage := v.MemoryStats.MaxUsage
				if usage == 0 {
					usage = v.MemoryStats.Usage
				}
				if usage > peak {
					peak = usage
				}
			}
		}
	}()
	return out
}

func truncate(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes]
	}
	return s
}

// workspaceTar wraps a single file under the sandbox working directory.
func workspaceTar(name string, content []byte, mode int64) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := tw.WriteHeader(&tar.Header{
		Name:     "box/",
		Typeflag: tar.TypeDir,
		Mode:     0o777,
	}); err != nil {
		return nil, err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name: "box/" + name,
		Mode: mode,
		Size: int64(len(content)),
	}); err != nil {
		return nil, err
	}
	if _, err := tw.Write(content); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// rerootTar rewrites a compile artifact tar (as produced by the docker copy
// API, rooted at the artifact name) so it extracts under the sandbox working
// directory, preserving file modes.
func rerootTar(artifact []byte) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := tw.WriteHeader(&tar.Header{
		Name:     "box/",
		Typeflag: tar.TypeDir,
		Mode:     0o777,
	}); err != nil {
		return nil, err
	}

	tr := tar.NewReader(bytes.NewReader(artifact))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		hdr.Name = "box/" + hdr.Name
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.Copy(tw, tr); err != nil {
				return nil, err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
