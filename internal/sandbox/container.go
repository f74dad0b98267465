// Package sandbox implements the language-agnostic container protocol: the
// container client binding (C1), per-language adapters (C2), the two
// mutually exclusive resource profilers (C3), and the per-task session that
// drives them (C4).
package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	dockermount "github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Limits bounds a single container's CPU and memory, mirroring the spec's
// "memory ceiling equal to swap ceiling, swappiness 0, OOM kill enabled"
// requirement.
type Limits struct {
	MemoryBytes int64
	CpusetCPUs  string
}

// ExecResult is the outcome of running one command inside a container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ContainerClient is the narrow interface the sandbox session uses to talk
// to a container runtime. The only production implementation wraps
// github.com/docker/docker/client, the teacher's own dependency.
type ContainerClient interface {
	EnsureImage(ctx context.Context, ref string) error
	Create(ctx context.Context, image string, limits Limits, mounts []Mount, name string) (string, error)
	Start(ctx context.Context, containerID string) error
	Exec(ctx context.Context, containerID string, cmd []string, workdir string) (ExecResult, error)
	CopyIn(ctx context.Context, containerID string, content []byte, dstPath string) error
	CopyOut(ctx context.Context, containerID, srcPath string) ([]byte, error)
	Kill(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	ImageInUse(ctx context.Context, imageRef string, excludeContainerID string) (bool, error)
	RemoveImage(ctx context.Context, imageRef string) error
}

// Mount describes a bind or volume mount attached at container creation.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// DockerClient is the production ContainerClient, a thin wrapper around the
// Docker Engine API client (same dependency and API surface the teacher's
// DockerProvider used).
type DockerClient struct {
	cli *dockerclient.Client
}

// NewDockerClient dials the Docker daemon via the standard socket (honoring
// DOCKER_HOST and friends through client.FromEnv).
func NewDockerClient(ctx context.Context) (*DockerClient, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &DockerClient{cli: cli}, nil
}

// Close releases the underlying Docker client's resources.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// EnsureImage pulls ref if it is not present locally.
func (d *DockerClient) EnsureImage(ctx context.Context, ref string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("read pull output for %s: %w", ref, err)
	}
	return nil
}

// Create builds a detached, auto-TTY container so exec streams do not close
// prematurely, with the worker's memory and cpuset limits applied and swap
// pinned equal to the memory ceiling to prevent swap escape.
func (d *DockerClient) Create(ctx context.Context, imageRef string, limits Limits, mounts []Mount, name string) (string, error) {
	cfg := &dockercontainer.Config{
		Image:        imageRef,
		Tty:          true,
		AttachStdout: true,
		AttachStderr: true,
	}

	hostCfg := &dockercontainer.HostConfig{
		Resources: dockercontainer.Resources{
			Memory:           limits.MemoryBytes,
			MemorySwap:       limits.MemoryBytes,
			MemorySwappiness: int64Ptr(0),
			CpusetCpus:       limits.CpusetCPUs,
			OomKillDisable:   boolPtr(false),
		},
		AutoRemove: false,
		Mounts:     toDockerMounts(mounts),
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

func toDockerMounts(mounts []Mount) []dockermount.Mount {
	out := make([]dockermount.Mount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, dockermount.Mount{
			Type:     dockermount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	return out
}

func (d *DockerClient) Start(ctx context.Context, containerID string) error {
	return d.cli.ContainerStart(ctx, containerID, dockercontainer.StartOptions{})
}

// Exec runs cmd synchronously inside containerID, demuxing stdout/stderr.
func (d *DockerClient) Exec(ctx context.Context, containerID string, cmd []string, workdir string) (ExecResult, error) {
	execCfg := dockercontainer.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	}

	execID, err := d.cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec create: %w", err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, execID.ID, dockercontainer.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return ExecResult{}, fmt.Errorf("demux exec stream: %w", err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec inspect: %w", err)
	}

	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// CopyIn streams content into the container as a single-file tar archive,
// creating parent directories as needed.
func (d *DockerClient) CopyIn(ctx context.Context, containerID string, content []byte, dstPath string) error {
	dir := filepath.Dir(dstPath)
	name := filepath.Base(dstPath)

	if _, err := d.Exec(ctx, containerID, []string{"mkdir", "-p", dir}, ""); err != nil {
		return fmt.Errorf("mkdir -p %s: %w", dir, err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: name,
		Mode: 0644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar header for %s: %w", dstPath, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("tar write for %s: %w", dstPath, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close for %s: %w", dstPath, err)
	}

	return d.cli.CopyToContainer(ctx, containerID, dir, &buf, dockercontainer.CopyToContainerOptions{})
}

// CopyOut retrieves a single file from the container, failing if the
// archive is empty (the source file did not exist).
func (d *DockerClient) CopyOut(ctx context.Context, containerID, srcPath string) ([]byte, error) {
	reader, stat, err := d.cli.CopyFromContainer(ctx, containerID, srcPath)
	if err != nil {
		return nil, fmt.Errorf("copy from container %s: %w", srcPath, err)
	}
	defer reader.Close()

	if stat.Size == 0 {
		return nil, fmt.Errorf("file %s not found in container", srcPath)
	}

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar stream for %s: %w", srcPath, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read tar entry for %s: %w", srcPath, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("file %s not found in archive", srcPath)
}

func (d *DockerClient) Kill(ctx context.Context, containerID string) error {
	return d.cli.ContainerKill(ctx, containerID, "SIGKILL")
}

func (d *DockerClient) Remove(ctx context.Context, containerID string) error {
	return d.cli.ContainerRemove(ctx, containerID, dockercontainer.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
}

// ImageInUse reports whether any container other than excludeContainerID
// currently references imageRef, used by Session.close to decide whether a
// session-created image can be removed.
func (d *DockerClient) ImageInUse(ctx context.Context, imageRef string, excludeContainerID string) (bool, error) {
	containers, err := d.cli.ContainerList(ctx, dockercontainer.ListOptions{All: true})
	if err != nil {
		return false, fmt.Errorf("list containers: %w", err)
	}
	for _, c := range containers {
		if c.ID == excludeContainerID {
			continue
		}
		if c.Image == imageRef || strings.HasPrefix(c.ImageID, imageRef) {
			return true, nil
		}
	}
	return false, nil
}

func (d *DockerClient) RemoveImage(ctx context.Context, imageRef string) error {
	_, err := d.cli.ImageRemove(ctx, imageRef, image.RemoveOptions{Force: true})
	return err
}

func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }
