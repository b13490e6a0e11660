// Package workspace manages per-repository compute containers.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"gopilot/config"
)

// DockerAPI is the slice of the Docker client the manager needs.
type DockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
}

// Manager ensures each repository has exactly one workspace container. The
// container name is derived deterministically from the repository URL, so
// concurrent and repeated requests for the same repository converge on the
// same container instead of spawning duplicates.
type Manager struct {
	docker DockerAPI
	image  string
	bucket string
	logger *slog.Logger
}

// NewManager creates a workspace manager. logger may be nil.
func NewManager(docker DockerAPI, cfg config.WorkspaceConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		docker: docker,
		image:  cfg.Image,
		bucket: cfg.Bucket,
		logger: logger,
	}
}

// NewDockerClient creates a Docker client from the environment (DOCKER_HOST
// et al.), negotiating the API version with the daemon.
func NewDockerClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// StableID derives the deterministic container name for a repository URL.
// The URL is normalized (lowercase, trailing slash and .git suffix stripped)
// so the common spelling variants of one repository map to one workspace.
func StableID(repoURL string) string {
	normalized := strings.ToLower(strings.TrimSpace(repoURL))
	normalized = strings.TrimRight(normalized, "/")
	normalized = strings.TrimSuffix(normalized, ".git")
	return fmt.Sprintf("ws-%016x", xxhash.Sum64String(normalized))
}

// Ensure makes sure the workspace container for repoURL exists and is
// running, creating or restarting it as needed. It returns the container
// name. Ensure is idempotent: calling it for an already-running workspace is
// a cheap inspect.
func (m *Manager) Ensure(ctx context.Context, repoURL string) (string, error) {
	name := StableID(repoURL)

	info, err := m.docker.ContainerInspect(ctx, name)
	switch {
	case err == nil:
		if info.State != nil && info.State.Running {
			return name, nil
		}
		if err := m.docker.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
			return "", fmt.Errorf("failed to start workspace %s: %w", name, err)
		}
		m.logger.Info("workspace restarted", "workspace", name, "repo_url", repoURL)
		return name, nil

	case client.IsErrNotFound(err):
		return m.create(ctx, name, repoURL)

	default:
		return "", fmt.Errorf("failed to inspect workspace %s: %w", name, err)
	}
}

// create builds and starts a fresh workspace container.
func (m *Manager) create(ctx context.Context, name, repoURL string) (string, error) {
	env := []string{"REPO_URL=" + repoURL}
	if m.bucket != "" {
		env = append(env, "GCS_BUCKET="+m.bucket)
	}

	cfg := &container.Config{
		Image: m.image,
		Env:   env,
		Labels: map[string]string{
			"gopilot.workspace": "true",
			"gopilot.repo_url":  repoURL,
		},
	}

	if _, err := m.docker.ContainerCreate(ctx, cfg, &container.HostConfig{}, nil, nil, name); err != nil {
		return "", fmt.Errorf("failed to create workspace %s: %w", name, err)
	}
	if err := m.docker.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start workspace %s: %w", name, err)
	}

	m.logger.Info("workspace created", "workspace", name, "repo_url", repoURL, "image", m.image)
	return name, nil
}
