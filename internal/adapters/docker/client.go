package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"faas-controller/internal/config"
	"faas-controller/internal/core/functions"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"
)

const containerPrefix = "faas-fn-"

var functionPort = nat.Port(strconv.Itoa(functions.FunctionPort) + "/tcp")

// Client builds function images and, for local development, runs functions as plain
// containers on the docker host.
type Client struct {
	cli        *client.Client
	lg         zerolog.Logger
	cfg        config.Config
	authHeader string
}

func New(cfg config.Config, lg zerolog.Logger) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	c := &Client{cli: cli, cfg: cfg, lg: lg.With().Str("adapter", "docker").Logger()}

	if cfg.RegistryUser != "" && cfg.RegistryPass != "" {
		authConfig := registry.AuthConfig{
			Username:      cfg.RegistryUser,
			Password:      cfg.RegistryPass,
			ServerAddress: cfg.RegistryURL,
		}
		encodedJSON, err := json.Marshal(authConfig)
		if err != nil {
			return nil, fmt.Errorf("marshal auth config: %w", err)
		}
		c.authHeader = base64.URLEncoding.EncodeToString(encodedJSON)
		c.lg.Info().Str("registry", cfg.RegistryURL).Msg("configured Harbor registry authentication")
	}

	return c, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Create replaces any container with the same name and starts the function image with
// the manifest's limits. The endpoint is the published host port.
func (c *Client) Create(ctx context.Context, m *functions.Manifest) (string, error) {
	name := containerPrefix + m.Name

	if err := c.ensureImage(ctx, m.Image); err != nil {
		return "", err
	}

	_ = c.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})

	resp, err := c.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        m.Image,
			Env:          containerEnv(m),
			Labels:       m.Labels,
			ExposedPorts: nat.PortSet{functionPort: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				functionPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}},
			},
			Resources: container.Resources{
				Memory:   m.Resources.MemoryLimitMB << 20,
				NanoCPUs: m.Resources.CPULimitMillis * 1_000_000,
			},
		},
		nil, nil, name,
	)
	if err != nil {
		return "", fmt.Errorf("docker create: %w", err)
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("docker start: %w", err)
	}

	endpoint, err := c.Status(ctx, m.Name)
	if err != nil {
		return "", err
	}
	c.lg.Info().
		Str("container_id", resp.ID).
		Str("function", m.Function).
		Str("endpoint", endpoint).
		Msg("function container started")
	return endpoint, nil
}

// Status returns the published endpoint of a running container.
func (c *Client) Status(ctx context.Context, name string) (string, error) {
	inspect, err := c.cli.ContainerInspect(ctx, containerPrefix+name)
	if client.IsErrNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("docker inspect: %w", err)
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil || !inspect.State.Running || inspect.NetworkSettings == nil {
		return "", nil
	}
	bindings := inspect.NetworkSettings.Ports[functionPort]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		return "", nil
	}
	return "http://127.0.0.1:" + bindings[0].HostPort, nil
}

// Patch is a no-op: a single local container has no autoscaler to reconfigure.
func (c *Client) Patch(_ context.Context, name string, cfg functions.AutoscalingConfig) error {
	c.lg.Info().
		Str("container", containerPrefix+name).
		Int("max", cfg.MaxReplicas).
		Msg("autoscaling is not applied to local containers")
	return nil
}

func (c *Client) Delete(ctx context.Context, name string) error {
	c.lg.Info().Str("container", containerPrefix+name).Msg("stopping and removing container")
	err := c.cli.ContainerRemove(ctx, containerPrefix+name, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return err
	}
	return nil
}

func (c *Client) ensureImage(ctx context.Context, img string) error {
	_, err := c.cli.ImageInspect(ctx, img)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("image inspect: %w", err)
	}

	c.lg.Info().Str("image", img).Msg("pulling image from registry")
	rc, err := c.cli.ImagePull(ctx, img, image.PullOptions{RegistryAuth: c.authHeader})
	if err != nil {
		return fmt.Errorf("image pull: %w", err)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)

	return nil
}

func containerEnv(m *functions.Manifest) []string {
	env := []string{"FUNCTION_TIMEOUT_SECONDS=" + strconv.Itoa(m.TimeoutSeconds)}
	for k, v := range m.Env {
		env = append(env, k+"="+v)
	}
	return env
}
