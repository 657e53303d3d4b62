package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"faas-controller/internal/core/functions"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
)

// Build packages source on top of the runtime's base image, tags it by content and pushes
// it to the registry. Identical source for the same runtime yields the same reference.
func (c *Client) Build(ctx context.Context, runtime string, source []byte) (string, error) {
	info, ok := functions.LookupRuntime(runtime)
	if !ok {
		return "", fmt.Errorf("%w: unsupported runtime %q", functions.ErrBuild, runtime)
	}
	if len(source) == 0 {
		return "", fmt.Errorf("%w: empty source", functions.ErrBuild)
	}

	ref := imageRef(c.cfg.RegistryURL, c.cfg.RegistryProject, runtime, source)
	buildCtx, err := buildContext(c.cfg.RuntimeImagePrefix+runtime+":latest", info.HandlerFile, source)
	if err != nil {
		return "", fmt.Errorf("%w: %v", functions.ErrBuild, err)
	}

	lg := c.lg.With().Str("runtime", runtime).Str("image", ref).Logger()
	lg.Info().Msg("building function image")

	resp, err := c.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{ref},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
		PullParent:  true,
		Labels:      map[string]string{functions.LabelRuntime: runtime},
	})
	if err != nil {
		return "", fmt.Errorf("%w: docker build: %v", functions.ErrBuild, err)
	}
	defer resp.Body.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return "", fmt.Errorf("%w: docker build: %v", functions.ErrBuild, err)
	}

	rc, err := c.cli.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: c.authHeader})
	if err != nil {
		return "", fmt.Errorf("%w: image push: %v", functions.ErrBuild, err)
	}
	defer rc.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return "", fmt.Errorf("%w: image push: %v", functions.ErrBuild, err)
	}

	lg.Info().Msg("function image pushed")
	return ref, nil
}

// imageRef tags images by a digest of the source so rebuilds of unchanged code are no-ops
// in the registry.
func imageRef(registryURL, project, runtime string, source []byte) string {
	sum := sha256.Sum256(source)
	repo := strings.NewReplacer(".", "-").Replace(runtime)
	return fmt.Sprintf("%s/%s/%s:%s", strings.TrimSuffix(registryURL, "/"), project, repo, hex.EncodeToString(sum[:])[:16])
}

// buildContext returns a tar stream holding a Dockerfile and the handler source.
func buildContext(baseImage, handlerFile string, source []byte) (io.Reader, error) {
	dockerfile := fmt.Sprintf("FROM %s\nCOPY %s /app/%s\n", baseImage, handlerFile, handlerFile)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	files := []struct {
		name string
		data []byte
	}{
		{"Dockerfile", []byte(dockerfile)},
		{handlerFile, source},
	}
	modTime := time.Unix(0, 0)
	for _, f := range files {
		hdr := &tar.Header{
			Name:    f.name,
			Mode:    0o644,
			Size:    int64(len(f.data)),
			ModTime: modTime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write tar header %s: %w", f.name, err)
		}
		if _, err := tw.Write(f.data); err != nil {
			return nil, fmt.Errorf("write tar entry %s: %w", f.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close build context: %w", err)
	}
	return &buf, nil
}
