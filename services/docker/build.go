package docker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/moby/moby/client"

	"github.com/labelstack/runner/models"
	"github.com/labelstack/runner/services"
)

type buildEntry struct {
	once sync.Once
	err  error
}

// Build produces the image for a service's build source. The image tag is
// derived from a digest of the build context, so descriptors sharing one
// source resolve to the same tag and the image is built at most once per
// run — and not at all when a previous run already produced it.
func (r *DockerRuntime) Build(ctx context.Context, svc *models.ServiceSpec) (string, error) {
	digest, err := contextDigest(svc.Build)
	if err != nil {
		return "", fmt.Errorf("digest build context %q: %w", svc.Build.Context, err)
	}
	tag := services.ImageTag(r.project, digest)

	r.mu.Lock()
	entry, ok := r.builds[tag]
	if !ok {
		entry = &buildEntry{}
		r.builds[tag] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.err = r.buildImage(ctx, svc.Build, tag)
	})
	if entry.err != nil {
		return "", entry.err
	}
	return tag, nil
}

func (r *DockerRuntime) buildImage(ctx context.Context, src models.BuildSource, tag string) error {
	_, err := r.client.ImageInspect(ctx, tag)
	if err == nil {
		r.log.Info("image up to date", "image", tag)
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect image %q: %w", tag, err)
	}

	buildCtx, err := archive.TarWithOptions(src.Context, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("tar build context %q: %w", src.Context, err)
	}
	defer buildCtx.Close()

	r.log.Info("building image", "image", tag, "context", src.Context)
	res, err := r.client.ImageBuild(ctx, buildCtx, client.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfile(src),
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("build image %q: %w", tag, err)
	}
	defer res.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(res.Body, os.Stderr, os.Stderr.Fd(), false, nil); err != nil {
		var jerr *jsonmessage.JSONError
		if errors.As(err, &jerr) {
			return fmt.Errorf("build image %q: %s", tag, jerr.Message)
		}
		return fmt.Errorf("build image %q: %w", tag, err)
	}
	return nil
}

// contextDigest hashes the build recipe path plus the tarred context, giving
// a content-addressed key for the artifact.
func contextDigest(src models.BuildSource) (string, error) {
	tar, err := archive.TarWithOptions(src.Context, &archive.TarOptions{})
	if err != nil {
		return "", err
	}
	defer tar.Close()

	h := sha256.New()
	h.Write([]byte(dockerfile(src)))
	if _, err := io.Copy(h, tar); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}

func dockerfile(src models.BuildSource) string {
	if src.Dockerfile != "" {
		return src.Dockerfile
	}
	return "Dockerfile"
}
