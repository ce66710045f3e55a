package image

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/deployerr"
	"github.com/illumination-k/forgectl/pkg/kubernetes"
	"github.com/illumination-k/forgectl/pkg/logging"
)

// Runtime is the container runtime the builder drives
type Runtime interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
	Tag(ctx context.Context, source, target string) error
	Push(ctx context.Context, ref string) error
	ComposeBuild(ctx context.Context, composeFile string, services []string) error
	MinikubeLoad(ctx context.Context, ref string) error
	KindLoad(ctx context.Context, ref, cluster string) error
}

// Builder builds the project's images and delivers them to the target cluster
type Builder struct {
	runtime   Runtime
	tagger    *Tagger
	constants *config.DeploymentConstants
	paths     *config.DeploymentPaths
	services  config.Services
	out       io.Writer
}

// NewBuilder creates a Builder; services selects which infra images take part
func NewBuilder(runtime Runtime, tagger *Tagger, constants *config.DeploymentConstants, paths *config.DeploymentPaths, services config.Services, out io.Writer) *Builder {
	if out == nil {
		out = os.Stdout
	}
	return &Builder{
		runtime:   runtime,
		tagger:    tagger,
		constants: constants,
		paths:     paths,
		services:  services,
		out:       out,
	}
}

// ImageNames returns the app image followed by the enabled infra images
func (b *Builder) ImageNames() []string {
	return append([]string{b.constants.AppImage}, b.constants.InfraImages(b.services)...)
}

// Images returns every image reference under tag
func (b *Builder) Images(tag Tag) []string {
	names := b.ImageNames()
	refs := make([]string, 0, len(names))
	for _, name := range names {
		refs = append(refs, name+":"+tag.String())
	}
	return refs
}

// composeServices returns the compose services to build
func (b *Builder) composeServices() []string {
	services := []string{"app", "worker"}
	if b.services.Redis {
		services = append(services, "redis")
	}
	if b.services.Temporal {
		services = append(services, "temporal", "temporal-web")
	}
	if b.services.BundledPostgres {
		services = append(services, "postgres")
	}
	return services
}

// BuildAndTag computes the content tag and makes sure every image exists under it.
// The build is skipped when all images already exist with that tag.
func (b *Builder) BuildAndTag(ctx context.Context) (Tag, error) {
	fmt.Fprintln(b.out, "🔨 Building Docker images...")

	tag, err := b.tagger.ContentTag(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to compute image tag: %w", err)
	}
	fmt.Fprintf(b.out, "   Using image tag: %s\n", tag)

	allExist, err := b.allImagesExist(ctx, tag)
	if err != nil {
		return "", err
	}
	if allExist {
		fmt.Fprintf(b.out, "✓ All images with tag %s already exist, skipping build\n", tag)
		return tag, nil
	}

	if err := b.runtime.ComposeBuild(ctx, b.paths.ComposeFile, b.composeServices()); err != nil {
		return "", deployerr.Wrap(err, "Docker image build failed",
			"Check the build output above for the failing step.\n"+
				"Build manually to reproduce:\n"+
				"  docker compose -f "+b.paths.ComposeFile+" build")
	}

	appLatest := b.constants.AppImage + ":latest"
	if err := b.runtime.Tag(ctx, appLatest, b.constants.AppImage+":"+tag.String()); err != nil {
		return "", err
	}

	for _, infra := range b.constants.InfraImages(b.services) {
		latest := infra + ":latest"
		exists, err := b.runtime.ImageExists(ctx, latest)
		if err != nil {
			return "", err
		}
		if !exists {
			logging.Warn("image", "infra image %s not built, skipping retag", latest)
			continue
		}
		if err := b.runtime.Tag(ctx, latest, infra+":"+tag.String()); err != nil {
			return "", err
		}
		logging.Debug("image", "tagged %s:%s", infra, tag)
	}

	fmt.Fprintf(b.out, "✓ Docker images built and tagged: %s\n", tag)
	return tag, nil
}

func (b *Builder) allImagesExist(ctx context.Context, tag Tag) (bool, error) {
	for _, ref := range b.Images(tag) {
		exists, err := b.runtime.ImageExists(ctx, ref)
		if err != nil {
			return false, err
		}
		if !exists {
			logging.Debug("image", "image %s not found, will rebuild", ref)
			return false, nil
		}
	}
	return true, nil
}

// CheckDelivery fails fast when images cannot reach the cluster
func CheckDelivery(cluster kubernetes.ClusterTarget, registry string) error {
	if cluster.Type == kubernetes.ClusterRemote && registry == "" {
		return deployerr.New(
			fmt.Sprintf("Remote cluster '%s' detected but no registry specified", cluster.Context),
			"Use --registry to push images to a container registry.\nExample: --registry ghcr.io/myuser",
		)
	}
	return nil
}

// LoadIntoCluster makes every image under tag available to the cluster
func (b *Builder) LoadIntoCluster(ctx context.Context, tag Tag, cluster kubernetes.ClusterTarget, registry string) error {
	if err := CheckDelivery(cluster, registry); err != nil {
		return err
	}

	images := b.Images(tag)

	switch cluster.Type {
	case kubernetes.ClusterMinikube:
		fmt.Fprintln(b.out, "📦 Loading images into Minikube...")
		for _, ref := range images {
			if err := b.runtime.MinikubeLoad(ctx, ref); err != nil {
				return err
			}
		}
		fmt.Fprintf(b.out, "✓ Images loaded into Minikube with tag: %s\n", tag)

	case kubernetes.ClusterKind:
		fmt.Fprintf(b.out, "📦 Loading images into Kind cluster %s...\n", cluster.KindCluster)
		for _, ref := range images {
			if err := b.runtime.KindLoad(ctx, ref, cluster.KindCluster); err != nil {
				return err
			}
		}
		fmt.Fprintf(b.out, "✓ Images loaded into Kind with tag: %s\n", tag)

	case kubernetes.ClusterRemote:
		fmt.Fprintf(b.out, "📦 Pushing images to %s...\n", registry)
		for _, ref := range images {
			remote := RegistryRef(registry, ref)
			if err := b.runtime.Tag(ctx, ref, remote); err != nil {
				return err
			}
			if err := b.runtime.Push(ctx, remote); err != nil {
				return deployerr.Wrap(err, fmt.Sprintf("Failed to push %s", remote),
					"Make sure you are logged in to the registry:\n  docker login "+registryHost(registry))
			}
		}
		fmt.Fprintf(b.out, "✓ Images pushed to %s\n", registry)

	default:
		return fmt.Errorf("unsupported cluster type %v", cluster.Type)
	}

	return nil
}

// RegistryRef prefixes a local image reference with registry
func RegistryRef(registry, ref string) string {
	return strings.TrimSuffix(registry, "/") + "/" + ref
}

func registryHost(registry string) string {
	host, _, _ := strings.Cut(registry, "/")
	return host
}
