package dockerfacade

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
)

func danglingFilter() filters.Args {
	return filters.NewArgs(filters.Arg("dangling", "true"))
}

// ImageInfo is the subset of docker image inspect/list data the
// retention sweep needs to decide what is safe to delete.
type ImageInfo struct {
	ID       string
	RepoTags []string
	Created  int64 // unix seconds
	Size     int64
}

// ListImages returns every image present on hc's host, including
// untagged/dangling ones.
func (hc *HostClient) ListImages(ctx context.Context) ([]ImageInfo, error) {
	listed, err := hc.sdk.ImageList(ctx, image.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("dockerfacade: list images on %q: %w", hc.HostID, err)
	}

	out := make([]ImageInfo, 0, len(listed))
	for _, img := range listed {
		out = append(out, ImageInfo{
			ID:       img.ID,
			RepoTags: img.RepoTags,
			Created:  img.Created,
			Size:     img.Size,
		})
	}
	return out, nil
}

// RemoveImage deletes imageID from hc's host. force=false leaves an
// image alone if a (possibly stopped) container still references it,
// matching Docker's own default safety check.
func (hc *HostClient) RemoveImage(ctx context.Context, imageID string, force bool) error {
	_, err := hc.sdk.ImageRemove(ctx, imageID, image.RemoveOptions{Force: force, PruneChildren: true})
	if err != nil {
		return fmt.Errorf("dockerfacade: remove image %q on %q: %w", imageID, hc.HostID, err)
	}
	return nil
}

// PruneDanglingImages removes every untagged (dangling) image on hc's
// host and returns how many bytes were reclaimed.
func (hc *HostClient) PruneDanglingImages(ctx context.Context) (uint64, error) {
	report, err := hc.sdk.ImagesPrune(ctx, danglingFilter())
	if err != nil {
		return 0, fmt.Errorf("dockerfacade: prune dangling images on %q: %w", hc.HostID, err)
	}
	return report.SpaceReclaimed, nil
}
