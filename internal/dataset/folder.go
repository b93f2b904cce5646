package dataset

import (
	"fmt"
	"sync"

	"github.com/rhsieh91/sife-net/internal/tensor"
)

// Sample is one clip with its class indices.
type Sample struct {
	Clip      *tensor.Clip
	ActionIdx int
	SceneIdx  int
}

// Dataset is random access over samples; Get must be safe for concurrent use.
type Dataset interface {
	Len() int
	Get(i int) (Sample, error)
}

// VideoFolder serves clips from per-video frame directories.
type VideoFolder struct {
	ann       *Annotations
	sampler   Sampler
	loader    ImageLoader
	transform Transform

	// guards sampler.Rand, which is not safe for concurrent use
	mu sync.Mutex
}

type VideoFolderConfig struct {
	Sampler   Sampler
	Loader    ImageLoader
	Transform Transform
}

func NewVideoFolder(ann *Annotations, cfg VideoFolderConfig) (*VideoFolder, error) {
	if err := cfg.Sampler.Validate(); err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	if cfg.Loader == nil {
		cfg.Loader = LoadJPEG
	}
	if cfg.Transform == nil {
		cfg.Transform = Compose{}
	}
	return &VideoFolder{ann: ann, sampler: cfg.Sampler, loader: cfg.Loader, transform: cfg.Transform}, nil
}

func (v *VideoFolder) Len() int { return len(v.ann.Clips) }

// FramePaths returns the frames Get would load for clip i.
func (v *VideoFolder) FramePaths(i int) ([]string, error) {
	rec := v.ann.Clips[i]
	frames, err := FrameNames(rec.Path)
	if err != nil {
		return nil, fmt.Errorf("clip %s: %w", rec.ID, err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sampler.Select(frames), nil
}

func (v *VideoFolder) Get(i int) (Sample, error) {
	if i < 0 || i >= len(v.ann.Clips) {
		return Sample{}, fmt.Errorf("index %d out of range [0, %d)", i, len(v.ann.Clips))
	}
	rec := v.ann.Clips[i]

	actionIdx, ok := v.ann.Actions.Index(rec.Action)
	if !ok {
		return Sample{}, fmt.Errorf("clip %s action %q: %w", rec.ID, rec.Action, ErrUnknownLabel)
	}
	sceneIdx, ok := v.ann.Scenes.Index(rec.Scene)
	if !ok {
		return Sample{}, fmt.Errorf("clip %s scene %q: %w", rec.ID, rec.Scene, ErrUnknownLabel)
	}

	paths, err := v.FramePaths(i)
	if err != nil {
		return Sample{}, err
	}

	frames := make([]*tensor.Frame, len(paths))
	for t, p := range paths {
		img, err := v.loader(p)
		if err != nil {
			return Sample{}, fmt.Errorf("clip %s: %w", rec.ID, err)
		}
		frames[t] = ToTensor(v.transform.Apply(img))
	}

	clip, err := tensor.Stack(frames)
	if err != nil {
		return Sample{}, fmt.Errorf("clip %s: %w", rec.ID, err)
	}
	return Sample{Clip: clip, ActionIdx: actionIdx, SceneIdx: sceneIdx}, nil
}
