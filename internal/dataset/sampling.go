package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
)

var ErrNoFrames = errors.New("no frames found")

var frameExtensions = map[string]bool{".jpg": true, ".JPG": true, ".jpeg": true, ".JPEG": true}

// FrameNames lists the JPEG frames of a clip directory in lexical order.
func FrameNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[filepath.Ext(e.Name())] {
			continue
		}
		names = append(names, filepath.Join(dir, e.Name()))
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoFrames)
	}
	sort.Strings(names)
	return names, nil
}

// Sampler picks the frames that make up a clip.
//
// A clip needs ClipSize*NClips*StepSize consecutive frames, or every frame when NClips is -1.
// Short videos are padded by repeating their last frame; long training videos start at a random
// offset, validation videos always start at the first frame. Every StepSize-th frame of the
// window is kept.
type Sampler struct {
	ClipSize int
	NClips   int
	StepSize int
	IsVal    bool
	Rand     *rand.Rand
}

func (s Sampler) Validate() error {
	if s.ClipSize <= 0 {
		return fmt.Errorf("clip size must be positive, got %d", s.ClipSize)
	}
	if s.StepSize <= 0 {
		return fmt.Errorf("step size must be positive, got %d", s.StepSize)
	}
	if s.NClips == 0 || s.NClips < -1 {
		return fmt.Errorf("nclips must be positive or -1, got %d", s.NClips)
	}
	return nil
}

// Necessary is the window length a video of n frames is cut or padded to.
func (s Sampler) Necessary(n int) int {
	if s.NClips > -1 {
		return s.ClipSize * s.NClips * s.StepSize
	}
	return n
}

func (s Sampler) Select(frames []string) []string {
	n := len(frames)
	if n == 0 {
		return nil
	}
	necessary := s.Necessary(n)

	window := frames
	offset := 0
	switch {
	case necessary > n:
		window = make([]string, necessary)
		copy(window, frames)
		last := frames[n-1]
		for i := n; i < necessary; i++ {
			window[i] = last
		}
	case necessary < n:
		// [0, diff): the final start position is never drawn.
		if !s.IsVal {
			offset = s.intn(n - necessary)
		}
	}

	step := s.StepSize
	if step <= 0 {
		step = 1
	}
	out := make([]string, 0, (necessary+step-1)/step)
	for i := offset; i < offset+necessary; i += step {
		out = append(out, window[i])
	}
	return out
}

func (s Sampler) intn(n int) int {
	if s.Rand != nil {
		return s.Rand.Intn(n)
	}
	return rand.Intn(n)
}
