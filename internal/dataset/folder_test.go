package dataset

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeClip writes n solid-colour frames; frame i has red = 20*i.
func writeClip(t *testing.T, root, id string, n, w, h int) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.Set(x, y, color.RGBA{R: uint8(20 * i), G: 128, B: 255, A: 255})
			}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%05d.jpg", i+1)))
		require.NoError(t, err)
		require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 100}))
		require.NoError(t, f.Close())
	}
}

func fixtureFolder(t *testing.T, sampler Sampler, transform Transform) *VideoFolder {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "rgb")
	writeClip(t, root, "vidA", 3, 12, 8)
	writeClip(t, root, "vidB", 6, 12, 8)

	input := writeFile(t, dir, "train.csv", "vidA,open,Kitchen\nvidB,close,Garage\n")
	actions := writeFile(t, dir, "actions.csv", "open\nclose\n")
	scenes := writeFile(t, dir, "scenes.csv", "Garage\nKitchen\n")

	ann, err := LoadAnnotations(AnnotationFiles{Input: input, Actions: actions, Scenes: scenes, Root: root})
	require.NoError(t, err)

	vf, err := NewVideoFolder(ann, VideoFolderConfig{Sampler: sampler, Transform: transform})
	require.NoError(t, err)
	return vf
}

func TestVideoFolderGet(t *testing.T) {
	vf := fixtureFolder(t, Sampler{ClipSize: 4, NClips: 1, StepSize: 1, IsVal: true},
		Compose{Resize{H: 6, W: 6}, CenterCrop{Size: 4}})
	require.Equal(t, 2, vf.Len())

	s, err := vf.Get(0)
	require.NoError(t, err)
	assert.Equal(t, [4]int{3, 4, 4, 4}, s.Clip.Shape())
	assert.Equal(t, 0, s.ActionIdx)
	assert.Equal(t, 1, s.SceneIdx)

	// the last of three frames is repeated as padding
	assert.InDelta(t, 40.0/255, s.Clip.At(0, 2, 1, 1), 0.03)
	assert.InDelta(t, 40.0/255, s.Clip.At(0, 3, 1, 1), 0.03)
	assert.InDelta(t, 128.0/255, s.Clip.At(1, 0, 0, 0), 0.03)
	assert.InDelta(t, 1.0, s.Clip.At(2, 3, 3, 3), 0.03)

	s, err = vf.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ActionIdx)
	assert.Equal(t, 0, s.SceneIdx)
	assert.InDelta(t, 60.0/255, s.Clip.At(0, 3, 0, 0), 0.03)

	_, err = vf.Get(2)
	assert.Error(t, err)
}

func TestVideoFolderTrainingOffset(t *testing.T) {
	vf := fixtureFolder(t, Sampler{ClipSize: 2, NClips: 1, StepSize: 1, Rand: rand.New(rand.NewSource(3))}, nil)
	starts := map[string]bool{}
	for i := 0; i < 100; i++ {
		paths, err := vf.FramePaths(1)
		require.NoError(t, err)
		require.Len(t, paths, 2)
		starts[filepath.Base(paths[0])] = true
	}
	assert.Len(t, starts, 4)
}

func TestVideoFolderMissingFrames(t *testing.T) {
	vf := fixtureFolder(t, Sampler{ClipSize: 2, NClips: 1, StepSize: 1}, nil)
	require.NoError(t, os.RemoveAll(vf.ann.Clips[0].Path))

	_, err := vf.Get(0)
	assert.Error(t, err)
}

func TestVideoFolderUnknownLabel(t *testing.T) {
	vf := fixtureFolder(t, Sampler{ClipSize: 2, NClips: 1, StepSize: 1}, nil)
	vf.ann.Clips[0].Scene = "Attic"

	_, err := vf.Get(0)
	assert.ErrorIs(t, err, ErrUnknownLabel)
}

func TestNewVideoFolderRejectsBadSampler(t *testing.T) {
	_, err := NewVideoFolder(&Annotations{}, VideoFolderConfig{Sampler: Sampler{ClipSize: 0, NClips: 1, StepSize: 1}})
	assert.Error(t, err)
}

func TestCenterCropPadsSmallFrames(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			src.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	out := ToTensor(CenterCrop{Size: 4}.Apply(src))
	assert.Equal(t, float32(0), out.At(0, 0, 0))
	assert.Equal(t, float32(1), out.At(0, 1, 1))
	assert.Equal(t, float32(1), out.At(0, 2, 2))
	assert.Equal(t, float32(0), out.At(0, 3, 3))
}
