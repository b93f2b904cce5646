// Package tensor holds the dense float32 clip layout shared by the data loader and the model.
package tensor

import "fmt"

// Clip is a video clip laid out channel-major: C x T x H x W.
type Clip struct {
	C, T, H, W int
	Data       []float32
}

func NewClip(c, t, h, w int) *Clip {
	return &Clip{C: c, T: t, H: h, W: w, Data: make([]float32, c*t*h*w)}
}

// Frame is a single decoded image laid out C x H x W.
type Frame struct {
	C, H, W int
	Data    []float32
}

func NewFrame(c, h, w int) *Frame {
	return &Frame{C: c, H: h, W: w, Data: make([]float32, c*h*w)}
}

func (f *Frame) At(c, y, x int) float32 {
	return f.Data[(c*f.H+y)*f.W+x]
}

func (f *Frame) Set(c, y, x int, v float32) {
	f.Data[(c*f.H+y)*f.W+x] = v
}

func (c *Clip) index(ch, t, y, x int) int {
	return ((ch*c.T+t)*c.H+y)*c.W + x
}

func (c *Clip) At(ch, t, y, x int) float32 {
	return c.Data[c.index(ch, t, y, x)]
}

// Stack builds a clip from frames of identical shape, placing frame i at time step i.
func Stack(frames []*Frame) (*Clip, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("stack: no frames")
	}
	f0 := frames[0]
	clip := NewClip(f0.C, len(frames), f0.H, f0.W)
	plane := f0.H * f0.W
	for t, f := range frames {
		if f.C != f0.C || f.H != f0.H || f.W != f0.W {
			return nil, fmt.Errorf("stack: frame %d is %dx%dx%d, want %dx%dx%d", t, f.C, f.H, f.W, f0.C, f0.H, f0.W)
		}
		for ch := 0; ch < f.C; ch++ {
			copy(clip.Data[clip.index(ch, t, 0, 0):clip.index(ch, t, 0, 0)+plane], f.Data[ch*plane:(ch+1)*plane])
		}
	}
	return clip, nil
}

func (c *Clip) Shape() [4]int { return [4]int{c.C, c.T, c.H, c.W} }

func (c *Clip) String() string {
	return fmt.Sprintf("Clip[%d x %d x %d x %d]", c.C, c.T, c.H, c.W)
}
