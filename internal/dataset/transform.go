package dataset

import (
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"

	"github.com/rhsieh91/sife-net/internal/tensor"
	"golang.org/x/image/draw"
)

// ImageLoader opens a frame from disk.
type ImageLoader func(path string) (image.Image, error)

// LoadJPEG decodes a JPEG frame into an RGB(A) image.
func LoadJPEG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	// grayscale and YCbCr frames are converted so every frame has three channels
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}

// Transform is a spatial transform applied to every frame of a clip.
type Transform interface {
	Apply(img image.Image) image.Image
}

type Compose []Transform

func (c Compose) Apply(img image.Image) image.Image {
	for _, t := range c {
		img = t.Apply(img)
	}
	return img
}

// Resize scales a frame to exactly H x W with bilinear interpolation.
type Resize struct {
	H, W int
}

func (r Resize) Apply(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() == r.W && b.Dy() == r.H {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.W, r.H))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// CenterCrop cuts a Size x Size square from the middle of a frame. Frames smaller than the crop
// are zero padded.
type CenterCrop struct {
	Size int
}

func (c CenterCrop) Apply(img image.Image) image.Image {
	b := img.Bounds()
	top := int(math.Round(float64(b.Dy()-c.Size) / 2))
	left := int(math.Round(float64(b.Dx()-c.Size) / 2))
	dst := image.NewRGBA(image.Rect(0, 0, c.Size, c.Size))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(b.Min.X+left, b.Min.Y+top), draw.Src)
	return dst
}

// ToTensor converts a frame into a 3 x H x W tensor with values in [0, 1].
func ToTensor(img image.Image) *tensor.Frame {
	b := img.Bounds()
	f := tensor.NewFrame(3, b.Dy(), b.Dx())
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				i := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
				px := rgba.Pix[i : i+3]
				f.Set(0, y, x, float32(px[0])/255)
				f.Set(1, y, x, float32(px[1])/255)
				f.Set(2, y, x, float32(px[2])/255)
			}
		}
		return f
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			f.Set(0, y, x, float32(r)/0xffff)
			f.Set(1, y, x, float32(g)/0xffff)
			f.Set(2, y, x, float32(bl)/0xffff)
		}
	}
	return f
}
