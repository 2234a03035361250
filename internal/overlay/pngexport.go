package overlay

import (
	"fmt"
	stdimage "image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ExportSlicePNG writes a single axial (Z) slice of vol as a PNG,
// with a "<study-id> slice Z/total" caption burned into the top of the
// frame, adapted from dicomforge's 2-D DICOM slice text-overlay
// drawing code.
func ExportSlicePNG(vol *Volume, z int, studyID string, w io.Writer) error {
	if z < 0 || z >= vol.Shape[2] {
		return fmt.Errorf("overlay: slice index %d out of range [0,%d)", z, vol.Shape[2])
	}

	width, height := vol.Shape[0], vol.Shape[1]
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b := vol.At(x, y, z)
			img.SetRGBA(x, y, color.RGBA{r, g, b, 255})
		}
	}

	caption := fmt.Sprintf("%s slice %d/%d", studyID, z+1, vol.Shape[2])
	drawCaption(img, caption)

	return png.Encode(w, img)
}

func drawCaption(img *stdimage.RGBA, text string) {
	face := basicfont.Face7x13
	width := img.Bounds().Dx()

	textWidth := font.MeasureString(face, text).Ceil()
	x := (width - textWidth) / 2
	if x < 0 {
		x = 0
	}
	paddingTop := img.Bounds().Dy() / 20
	metrics := face.Metrics()
	y := paddingTop + metrics.Ascent.Ceil()

	drawer := &font.Drawer{Dst: img, Face: face}

	outlineThickness := 1
	drawer.Src = stdimage.NewUniform(color.Black)
	for dx := -outlineThickness; dx <= outlineThickness; dx++ {
		for dy := -outlineThickness; dy <= outlineThickness; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			drawer.Dot = fixed.P(x+dx, y+dy)
			drawer.DrawString(text)
		}
	}

	drawer.Src = stdimage.NewUniform(color.White)
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)
}
