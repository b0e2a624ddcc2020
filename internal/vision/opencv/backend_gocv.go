//go:build gocv

package opencv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"chart-rsi/internal/vision"
)

// Backend runs Canny and external contour retrieval through OpenCV.
type Backend struct {
	low  float32
	high float32
}

// New returns a Backend with the given hysteresis thresholds.
func New(low, high float64) (*Backend, error) {
	return &Backend{low: float32(low), high: float32(high)}, nil
}

// Extract implements vision.EdgeExtractor: gray, 5×5 Gaussian (sigma from
// kernel size), Canny.
func (b *Backend) Extract(img image.Image) *vision.EdgeMap {
	r := img.Bounds()
	w, h := r.Dx(), r.Dy()
	if w == 0 || h == 0 {
		return vision.NewEdgeMap(w, h)
	}

	bgr, err := imageToMat(img)
	if err != nil {
		return vision.NewEdgeMap(w, h)
	}
	defer bgr.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, b.low, b.high)

	em := vision.NewEdgeMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if edges.GetUCharAt(y, x) != 0 {
				em.Set(x, y, true)
			}
		}
	}
	return em
}

// Find implements vision.ContourFinder with RETR_EXTERNAL and uncompressed
// chains.
func (b *Backend) Find(em *vision.EdgeMap) []vision.Contour {
	if em.Width == 0 || em.Height == 0 {
		return nil
	}
	mat := gocv.NewMatWithSize(em.Height, em.Width, gocv.MatTypeCV8U)
	defer mat.Close()
	for y := 0; y < em.Height; y++ {
		for x := 0; x < em.Width; x++ {
			if em.At(x, y) {
				mat.SetUCharAt(y, x, 255)
			}
		}
	}

	pv := gocv.FindContours(mat, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer pv.Close()

	chains := pv.ToPoints()
	out := make([]vision.Contour, len(chains))
	for i, c := range chains {
		out[i] = vision.Contour{Points: c}
	}
	return out
}

func imageToMat(img image.Image) (gocv.Mat, error) {
	r := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			rgba.Set(x, y, img.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	mat, err := gocv.NewMatFromBytes(r.Dy(), r.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("opencv: mat from image: %w", err)
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}
