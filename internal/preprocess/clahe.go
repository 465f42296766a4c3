package preprocess

import (
	"image"
	"math"
)

// CLAHE applies contrast limited adaptive histogram equalization to src.
//
// The image is split into a tilesX by tilesY grid. Each tile gets its own
// equalization table whose histogram bins are clipped at clip times the
// average bin height, with the excess spread evenly over all bins. Output
// pixels blend the tables of the four nearest tile centers bilinearly.
func CLAHE(src *image.Gray, clip float64, tilesX, tilesY int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}
	tilesX = max(1, min(tilesX, w))
	tilesY = max(1, min(tilesY, h))
	tileW := (w + tilesX - 1) / tilesX
	tileH := (h + tilesY - 1) / tilesY
	// Rounding the tile size up can leave trailing grid cells empty.
	tilesX = (w + tileW - 1) / tileW
	tilesY = (h + tileH - 1) / tileH

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			r := image.Rect(tx*tileW, ty*tileH, min((tx+1)*tileW, w), min((ty+1)*tileH, h))
			luts[ty*tilesX+tx] = tileLUT(src, r, clip)
		}
	}

	for y := 0; y < h; y++ {
		ty0, ty1, fy := neighbors(y, tileH, tilesY)
		row := src.Pix[src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y):]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			tx0, tx1, fx := neighbors(x, tileW, tilesX)
			v := row[x]
			top := (1-fx)*float64(luts[ty0*tilesX+tx0][v]) + fx*float64(luts[ty0*tilesX+tx1][v])
			bottom := (1-fx)*float64(luts[ty1*tilesX+tx0][v]) + fx*float64(luts[ty1*tilesX+tx1][v])
			out[x] = saturate((1-fy)*top + fy*bottom)
		}
	}
	return dst
}

// neighbors returns the two tiles whose centers bracket position p along one
// axis, and the weight of the second.
func neighbors(p, size, count int) (int, int, float64) {
	f := (float64(p)+0.5)/float64(size) - 0.5
	i0 := int(math.Floor(f))
	weight := f - float64(i0)
	i1 := i0 + 1
	if i0 < 0 {
		i0, weight = 0, 0
	}
	if i1 > count-1 {
		i1 = count - 1
	}
	if i0 > count-1 {
		i0 = count - 1
	}
	return i0, i1, weight
}

func tileLUT(src *image.Gray, r image.Rectangle, clip float64) [256]uint8 {
	var hist [256]int
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := src.Pix[src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y):]
		for x := r.Min.X; x < r.Max.X; x++ {
			hist[row[x]]++
		}
	}
	area := r.Dx() * r.Dy()

	if clip > 0 {
		limit := max(1, int(clip*float64(area)/256))
		excess := 0
		for i := range hist {
			if hist[i] > limit {
				excess += hist[i] - limit
				hist[i] = limit
			}
		}
		bonus, rest := excess/256, excess%256
		for i := range hist {
			hist[i] += bonus
		}
		if rest > 0 {
			step := max(1, 256/rest)
			for i := 0; i < 256 && rest > 0; i += step {
				hist[i]++
				rest--
			}
		}
	}

	var lut [256]uint8
	scale := 255 / float64(area)
	sum := 0
	for i := range hist {
		sum += hist[i]
		lut[i] = saturate(float64(sum) * scale)
	}
	return lut
}
