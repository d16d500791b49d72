package frames

// Label assigns 8-connected component labels to the non-zero pixels of a
// mask. Background pixels get label 0; components are numbered from 1 in
// raster order of their first pixel.
func Label(mask *Image) *Image {
	out := NewImage(mask.Width, mask.Height)
	w, h := mask.Width, mask.Height
	next := 0.0
	queue := make([]int, 0, 64)
	for start, v := range mask.Pix {
		if v == 0 || out.Pix[start] != 0 {
			continue
		}
		next++
		out.Pix[start] = next
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			p := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			px, py := p%w, p/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					x, y := px+dx, py+dy
					if x < 0 || y < 0 || x >= w || y >= h {
						continue
					}
					q := y*w + x
					if mask.Pix[q] != 0 && out.Pix[q] == 0 {
						out.Pix[q] = next
						queue = append(queue, q)
					}
				}
			}
		}
	}
	return out
}
