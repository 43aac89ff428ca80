package convert

// floydSteinberg Floyd-Steinberg 误差扩散抖动
//
// 核心点：最近色判断和误差计算都用实测调色板（面板真实显示的颜色），
// 输出却写理论调色板颜色（固件期望的取值），两者按索引对齐。
// 扫描顺序为行主序（逐行、从左到右），误差权重 7/16 右、3/16 左下、
// 5/16 下、1/16 右下，越界的邻居直接跳过。
func floydSteinberg(raster []uint8, width, height int) []uint8 {
	// 浮点工作缓冲，累积扩散误差
	working := make([]float64, len(raster))
	for i, v := range raster {
		working[i] = float64(v)
	}

	out := make([]uint8, len(raster))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 3

			r := clampByte(working[i])
			g := clampByte(working[i+1])
			b := clampByte(working[i+2])

			c := nearestMeasured(r, g, b)

			t := c.TheoreticalColor()
			out[i] = t.R
			out[i+1] = t.G
			out[i+2] = t.B

			// 残差相对实测色计算，而不是理论色
			m := c.MeasuredColor()
			errR := float64(r - int(m.R))
			errG := float64(g - int(m.G))
			errB := float64(b - int(m.B))

			if x+1 < width {
				diffuse(working, i+3, errR, errG, errB, 7.0/16.0)
			}
			if y+1 < height {
				below := ((y+1)*width + x) * 3
				if x > 0 {
					diffuse(working, below-3, errR, errG, errB, 3.0/16.0)
				}
				diffuse(working, below, errR, errG, errB, 5.0/16.0)
				if x+1 < width {
					diffuse(working, below+3, errR, errG, errB, 1.0/16.0)
				}
			}
		}
	}
	return out
}

func diffuse(working []float64, i int, errR, errG, errB, weight float64) {
	working[i] += errR * weight
	working[i+1] += errG * weight
	working[i+2] += errB * weight
}

func clampByte(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return int(v)
}
