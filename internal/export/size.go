package export

import "fmt"

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatBytes 以 1024 进制输出人类可读的大小，>=100 或单位为 B 时不保留小数。
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	val := float64(n)
	i := 0
	for val >= 1024 && i < len(sizeUnits)-1 {
		val /= 1024
		i++
	}
	if val >= 100 || i == 0 {
		return fmt.Sprintf("%.0f %s", val, sizeUnits[i])
	}
	return fmt.Sprintf("%.1f %s", val, sizeUnits[i])
}
