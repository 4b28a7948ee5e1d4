// Package imaging описывает обработку скриншотов: определение формата, размеров
// и построение миниатюр. Реализация на libvips лежит в подпакете vips.
package imaging

import "errors"

// Форматы, которые возвращает Processor.Inspect
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// ErrUnsupportedImage - данные не удалось разобрать как изображение
var ErrUnsupportedImage = errors.New("unsupported image")

type Info struct {
	Format string
	Width  int
	Height int
}

type Processor interface {
	// Inspect декодирует заголовок изображения
	Inspect(data []byte) (Info, error)
	// Thumbnail строит JPEG, длинная сторона которого не превышает maxSide
	Thumbnail(data []byte, maxSide int) ([]byte, error)
}

// FitWithin вычисляет размеры с сохранением пропорций; изображение не увеличивается
func FitWithin(width, height, maxSide int) (newWidth, newHeight int) {
	if width <= 0 || height <= 0 || maxSide <= 0 {
		return width, height
	}
	if width <= maxSide && height <= maxSide {
		return width, height
	}

	if width > height {
		newWidth = maxSide
		newHeight = (height * maxSide) / width
	} else {
		newHeight = maxSide
		newWidth = (width * maxSide) / height
	}

	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}
	return
}
