// Package validation содержит чистые проверки содержимого пакетов:
// сигнатуры контейнеров по расширению и контрольные суммы
package validation

import (
	"bytes"
	"path"
	"strings"
)

// HeaderLength - сколько байт из начала объекта нужно для проверки сигнатуры
const HeaderLength = 16

var (
	zipFamily = [][]byte{
		{'P', 'K', 0x03, 0x04},
		{'P', 'K', 0x05, 0x06}, // пустой архив
		{'P', 'K', 0x07, 0x08}, // spanned
	}

	oleCompound  = [][]byte{{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}}
	peExecutable = [][]byte{{'M', 'Z'}}
	arArchive    = [][]byte{[]byte("!<arch>\n")}
	rpmPackage   = [][]byte{{0xED, 0xAB, 0xEE, 0xDB}}
	gzipStream   = [][]byte{{0x1F, 0x8B}}
	elfBinary    = [][]byte{{0x7F, 'E', 'L', 'F'}}
	xarArchive   = [][]byte{[]byte("xar!")}
	sevenZip     = [][]byte{{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}}
)

// signatures сопоставляет расширение с допустимыми магическими последовательностями
var signatures = map[string][][]byte{
	".zip":        zipFamily,
	".apk":        zipFamily,
	".aab":        zipFamily,
	".xapk":       zipFamily,
	".jar":        zipFamily,
	".ipa":        zipFamily,
	".appx":       zipFamily,
	".appxbundle": zipFamily,
	".msix":       zipFamily,
	".msixbundle": zipFamily,
	".msi":        oleCompound,
	".exe":        peExecutable,
	".deb":        arArchive,
	".rpm":        rpmPackage,
	".gz":         gzipStream,
	".tgz":        gzipStream,
	".appimage":   elfBinary,
	".pkg":        xarArchive,
	".7z":         sevenZip,
}

// MatchesSignature проверяет, что заголовок файла соответствует его расширению.
// Неизвестное расширение не проходит проверку.
func MatchesSignature(filename string, header []byte) bool {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		return false
	}

	magics, ok := signatures[ext]
	if !ok {
		return false
	}

	for _, magic := range magics {
		if bytes.HasPrefix(header, magic) {
			return true
		}
	}
	return false
}

// SupportedExtension сообщает, знаем ли мы сигнатуру для расширения файла
func SupportedExtension(filename string) bool {
	_, ok := signatures[strings.ToLower(path.Ext(filename))]
	return ok
}
