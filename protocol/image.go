package protocol

import "bytes"

var (
	pngMagic = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	jpgMagic = []byte{0xff, 0xd8}
	bmpMagic = []byte{0x42, 0x4d}
	gifMagic = []byte{0x47, 0x49, 0x46, 0x38, 0x39}
)

// SniffImageFormat guesses a file extension from the leading bytes of
// image data (captcha and avatar downloads arrive with no usable
// content type). Returns "" when the signature is unknown; the bytes
// are never interpreted beyond the prefix.
func SniffImageFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return ".png"
	case bytes.HasPrefix(data, jpgMagic):
		return ".jpg"
	case bytes.HasPrefix(data, bmpMagic):
		return ".bmp"
	case bytes.HasPrefix(data, gifMagic):
		return ".gif"
	default:
		return ""
	}
}
