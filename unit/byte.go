package unit

// Binary byte-size units, for sizes that end up compared against file
// sizes on disk.
const (
	Byte     = 1
	Kibibyte = 1024 * Byte
	Mebibyte = 1024 * Kibibyte
	Gibibyte = 1024 * Mebibyte
)
