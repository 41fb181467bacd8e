package image_format

type Processor interface {
	// Inspect decodes only the header of data.
	Inspect(data []byte) (*Info, error)
	// Resize scales data to width x height and re-encodes it as PNG.
	Resize(data []byte, width, height int) ([]byte, error)
}
