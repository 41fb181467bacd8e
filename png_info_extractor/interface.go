package png_info_extractor

type Extractor interface {
	// Parameters returns the generation parameters a WebUI stores in the
	// "parameters" text chunk.
	Parameters() (string, bool)
	// Text returns every textual chunk by keyword.
	Text() map[string]string
}
