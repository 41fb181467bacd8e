package entities

// GenerationResult is produced once per successful backend call and is not
// modified afterwards.
type GenerationResult struct {
	Data       []byte
	Payload    *Payload
	IsNSFW     bool
	InfoString string
	Extension  string
}
