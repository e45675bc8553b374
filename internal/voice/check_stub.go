//go:build !voice

package voice

// CheckSystem reports that capture is not compiled in.
func CheckSystem() string {
	return `Voice System Check
==================

Voice features not compiled in
Build with voice support: go build -tags voice ./cmd/medic
Requires PortAudio: brew install portaudio (macOS) or apt install portaudio19-dev (Linux)
`
}
