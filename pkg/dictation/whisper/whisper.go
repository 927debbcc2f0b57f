// Package whisper implements [dictation.Transcriber] against a local
// whisper.cpp HTTP server, for operators who want an on-device alternative
// to a cloud dictation API.
//
// Unlike a streaming STT backend, the alternative-dictation bridge already
// hands this transcriber one bounded audio span (sliced out via word
// alignment by pkg/dictation) rather than a live stream, so there is no
// silence detection or buffering to do here — each call is a single batch
// inference request.
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const (
	bitsPerSample     = 16
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g. "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithSampleRate sets the PCM sample rate in Hz of audio passed to
// Transcribe. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(t *Transcriber) { t.sampleRate = rate }
}

// WithHTTPClient overrides the default HTTP client, e.g. to set a custom
// timeout or transport.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) { t.httpClient = c }
}

// Transcriber calls a whisper.cpp server's /inference endpoint to
// transcribe one bounded span of raw 16-bit signed little-endian PCM
// audio. Safe for concurrent use.
type Transcriber struct {
	serverURL  string
	model      string
	sampleRate int
	httpClient *http.Client
}

// New creates a Transcriber that connects to the whisper.cpp HTTP server
// at serverURL (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Transcriber, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("whisper: serverURL must not be empty")
	}
	t := &Transcriber{
		serverURL:  serverURL,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe encodes audio as a WAV file and POSTs it to the whisper.cpp
// /inference endpoint. languageCode, if non-empty, is forwarded as the
// "language" form field; an empty result with no error lets the caller
// keep the local decoder's text, matching what a dictation.Transcriber
// returning "" means.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, languageCode string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	lang := languageCode
	if lang == "" {
		lang = defaultLanguage
	}

	wav := encodeWAV(audio, t.sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if err := mw.WriteField("language", lang); err != nil {
		return "", fmt.Errorf("whisper: write language field: %w", err)
	}
	if t.model != "" {
		if err := mw.WriteField("model", t.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := t.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return result.Text, nil
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
