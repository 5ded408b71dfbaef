// Package stt adapts Google Cloud Speech-to-Text as the optional caller
// transcription tap. The tap only observes inbound audio; transcription
// failures never affect the voice path.
package stt

import (
	"context"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain/repositories"
)

// GoogleTranscriber implements repositories.Transcriber with Cloud Speech
// streaming recognition.
type GoogleTranscriber struct {
	logger *zap.Logger
}

// NewGoogleTranscriber creates the transcriber. Credentials come from the
// ambient Google application default credentials.
func NewGoogleTranscriber(logger *zap.Logger) *GoogleTranscriber {
	return &GoogleTranscriber{logger: logger}
}

// OpenStream starts one streaming recognition session.
func (g *GoogleTranscriber) OpenStream(ctx context.Context, cfg repositories.AudioConfig) (repositories.TranscriberStream, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("stt: create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("stt: open recognize stream: %w", err)
	}

	encoding, err := audioEncoding(cfg.Encoding)
	if err != nil {
		_ = stream.CloseSend()
		client.Close()
		return nil, err
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(cfg.SampleRate),
					LanguageCode:    cfg.Language,
				},
				InterimResults: false,
			},
		},
	}); err != nil {
		_ = stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("stt: send streaming config: %w", err)
	}

	ts := &googleStream{
		client:  client,
		stream:  stream,
		results: make(chan string, 8),
		logger:  g.logger,
	}
	go ts.receive()
	return ts, nil
}

type googleStream struct {
	client  *speech.Client
	stream  speechpb.Speech_StreamingRecognizeClient
	results chan string
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Write feeds one chunk of PCM16 audio.
func (s *googleStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stt: stream closed")
	}
	if len(pcm) == 0 {
		return nil
	}
	if err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: pcm,
		},
	}); err != nil {
		return fmt.Errorf("stt: send audio: %w", err)
	}
	return nil
}

// Results emits final transcripts as they arrive. Closed when the stream ends.
func (s *googleStream) Results() <-chan string {
	return s.results
}

// Close ends the send side and releases the client. The receive loop drains
// and closes Results.
func (s *googleStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.stream.CloseSend()
	return s.client.Close()
}

func (s *googleStream) receive() {
	defer close(s.results)
	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.logger.Debug("transcription stream ended", zap.Error(err))
			return
		}
		for _, result := range resp.Results {
			if result.IsFinal && len(result.Alternatives) > 0 {
				s.results <- result.Alternatives[0].Transcript
			}
		}
	}
}

func audioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "LINEAR16", "WAV":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED,
			fmt.Errorf("stt: unsupported encoding %q", encoding)
	}
}

var _ repositories.Transcriber = (*GoogleTranscriber)(nil)
var _ repositories.TranscriberStream = (*googleStream)(nil)
