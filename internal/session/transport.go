package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/voxface/pkg/convai"
)

// Transport is the part of a [convai.Conn] the conversation drives.
type Transport interface {
	ConversationID() string
	AgentSampleRate() int
	SendAudio(pcm []byte) error
	SendPong(eventID int64) error
	Close() error
}

var _ Transport = (*convai.Conn)(nil)

// Dialer opens a transport. It must not return before the handshake has
// completed or failed.
type Dialer interface {
	Dial(ctx context.Context, agentID, signedURL string, h convai.Handler) (Transport, error)
}

// ConvaiDialer dials the ElevenLabs conversation endpoint.
type ConvaiDialer struct {
	BaseURL          string
	APIKey           string
	HandshakeTimeout time.Duration
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

var _ Dialer = (*ConvaiDialer)(nil)

// Dial implements [Dialer].
func (d *ConvaiDialer) Dial(ctx context.Context, agentID, signedURL string, h convai.Handler) (Transport, error) {
	conn, err := convai.Dial(ctx, convai.Config{
		AgentID:          agentID,
		SignedURL:        signedURL,
		BaseURL:          d.BaseURL,
		APIKey:           d.APIKey,
		HandshakeTimeout: d.HandshakeTimeout,
		HTTPClient:       d.HTTPClient,
		Logger:           d.Logger,
	}, h)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
