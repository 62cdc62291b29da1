package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxface/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name: "minimal conversation",
			yaml: "conversation:\n  agent_id: a\n",
		},
		{
			name:    "missing agent id",
			yaml:    "server:\n  log_level: info\n",
			wantErr: []string{"conversation.agent_id is required"},
		},
		{
			name: "bad log level and format",
			yaml: `
server:
  log_level: loud
  log_format: xml
conversation:
  agent_id: a
`,
			wantErr: []string{"server.log_level", "server.log_format"},
		},
		{
			name: "rates out of range",
			yaml: `
conversation:
  agent_id: a
  capture_rate: 4000
  playback_rate: 96000
`,
			wantErr: []string{"capture_rate 4000", "playback_rate 96000"},
		},
		{
			name: "volume out of range",
			yaml: `
conversation:
  agent_id: a
  volume: 1.5
`,
			wantErr: []string{"conversation.volume"},
		},
		{
			name: "zero volume is a valid mute",
			yaml: `
conversation:
  agent_id: a
  volume: 0
`,
		},
		{
			name: "negative durations",
			yaml: `
conversation:
  agent_id: a
  frame_duration: -20ms
  fade_duration: -1s
`,
			wantErr: []string{"frame_duration", "fade_duration"},
		},
		{
			name: "backoff above cap",
			yaml: `
conversation:
  agent_id: a
  retry:
    backoff: 1m
    max_backoff: 10s
`,
			wantErr: []string{"exceeds max_backoff"},
		},
		{
			name: "avatar without url",
			yaml: `
conversation:
  agent_id: a
avatar:
  enabled: true
`,
			wantErr: []string{"avatar.url is required"},
		},
		{
			name: "odd chunk size",
			yaml: `
conversation:
  agent_id: a
avatar:
  chunk_bytes: 5999
`,
			wantErr: []string{"avatar.chunk_bytes 5999"},
		},
		{
			name: "push to talk without providers",
			yaml: `
push_to_talk:
  enabled: true
`,
			wantErr: []string{"providers.stt", "providers.llm", "providers.tts"},
		},
		{
			name: "push to talk without outputs",
			yaml: `
audio:
  disable_playback: true
providers:
  stt: {name: openai}
  llm: {name: openai}
  tts: {name: elevenlabs}
push_to_talk:
  enabled: true
`,
			wantErr: []string{"needs an output"},
		},
		{
			name: "push to talk replaces agent",
			yaml: `
providers:
  stt: {name: whisper, base_url: "http://localhost:8080"}
  llm: {name: anyllm, options: {backend: ollama}}
  tts: {name: elevenlabs}
push_to_talk:
  enabled: true
  temperature: 0.2
`,
		},
		{
			name: "temperature out of range",
			yaml: `
conversation:
  agent_id: a
push_to_talk:
  temperature: 3
`,
			wantErr: []string{"push_to_talk.temperature"},
		},
		{
			name: "fallback without primary",
			yaml: `
conversation:
  agent_id: a
providers:
  llm_fallbacks:
    - name: openai
    - model: gpt-4o
`,
			wantErr: []string{"providers.llm_fallbacks requires providers.llm", "llm_fallbacks[1].name is required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_UnknownProviderNameOnlyWarns(t *testing.T) {
	t.Parallel()
	yaml := `
conversation:
  agent_id: a
providers:
  stt:
    name: deepgram
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should not fail validation: %v", err)
	}
}

func TestValidate_SignedURLWithoutKeyOnlyWarns(t *testing.T) {
	t.Parallel()
	yaml := `
conversation:
  agent_id: a
  signed_url: true
  api_key_env: VOXFACE_UNSET_KEY_FOR_TEST
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("missing key should only warn: %v", err)
	}
}
