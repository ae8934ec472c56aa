package speech

import (
	"encoding/json"
	"testing"

	speechmodel "github.com/echotalk/backend/internal/model/speech"
)

func TestResolveCredentials(t *testing.T) {
	cases := []struct {
		name    string
		cfg     *speechmodel.SpeechConfig
		wantErr bool
	}{
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "missing token", cfg: &speechmodel.SpeechConfig{AppID: "app"}, wantErr: true},
		{name: "missing app id", cfg: &speechmodel.SpeechConfig{AccessToken: "token"}, wantErr: true},
		{name: "whitespace only", cfg: &speechmodel.SpeechConfig{AppID: "  ", AccessToken: "token"}, wantErr: true},
		{name: "valid", cfg: &speechmodel.SpeechConfig{AppID: " app ", AccessToken: " token "}, wantErr: false},
	}

	for _, tc := range cases {
		appID, token, err := resolveCredentials(tc.cfg)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		if appID != "app" || token != "token" {
			t.Errorf("%s: credentials not trimmed: %q %q", tc.name, appID, token)
		}
	}
}

func TestASRResourceID(t *testing.T) {
	if got := asrResourceID(true); got != "volc.bigasr.sauc.concurrent" {
		t.Fatalf("concurrent resource = %q", got)
	}
	if got := asrResourceID(false); got != "volc.bigasr.sauc.duration" {
		t.Fatalf("duration resource = %q", got)
	}
}

func TestASRServerMessageTranscript(t *testing.T) {
	var msg asrServerMessage
	if msg.transcript() != "" {
		t.Fatal("empty message should yield empty transcript")
	}

	msg.Result.Text = "今天天气很好"
	if got := msg.transcript(); got != "今天天气很好" {
		t.Fatalf("transcript = %q", got)
	}

	// Text 为空时退回 utterances 拼接。
	raw := `{"result":{"text":"","utterances":[{"text":"今天天气很好"},{"text":"我们去公园吧"}]}}`
	var fromUtterances asrServerMessage
	if err := json.Unmarshal([]byte(raw), &fromUtterances); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := fromUtterances.transcript(); got != "今天天气很好 我们去公园吧" {
		t.Fatalf("transcript = %q", got)
	}
}
