package whispercpp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/forPelevin/dejavu/internal/types"
)

type Adapter struct {
	bin   string
	model string
}

func New(binPath, modelPath string) *Adapter {
	return &Adapter{bin: binPath, model: modelPath}
}

// transcriptJSON mirrors the whisper.cpp -oj output shape; confidence comes
// back as per-segment token probability when the binary is new enough.
type transcriptJSON struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"transcription"`
}

func (a *Adapter) Transcribe(ctx context.Context, wavPath, cacheDir string) (types.Transcript, error) {
	outPrefix := filepath.Join(cacheDir, "whisper")
	args := []string{
		"-m", a.model,
		"-f", wavPath,
		"-oj",
		"-of", outPrefix,
	}
	cmd := exec.CommandContext(ctx, a.bin, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper.cpp failed: %w\n%s", err, string(b))
	}

	jb, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return types.Transcript{}, err
	}

	var raw transcriptJSON
	if err := json.Unmarshal(jb, &raw); err != nil {
		return types.Transcript{}, err
	}

	tr := types.Transcript{Segments: make([]types.Segment, 0, len(raw.Transcription))}
	for _, seg := range raw.Transcription {
		conf := seg.Confidence
		if conf == 0 {
			conf = 1
		}
		tr.Segments = append(tr.Segments, types.Segment{
			Start:      float64(seg.Offsets.From) / 1000,
			End:        float64(seg.Offsets.To) / 1000,
			Text:       strings.TrimSpace(seg.Text),
			Confidence: conf,
		})
	}
	return tr, nil
}
