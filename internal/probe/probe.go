// Package probe extracts media metadata for uploads. Failures degrade to
// zero values so a missing ffprobe never blocks a delivery.
package probe

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"

	"url-courier/internal/transport"
)

// Prober reports video metadata for a local file.
type Prober interface {
	Probe(ctx context.Context, path string) transport.VideoMeta
}

type ffprobe struct {
	bin    string
	logger *logrus.Entry
}

func NewFFProbe(logger *logrus.Entry) Prober {
	return &ffprobe{bin: "ffprobe", logger: logger}
}

var _ Prober = (*ffprobe)(nil)

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *ffprobe) Probe(ctx context.Context, path string) transport.VideoMeta {
	out, err := exec.CommandContext(ctx, p.bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	).Output()
	if err != nil {
		if p.logger != nil {
			p.logger.WithField("path", path).Debugf("ffprobe failed: %v", err)
		}
		return transport.VideoMeta{}
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return transport.VideoMeta{}
	}

	var meta transport.VideoMeta
	if secs, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		meta.Duration = int(secs)
	}
	for _, stream := range parsed.Streams {
		if stream.CodecType == "video" {
			meta.Width = stream.Width
			meta.Height = stream.Height
			break
		}
	}
	return meta
}
