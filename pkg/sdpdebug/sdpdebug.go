// Package sdpdebug summarizes session descriptions for logging and can dump
// them to disk for inspection.
package sdpdebug

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/samber/lo"
)

var directions = []string{"sendrecv", "sendonly", "recvonly", "inactive"}

type Media struct {
	Kind       string
	MID        string
	Direction  string
	Codecs     []string
	Candidates int
}

type Summary struct {
	Media           []Media
	Candidates      int
	EndOfCandidates bool
}

// Summarize parses raw and extracts the media sections.
func Summarize(raw string) (Summary, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return Summary{}, fmt.Errorf("parse sdp: %w", err)
	}

	var s Summary
	for _, md := range desc.MediaDescriptions {
		m := Media{
			Kind:      md.MediaName.Media,
			Direction: "sendrecv",
		}

		if mid, ok := md.Attribute(sdp.AttrKeyMID); ok {
			m.MID = mid
		}

		for _, attr := range md.Attributes {
			switch {
			case attr.Key == sdp.AttrKeyCandidate:
				m.Candidates++
			case attr.Key == sdp.AttrKeyEndOfCandidates:
				s.EndOfCandidates = true
			case lo.Contains(directions, attr.Key):
				m.Direction = attr.Key
			}
		}

		m.Codecs = lo.Uniq(lo.FilterMap(md.MediaName.Formats, func(format string, _ int) (string, bool) {
			pt, err := strconv.ParseUint(format, 10, 8)
			if err != nil {
				return "", false
			}
			codec, err := desc.GetCodecForPayloadType(uint8(pt))
			if err != nil {
				return "", false
			}
			return codec.Name, true
		}))

		s.Candidates += m.Candidates
		s.Media = append(s.Media, m)
	}

	return s, nil
}

func (s Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("candidates", s.Candidates),
		slog.Bool("end_of_candidates", s.EndOfCandidates),
	}

	for i, m := range s.Media {
		attrs = append(attrs, slog.Group(strconv.Itoa(i),
			slog.String("kind", m.Kind),
			slog.String("mid", m.MID),
			slog.String("direction", m.Direction),
			slog.String("codecs", strings.Join(m.Codecs, ",")),
		))
	}

	return slog.GroupValue(attrs...)
}

// Log writes a one line summary of raw. Unparseable descriptions are logged
// with the parse error instead.
func Log(logger *slog.Logger, msg, kind, raw string) {
	s, err := Summarize(raw)
	if err != nil {
		logger.Debug(msg, slog.String("type", kind), slog.String("error", err.Error()))
		return
	}

	logger.Debug(msg, slog.String("type", kind), slog.Any("sdp", s))
}

// Dump writes raw to dir under a timestamped file name and returns the path.
func Dump(dir, label, kind, raw string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sdp dump dir: %w", err)
	}

	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, label)

	ts := time.Now().Format("20060102-150405.000")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.sdp", ts, sanitized, strings.ToLower(kind)))

	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		return "", fmt.Errorf("write sdp dump: %w", err)
	}

	return path, nil
}
