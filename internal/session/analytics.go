package session

import (
	"encoding/json"
	"strings"

	"github.com/emgflow/emgflow/internal/contraction"
	"github.com/emgflow/emgflow/internal/persistence"
	"github.com/emgflow/emgflow/internal/scoring"
	"github.com/emgflow/emgflow/internal/signal"
)

// ChannelAnalytics is the full analysis output for one channel.
type ChannelAnalytics struct {
	Stats        persistence.EMGChannelStatistics `json:"stats"`
	Contractions []contraction.Contraction        `json:"contractions"`
	Steps        []signal.Step                    `json:"steps"`
}

// Analytics is the complete derived result for one recording. It is what
// the cache stores: replaying it against a new session row reproduces every
// persisted table without recomputation.
type Analytics struct {
	Technical persistence.TechnicalMetadata    `json:"technical"`
	Params    persistence.ProcessingParameters `json:"params"`
	Channels  []ChannelAnalytics               `json:"channels"`
	Score     *scoring.ScoreResult             `json:"score,omitempty"`
	BFR       []persistence.BFRMonitoring      `json:"bfr,omitempty"`
	Settings  persistence.SessionSettings      `json:"settings"`
	GameMeta  map[string]interface{}           `json:"game_meta,omitempty"`
	Warnings  []string                         `json:"warnings,omitempty"`
}

func encodeAnalytics(a *Analytics) (json.RawMessage, error) {
	return json.Marshal(a)
}

func decodeAnalytics(raw json.RawMessage) (*Analytics, error) {
	var a Analytics
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// channelSide classifies a channel as left or right from its label.
// Unlabeled channels alternate, first channel left.
func channelSide(name string, index int) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "left") || strings.HasPrefix(lower, "l_") || strings.HasSuffix(lower, "_l"):
		return "left"
	case strings.Contains(lower, "right") || strings.HasPrefix(lower, "r_") || strings.HasSuffix(lower, "_r"):
		return "right"
	case index%2 == 0:
		return "left"
	default:
		return "right"
	}
}
