// Package transcript merges the user's and the agent's live transcript
// streams into one time-ordered conversation log.
package transcript

import (
	"sort"

	"concierge-widget/internal/models"
)

// Merge tags each sequence with its speaker, concatenates user then agent
// segments and stable-sorts the result by FirstReceivedTime.
//
// Equal timestamps are ordered by insertion sequence (Seq). Segments that
// share both timestamp and Seq keep concatenation order. The inputs are not
// modified.
func Merge(user, agent []models.TranscriptSegment) []models.TranscriptSegment {
	out := make([]models.TranscriptSegment, 0, len(user)+len(agent))
	for _, s := range user {
		s.Speaker = models.SpeakerUser
		out = append(out, s)
	}
	for _, s := range agent {
		s.Speaker = models.SpeakerAgent
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return before(out[i], out[j])
	})
	return out
}

func before(a, b models.TranscriptSegment) bool {
	if !a.FirstReceivedTime.Equal(b.FirstReceivedTime) {
		return a.FirstReceivedTime.Before(b.FirstReceivedTime)
	}
	return a.Seq < b.Seq
}

// IsOrdered reports whether log is non-decreasing by FirstReceivedTime.
func IsOrdered(log []models.TranscriptSegment) bool {
	for i := 1; i < len(log); i++ {
		if log[i].FirstReceivedTime.Before(log[i-1].FirstReceivedTime) {
			return false
		}
	}
	return true
}

// Split separates a merged log back into its user and agent sequences,
// preserving relative order.
func Split(log []models.TranscriptSegment) (user, agent []models.TranscriptSegment) {
	for _, s := range log {
		switch s.Speaker {
		case models.SpeakerUser:
			user = append(user, s)
		case models.SpeakerAgent:
			agent = append(agent, s)
		}
	}
	return user, agent
}
