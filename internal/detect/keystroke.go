package detect

import (
	"sync"
	"time"

	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/model"
)

// Keystrokes watches pastes, typing cadence and answer-length jumps for one
// question editor.
type Keystrokes struct {
	cfg   Config
	rep   Reporter
	clock interfaces.Clock

	mu            sync.Mutex
	questionID    string
	lastKey       time.Time
	intervals     []time.Duration
	sum           time.Duration
	speedReported bool
	answerLen     int
	rapidChanges  int
}

func NewKeystrokes(cfg Config, rep Reporter, clock interfaces.Clock) *Keystrokes {
	if clock == nil {
		clock = interfaces.SystemClock{}
	}
	return &Keystrokes{cfg: cfg.withDefaults(), rep: rep, clock: clock}
}

// SetQuestion switches the editor to another question. Counters start
// over; the typing-speed report stays at most once per attempt.
func (k *Keystrokes) SetQuestion(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.questionID = id
	k.lastKey = time.Time{}
	k.intervals = k.intervals[:0]
	k.sum = 0
	k.answerLen = 0
	k.rapidChanges = 0
}

// Paste records a paste of length characters.
func (k *Keystrokes) Paste(length int) {
	if length <= k.cfg.PasteMinChars {
		return
	}
	k.mu.Lock()
	q := k.questionID
	k.mu.Unlock()
	k.rep.Report(model.KindLargePaste, model.SeverityMajor, "Large paste detected",
		model.Evidence{Paste: &model.PasteEvidence{Length: length, QuestionID: q}})
}

// KeyDown records a keystroke. Once more than TypingMinKeys intervals are
// known and their rolling average falls below TypingMaxAvg, typing speed is
// reported, once.
func (k *Keystrokes) KeyDown() {
	now := k.clock.Now()
	k.mu.Lock()
	if k.lastKey.IsZero() {
		k.lastKey = now
		k.mu.Unlock()
		return
	}
	d := now.Sub(k.lastKey)
	k.lastKey = now
	k.intervals = append(k.intervals, d)
	k.sum += d
	if len(k.intervals) > k.cfg.TypingWindow {
		k.sum -= k.intervals[0]
		k.intervals = k.intervals[1:]
	}
	n := len(k.intervals)
	avg := k.sum / time.Duration(n)
	if k.speedReported || n <= k.cfg.TypingMinKeys || avg >= k.cfg.TypingMaxAvg {
		k.mu.Unlock()
		return
	}
	k.speedReported = true
	k.mu.Unlock()

	k.rep.Report(model.KindSuspiciousTypingSpeed, model.SeverityMajor, "Unusual typing pattern detected",
		model.Evidence{Typing: &model.TypingEvidence{
			AvgIntervalMillis: float64(avg) / float64(time.Millisecond),
			Keystrokes:        n,
		}})
}

// Input records the answer's new length. Every jump of more than
// RapidChangeChars counts; past RapidChangeMax each further jump is
// reported.
func (k *Keystrokes) Input(length int) {
	k.mu.Lock()
	diff := length - k.answerLen
	if diff < 0 {
		diff = -diff
	}
	k.answerLen = length
	if diff <= k.cfg.RapidChangeChars {
		k.mu.Unlock()
		return
	}
	k.rapidChanges++
	changes := k.rapidChanges
	k.mu.Unlock()

	if changes <= k.cfg.RapidChangeMax {
		return
	}
	k.rep.Report(model.KindRapidAnswerChanges, model.SeverityMajor, "Rapid answer changes detected",
		model.Evidence{Typing: &model.TypingEvidence{AnswerChanges: changes}})
}
