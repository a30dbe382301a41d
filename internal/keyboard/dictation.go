package keyboard

import (
	"context"
	"errors"
	"time"
)

// dictation is the request for one press of the mic.
type dictation struct {
	gen      uint64
	cancel   context.CancelFunc
	released bool
}

// StartDictation marks dictation active and asks the host for a
// transcript in the background. The transcript replaces the value through
// the same path as typing and clears the dictation flag. Starting again
// supersedes the transcript of an earlier request, as does a new session.
func (c *Controller) StartDictation() error {
	var (
		d   *dictation
		ctx context.Context
		err error
	)
	c.applyTransition(func(s *State) bool {
		if !s.Phase.AcceptsInput() {
			c.stats.DroppedEvents++
			err = ErrNotShown
			return false
		}
		if !s.DictationAvailable {
			err = ErrDictationUnavailable
			return false
		}
		if c.closed {
			err = ErrHostClosed
			return false
		}
		c.dictGen++
		d = &dictation{gen: c.dictGen}
		ctx, d.cancel = context.WithCancel(c.ctx)
		c.dict = d
		c.session.dictations++
		c.stats.DictationsStarted++
		c.wg.Add(1)
		s.DictationActive = true
		return true
	})
	if err != nil {
		c.logger.Debug("dictation not started", "error", err)
		return err
	}

	go c.dictate(ctx, d)
	return nil
}

// EndDictation clears the dictation flag and asks the host to close the
// channel. It is safe to call at any time, any number of times.
//
// The open request may still deliver the transcript the host produces for
// the release. If nothing arrives within the dictation grace the request
// is abandoned, which also closes a channel the host opened only after
// the stop reached it.
func (c *Controller) EndDictation() {
	c.applyTransition(func(s *State) bool {
		if d := c.dict; d != nil && !d.released {
			d.released = true
			if c.dictationGrace > 0 {
				time.AfterFunc(c.dictationGrace, d.cancel)
			} else {
				d.cancel()
			}
		}
		if !s.DictationActive {
			return false
		}
		s.DictationActive = false
		return true
	})
	c.host.StopDictation()
}

func (c *Controller) dictate(ctx context.Context, d *dictation) {
	defer c.wg.Done()
	defer d.cancel()

	var transcript string
	err := c.bounded(ctx, c.dictationTimeout, "dictation", func(ctx context.Context) error {
		var err error
		transcript, err = c.host.StartDictation(ctx)
		return err
	})

	c.mu.Lock()
	if c.dict == d {
		c.dict = nil
	}
	c.mu.Unlock()

	if err != nil {
		c.dictationFailed(d.gen, err)
		return
	}
	c.deliverTranscript(d.gen, transcript)
}

// deliverTranscript applies transcript if gen is still the latest request
// and a session is still accepting input.
func (c *Controller) deliverTranscript(gen uint64, transcript string) {
	applied := c.applyTransition(func(s *State) bool {
		if gen != c.dictGen || !s.Phase.AcceptsInput() {
			return false
		}
		c.change(s, transcript)
		s.DictationActive = false
		c.stats.TranscriptsApplied++
		return true
	})
	if !applied {
		c.logger.Debug("stale transcript discarded", "transcript", transcript)
		return
	}
	c.logger.Debug("transcript applied", "transcript", transcript)
}

// dictationFailed leaves the value alone. The flag is cleared only for the
// latest request, so a failed earlier one does not end a newer one. A
// request abandoned after release or on Close is not a failure.
func (c *Controller) dictationFailed(gen uint64, err error) {
	if errors.Is(err, context.Canceled) {
		c.logger.Debug("dictation abandoned")
		return
	}
	c.applyTransition(func(s *State) bool {
		if gen != c.dictGen || !s.DictationActive {
			return false
		}
		s.DictationActive = false
		return true
	})
	if errors.Is(err, ErrNoTranscript) {
		c.logger.Debug("dictation ended without transcript")
		return
	}
	c.logger.Warn("dictation failed", "error", err)
}
