// Package pipeline runs one avatar sync pass: detect change, fetch
// the image, publish it to each configured target, then update the
// persisted avatar record.
package pipeline

import (
	"context"
	"log"

	"github.com/u16-io/avatarsync/detect"
	"github.com/u16-io/avatarsync/target"
)

// Subject is the monitored account, resolved once per run.
type Subject struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
}

// Fetcher downloads the avatar image.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// StateStore holds the last-published avatar reference.
type StateStore interface {
	Last(ctx context.Context) (string, bool, error)
	SetLast(ctx context.Context, ref string) error
}

// CacheLookup returns the locally cached avatar URL for a user, or ""
// when nothing is cached. It backs url-mode detection when the remote
// record cannot be read.
type CacheLookup func(userID string) string

// Outcome records one target's publish attempt.
type Outcome struct {
	Target string
	Err    error
}

// Result is the full outcome of a run.
type Result struct {
	Changed      bool
	Ref          string
	Image        []byte
	FetchErr     error
	Outcomes     []Outcome
	StateUpdated bool
	StateErr     error
}

// Published returns the number of targets that accepted the image.
func (r Result) Published() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the outcomes that ended in error.
func (r Result) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Success reports whether the run completed without any failure.
func (r Result) Success() bool {
	return r.FetchErr == nil && r.StateErr == nil && len(r.Failed()) == 0
}

// Pipeline wires the run's collaborators. Targets are attempted
// sequentially; one target failing never stops the others.
type Pipeline struct {
	Detector detect.Detector
	Fetcher  Fetcher
	State    StateStore
	Cache    CacheLookup
	Targets  []target.Target
}

// Run executes one pass for sub. Under ModeURL an unchanged avatar is
// detected without any download; under ModeHash the image is always
// downloaded first, since the comparison needs its content hash.
func (p *Pipeline) Run(ctx context.Context, sub Subject) Result {
	var res Result

	prev, havePrev, err := p.State.Last(ctx)
	if err != nil {
		log.Printf("[Pipeline] Failed to read avatar record: %v", err)
		// the local cache holds URLs, so it can only answer for
		// url-mode comparisons
		if p.Detector.Mode == detect.ModeURL && p.Cache != nil {
			if cached := p.Cache(sub.ID); cached != "" {
				log.Printf("[Pipeline] Falling back to locally cached avatar URL")
				prev, havePrev = cached, true
			}
		}
		if !havePrev {
			log.Printf("[Pipeline] No previous reference available, treating as first run")
		}
	}
	if !havePrev {
		prev = ""
	}

	if p.Detector.Mode == detect.ModeURL {
		res.Ref = sub.AvatarURL
		if !p.Detector.Changed(prev, res.Ref) {
			return res
		}
		res.Changed = true
		img, err := p.Fetcher.Fetch(ctx, sub.AvatarURL)
		if err != nil {
			res.FetchErr = err
			return res
		}
		res.Image = img
	} else {
		img, err := p.Fetcher.Fetch(ctx, sub.AvatarURL)
		if err != nil {
			res.FetchErr = err
			return res
		}
		res.Ref = detect.HashRef(img)
		if !p.Detector.Changed(prev, res.Ref) {
			return res
		}
		res.Changed = true
		res.Image = img
	}

	for _, t := range p.Targets {
		err := t.Publish(ctx, res.Image)
		if err != nil {
			log.Printf("[Pipeline] Target %s failed: %v", t.Name(), err)
		} else {
			log.Printf("[Pipeline] Target %s updated", t.Name())
		}
		res.Outcomes = append(res.Outcomes, Outcome{Target: t.Name(), Err: err})
	}

	// the record only moves forward once the new avatar is live
	// somewhere, so a fully failed publish run retries next time
	if res.Published() > 0 {
		if err := p.State.SetLast(ctx, res.Ref); err != nil {
			res.StateErr = err
			log.Printf("[Pipeline] Failed to update avatar record: %v", err)
		} else {
			res.StateUpdated = true
		}
	}
	return res
}
